package xorsock

import (
	"time"

	"github.com/Zereker/xorsock/metrics"
	"github.com/Zereker/xorsock/obfuscate"
)

// options holds the configuration for a connection, server side or client side.
type options struct {
	codec   Codec
	logger  Logger
	metrics *metrics.Collector

	key          obfuscate.Key
	keySet       bool
	maxFrameSize uint32        // 0 disables the limit
	idleTimeout  time.Duration // 0 blocks forever

	// onMessage observes every non-empty message before it is acknowledged.
	// On a Client it runs once the message is written, before the
	// acknowledgment is awaited. A non-nil error closes the connection.
	onMessage func(Message) error
	// onError is told about every error that ends a connection, except a
	// normal peer disconnect.
	onError func(error)
}

// Option is a function that configures connection options.
type Option func(*options)

// CustomCodecOption returns an Option that replaces the default FrameCodec.
// KeyOption and MaxFrameSizeOption are ignored when a custom codec is set.
func CustomCodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// KeyOption returns an Option that sets the shared obfuscation key.
// Defaults to obfuscate.DefaultKey.
func KeyOption(key obfuscate.Key) Option {
	return func(o *options) {
		o.key = key
		o.keySet = true
	}
}

// MaxFrameSizeOption returns an Option that rejects frames larger than size.
// The default of 0 accepts any length the prefix can express. The limit also
// applies to acknowledgments, so a size that cannot hold one is refused with
// ErrMaxFrameSizeTooSmall.
func MaxFrameSizeOption(size uint32) Option {
	return func(o *options) {
		o.maxFrameSize = size
	}
}

// IdleTimeoutOption returns an Option that bounds every frame read and write.
// The default of 0 never times out.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// OnMessageOption returns an Option that sets the message observer.
func OnMessageOption(cb func(Message) error) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// OnErrorOption returns an Option that sets the error callback.
func OnErrorOption(cb func(error)) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption returns an Option that records connection events in m.
func MetricsOption(m *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opt []Option) (options, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	return opts, checkOptions(&opts)
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if !opts.keySet {
		opts.key = obfuscate.DefaultKey
	}

	if opts.codec == nil {
		if err := ValidateMaxFrameSize(opts.maxFrameSize); err != nil {
			return err
		}
		codec, err := NewFrameCodec(opts.key, opts.maxFrameSize)
		if err != nil {
			return err
		}
		opts.codec = codec
	}

	if opts.idleTimeout < 0 {
		opts.idleTimeout = 0
	}

	if opts.onMessage == nil {
		opts.onMessage = func(Message) error { return nil }
	}

	if opts.onError == nil {
		opts.onError = func(error) {}
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}
