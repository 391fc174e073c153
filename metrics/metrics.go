// Package metrics exposes Prometheus collectors for xorsock connections.
//
// A nil *Collector is valid and records nothing, so callers never need to
// guard their calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Error kinds used as the "kind" label of connection_errors_total.
const (
	KindIO       = "io"
	KindTooLarge = "too_large"
	KindHandler  = "handler"
	KindPanic    = "panic"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "xorsock").
	Namespace string

	// Subsystem is the metrics subsystem, e.g. "server" or "client".
	Subsystem string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "xorsock",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector holds the connection metrics.
type Collector struct {
	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	framesReceived      prometheus.Counter
	emptyFrames         prometheus.Counter
	bytesReceived       prometheus.Counter
	acksSent            prometheus.Counter
	connectionErrors    *prometheus.CounterVec
}

// New registers the collectors and returns them.
func New(opts ...Option) *Collector {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted connections",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "connections_active",
			Help:      "Number of connections currently being handled",
		}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "frames_received_total",
			Help:      "Total number of non-empty frames received",
		}),
		emptyFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "empty_frames_total",
			Help:      "Total number of zero-length frames skipped",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "payload_bytes_received_total",
			Help:      "Total number of obfuscated payload bytes received",
		}),
		acksSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "acks_sent_total",
			Help:      "Total number of acknowledgments written",
		}),
		connectionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "connection_errors_total",
			Help:      "Total number of connections ended by an error, by kind",
		}, []string{"kind"}),
	}
}

// ConnectionOpened counts an accepted connection as active.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsAccepted.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed removes a connection from the active gauge.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Dec()
}

// FrameReceived records one frame of n payload bytes. Empty frames are
// counted separately.
func (c *Collector) FrameReceived(n int) {
	if c == nil {
		return
	}
	if n == 0 {
		c.emptyFrames.Inc()
		return
	}
	c.framesReceived.Inc()
	c.bytesReceived.Add(float64(n))
}

// AckSent counts a written acknowledgment.
func (c *Collector) AckSent() {
	if c == nil {
		return
	}
	c.acksSent.Inc()
}

// Error counts a connection ended by an error of the given kind.
func (c *Collector) Error(kind string) {
	if c == nil {
		return
	}
	c.connectionErrors.WithLabelValues(kind).Inc()
}
