// Package xorsock implements a length-prefixed, XOR-obfuscated request and
// acknowledgment protocol over TCP.
//
// The server side reads one frame at a time, de-obfuscates it, and answers
// with an "ACK: Received <N> bytes" frame before reading the next one. The
// client side sends a message and blocks until its acknowledgment arrives.
// The obfuscation is not encryption and gives no confidentiality or
// integrity.
package xorsock

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/xorsock/frame"
	"github.com/Zereker/xorsock/metrics"
)

// ErrFrameTooLarge is returned when a frame exceeds the configured maximum size.
var ErrFrameTooLarge = frame.ErrFrameTooLarge

// ErrConnectionClosed is returned when the peer closes the stream in the
// middle of a frame. It marks a normal disconnect, not a failure.
var ErrConnectionClosed = frame.ErrConnectionClosed

// IsConnectionClosed reports whether err is a peer disconnect rather than an
// I/O failure.
func IsConnectionClosed(err error) bool {
	return errors.Is(err, ErrConnectionClosed)
}

// State is the position of a server-side connection in its request loop.
type State int32

const (
	AwaitingFrame State = iota
	Processing
	Replying
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingFrame:
		return "awaiting_frame"
	case Processing:
		return "processing"
	case Replying:
		return "replying"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// handlerError marks a failure returned by the OnMessage callback.
type handlerError struct{ err error }

func (e *handlerError) Error() string { return "on message: " + e.err.Error() }
func (e *handlerError) Unwrap() error { return e.err }

// panicError carries a value recovered from the request loop.
type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// Conn is the server side of one connection. It owns the underlying
// connection exclusively and closes it when Run returns.
type Conn struct {
	rawConn net.Conn
	reader  *bufio.Reader
	logger  Logger

	opts options

	state  atomic.Int32
	closed atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConn creates a server-side connection around conn.
// It applies the provided options and validates them before returning.
func NewConn(conn net.Conn, opt ...Option) (*Conn, error) {
	opts, err := buildOptions(opt)
	if err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

func newConnWithOptions(c net.Conn, opts options) *Conn {
	return &Conn{
		rawConn: c,
		reader:  bufio.NewReader(c),
		logger:  opts.logger,
		opts:    opts,
	}
}

// Run serves requests until the peer disconnects, an error occurs or ctx is
// canceled. The connection is always closed when Run returns.
//
// A peer disconnect returns nil. Cancellation returns the context's error.
// Any other error is reported to the OnError callback and returned.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info("connection established", "addr", c.Addr())
	c.logger.Debug("connection options", "addr", c.Addr(),
		"max_frame_size", c.opts.maxFrameSize,
		"idle_timeout", c.opts.idleTimeout)
	c.opts.metrics.ConnectionOpened()
	defer c.opts.metrics.ConnectionClosed()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	if c.closed.Load() {
		cancel()
	}

	group, child := errgroup.WithContext(ctx)

	group.Go(func() (err error) {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				err = &panicError{value: r}
			}
		}()
		return c.serve(child)
	})

	// Closing the connection is the only way to unblock a pending read.
	group.Go(func() error {
		<-child.Done()
		c.closeConn()
		return nil
	})

	err := group.Wait()
	c.closeConn()
	c.setState(Closed)

	switch {
	case err == nil || IsConnectionClosed(err):
		c.logger.Info("connection closed", "addr", c.Addr())
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		c.logger.Info("connection closed", "addr", c.Addr(), "reason", err)
		return err
	default:
		c.opts.metrics.Error(errorKind(err))
		c.opts.onError(err)
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", err)
		return err
	}
}

// serve is the request loop: await a frame, process it, reply, repeat.
func (c *Conn) serve(ctx context.Context) error {
	for {
		c.setState(AwaitingFrame)
		c.setDeadline(c.rawConn.SetReadDeadline)

		message, err := c.opts.codec.Decode(c.reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug("read error", "addr", c.Addr(), "error", err)
			return err
		}

		c.opts.metrics.FrameReceived(message.Length())
		if message.Length() == 0 {
			c.logger.Debug("empty frame skipped", "addr", c.Addr())
			continue
		}

		c.setState(Processing)
		c.logger.Info("message received", "addr", c.Addr(),
			"bytes", message.Length(),
			"text", message.Text())

		if err = c.opts.onMessage(message); err != nil {
			return &handlerError{err: err}
		}

		c.setState(Replying)
		ack := Acknowledgment(message.Length())
		data, err := c.opts.codec.Encode(NewMessage(ack))
		if err != nil {
			return err
		}

		if err = c.write(data); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.opts.metrics.AckSent()
		c.logger.Info("ack sent", "addr", c.Addr(), "ack", ack)
	}
}

// write sends one encoded frame, retrying short writes.
func (c *Conn) write(data []byte) error {
	c.setDeadline(c.rawConn.SetWriteDeadline)

	err := frame.WriteAll(c.rawConn, data)
	if err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
	}
	return err
}

func (c *Conn) setDeadline(set func(time.Time) error) {
	if c.opts.idleTimeout > 0 {
		_ = set(time.Now().Add(c.opts.idleTimeout))
	}
}

// Close closes the connection and stops Run.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// State returns the current position in the request loop.
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// closeConn marks the connection as closed and closes the underlying connection.
func (c *Conn) closeConn() {
	if !c.closed.Swap(true) {
		_ = c.rawConn.Close()
	}
}

func errorKind(err error) string {
	var (
		he *handlerError
		pe *panicError
	)
	switch {
	case errors.As(err, &pe):
		return metrics.KindPanic
	case errors.As(err, &he):
		return metrics.KindHandler
	case errors.Is(err, ErrFrameTooLarge):
		return metrics.KindTooLarge
	default:
		return metrics.KindIO
	}
}
