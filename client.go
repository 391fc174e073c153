package xorsock

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/xorsock/frame"
)

// Client is the sending side of one connection. Requests are strictly
// sequential: SendAndAwaitAck never returns before the acknowledgment for
// its message has been read, so a Client must not be shared by goroutines
// that expect to interleave requests.
type Client struct {
	rawConn net.Conn
	reader  *bufio.Reader
	logger  Logger

	opts options

	closed atomic.Bool

	mu  sync.Mutex
	err error // first transport failure, returned by every later call
}

// Dial connects to address and returns a Client for it.
func Dial(ctx context.Context, address string, opt ...Option) (*Client, error) {
	opts, err := buildOptions(opt)
	if err != nil {
		return nil, err
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", address)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	return newClientWithOptions(conn, opts), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opt ...Option) (*Client, error) {
	opts, err := buildOptions(opt)
	if err != nil {
		return nil, err
	}
	return newClientWithOptions(conn, opts), nil
}

func newClientWithOptions(c net.Conn, opts options) *Client {
	return &Client{
		rawConn: c,
		reader:  bufio.NewReader(c),
		logger:  opts.logger,
		opts:    opts,
	}
}

// SendAndAwaitAck obfuscates and frames message, writes it, and blocks until
// the acknowledgment frame arrives. It returns the decoded acknowledgment.
//
// Errors follow the framing taxonomy: IsConnectionClosed reports a peer
// disconnect, anything else is an I/O failure. A failed write or read closes
// the Client, and every later call returns that first failure: an
// acknowledgment that arrives late must never answer a newer message.
func (c *Client) SendAndAwaitAck(message string) (string, error) {
	if err := c.failure(); err != nil {
		return "", errors.WithMessage(err, "client failed earlier")
	}
	if c.closed.Load() {
		return "", net.ErrClosed
	}

	data, err := c.opts.codec.Encode(NewMessage(message))
	if err != nil {
		return "", err
	}

	c.setDeadline(c.rawConn.SetWriteDeadline)
	if err = frame.WriteAll(c.rawConn, data); err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
		return "", c.fail(err)
	}
	c.logger.Debug("message sent", "addr", c.Addr(), "bytes", len(data)-frame.PrefixLen)

	if err = c.opts.onMessage(NewMessage(message)); err != nil {
		return "", c.fail(err)
	}

	c.setDeadline(c.rawConn.SetReadDeadline)
	ack, err := c.opts.codec.Decode(c.reader)
	if err != nil {
		c.logger.Debug("read error", "addr", c.Addr(), "error", err)
		return "", c.fail(err)
	}

	text := ack.Text()
	c.logger.Debug("ack received", "addr", c.Addr(), "ack", text)
	return text, nil
}

// Interactive reads lines from in and sends each one with SendAndAwaitAck.
// An empty line or end of input ends the session. prompt, if non-nil, runs
// before every line is read; onAck, if non-nil, receives each exchange.
// The connection is closed when Interactive returns.
func (c *Client) Interactive(in io.Reader, prompt func(), onAck func(message, ack string)) error {
	defer c.Close()

	reader := bufio.NewReader(in)
	for {
		if prompt != nil {
			prompt()
		}

		line, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return errors.Wrap(readErr, "read input")
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return nil
		}

		ack, err := c.SendAndAwaitAck(line)
		if err != nil {
			return err
		}
		if onAck != nil {
			onAck(line, ack)
		}

		if readErr == io.EOF {
			return nil
		}
	}
}

// SendOnce connects to address, sends one message, waits for its
// acknowledgment and closes the connection.
func SendOnce(ctx context.Context, address, message string, opt ...Option) (string, error) {
	client, err := Dial(ctx, address, opt...)
	if err != nil {
		return "", err
	}
	defer client.Close()

	return client.SendAndAwaitAck(message)
}

// fail records the first transport failure and closes the connection, since
// the stream position is unknown from then on.
func (c *Client) fail(err error) error {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	_ = c.Close()
	return err
}

func (c *Client) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) setDeadline(set func(time.Time) error) {
	if c.opts.idleTimeout > 0 {
		_ = set(time.Now().Add(c.opts.idleTimeout))
	}
}

// Close closes the connection. Safe to call multiple times.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.rawConn.Close()
}

// Addr returns the remote address of the connection.
func (c *Client) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}
