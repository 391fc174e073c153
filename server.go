package xorsock

import (
	"context"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/xorsock/metrics"
)

// DefaultPort is the port the server listens on when none is configured.
const DefaultPort = 5000

// Handler is the interface for handling incoming TCP connections.
// Handle runs on its own goroutine and owns conn until it returns.
type Handler interface {
	Handle(ctx context.Context, conn *net.TCPConn)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn *net.TCPConn)

// Handle calls f(ctx, conn).
func (f HandlerFunc) Handle(ctx context.Context, conn *net.TCPConn) {
	f(ctx, conn)
}

// Server accepts TCP connections and dispatches each one to a Handler on a
// goroutine of its own. It never waits on a connection's lifecycle.
type Server struct {
	listener *net.TCPListener
	logger   Logger
	metrics  *metrics.Collector

	mu       sync.Mutex
	shutdown bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerMetricsOption records accept-level failures in m.
func ServerMetricsOption(m *metrics.Collector) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a new TCP server bound to the specified address.
// Returns an error if the address cannot be bound.
//
// The listen backlog is the operating system default (somaxconn on Linux);
// the standard library does not expose it.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: listener,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and dispatches them to handler until ctx is
// canceled or the listener fails. The ctx passed to each Handle call is
// derived from ctx, so canceling it also ends the running handlers.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	go func() {
		<-ctx.Done()

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return net.ErrClosed
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return err
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)
		go s.dispatch(ctx, handler, conn)
	}
}

// dispatch runs one handler. A panicking handler only loses its own
// connection.
func (s *Server) dispatch(ctx context.Context, handler Handler, conn *net.TCPConn) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.Error(metrics.KindPanic)
			s.logger.Error("handler panic", "remote_addr", conn.RemoteAddr(),
				"panic", r, "stack", string(debug.Stack()))
			_ = conn.Close()
		}
	}()
	handler.Handle(ctx, conn)
}

// Close stops the server by closing the underlying listener.
// Any blocked Accept calls will return with an error. Connections already
// dispatched keep running until their own context ends.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
