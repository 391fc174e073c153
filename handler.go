package xorsock

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"
)

// AckHandler is the default Handler. It serves every accepted connection
// with a Conn built from the same options and keeps track of the live ones.
//
// The options' Codec is shared by all connections and must be safe for
// concurrent use; FrameCodec is.
type AckHandler struct {
	opts options

	mu          sync.RWMutex
	connections map[string]*Conn
}

// NewAckHandler validates opt once and returns a handler using them for
// every connection.
func NewAckHandler(opt ...Option) (*AckHandler, error) {
	opts, err := buildOptions(opt)
	if err != nil {
		return nil, err
	}
	return &AckHandler{opts: opts, connections: make(map[string]*Conn)}, nil
}

// Handle serves conn until it closes. Errors have already been logged and
// reported through OnError by the time Handle returns.
func (h *AckHandler) Handle(ctx context.Context, conn *net.TCPConn) {
	connID := uuid.NewString()

	opts := h.opts
	opts.logger = withFields(opts.logger, "conn_id", connID)
	c := newConnWithOptions(conn, opts)

	h.addConn(connID, c)
	defer h.deleteConn(connID)

	_ = c.Run(ctx)
}

// Active returns the number of connections currently being served.
func (h *AckHandler) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.connections)
}

// CloseAll closes every live connection.
func (h *AckHandler) CloseAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *AckHandler) addConn(connID string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.opts.logger.Debug("add new conn", "conn_id", connID, "addr", conn.Addr())
	h.connections[connID] = conn
}

func (h *AckHandler) deleteConn(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.connections, connID)
}
