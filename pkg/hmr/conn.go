package hmr

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnState is the lifecycle state of a client connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed is returned when sending to a closed connection.
	ErrClosed = errors.New("hmr: connection closed")

	// ErrBufferFull is returned when a connection's send queue is full.
	ErrBufferFull = errors.New("hmr: send buffer full")
)

// Conn is one connected client as seen by the broadcaster.
//
// Send must never block: implementations queue the payload or fail fast.
type Conn interface {
	ID() string
	State() ConnState
	Send(data []byte) error
	Close() error
}

// wsConn adapts a gorilla WebSocket to Conn with a bounded send queue drained
// by its own writer goroutine.
type wsConn struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	state        atomic.Int32
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newWSConn(conn *websocket.Conn, buffer int, writeTimeout time.Duration) *wsConn {
	c := &wsConn{
		id:           uuid.NewString(),
		conn:         conn,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	c.state.Store(int32(StateOpen))
	return c
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *wsConn) Send(data []byte) error {
	if c.State() != StateOpen {
		return ErrClosed
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}

// writeLoop delivers queued payloads until the connection closes. A failed
// write closes the connection; the registry prunes it on the next broadcast.
func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		}
	}
}

// readLoop keeps the connection alive until the client goes away.
// Clients never send anything meaningful.
func (c *wsConn) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Registry is the set of connected clients.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Add registers c.
func (r *Registry) Add(c Conn) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	r.mu.Unlock()
}

// Remove unregisters the connection with id and returns it.
func (r *Registry) Remove(id string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return c, ok
}

// Snapshot returns the registered connections at this instant.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
