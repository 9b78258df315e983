// Package registry implements the connection registry (agent connect_id ->
// WebSocket sink) and the pending-request table (tunnel_id -> one-shot
// response deliverer). Both live on the same Connection, which guards
// writes and pending-request bookkeeping for one agent with two separate
// mutexes.
package registry

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cobaltbridge/revtunnel/internal/envelope"
)

// Connection is a single registered agent's sending half plus its own
// pending-request table. The registry hands out *Connection values;
// callers never see the receive half, which is owned solely by the
// reader task spawned at registration.
type Connection struct {
	ConnectID string

	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan envelope.Response
}

// NewConnection wraps a raw WebSocket in a write-mutexed Connection. The
// frontend registry uses this internally; the agent session loop reuses
// it directly for its own single outbound connection, since both sides
// need the same serialize-concurrent-writers guarantee.
func NewConnection(connectID string, conn *websocket.Conn) *Connection {
	return newConnection(connectID, conn)
}

func newConnection(connectID string, conn *websocket.Conn) *Connection {
	return &Connection{
		ConnectID: connectID,
		conn:      conn,
		pending:   make(map[string]chan envelope.Response),
	}
}

// Send writes env as a single binary WebSocket frame, serialized against
// any other concurrent dispatcher targeting the same agent.
func (c *Connection) Send(env envelope.Request) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// SendResponse is the agent-side analogue of Send, used by the agent's
// session loop to write a response envelope back to the frontend.
func (c *Connection) SendResponse(env envelope.Response) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// ReadRaw reads the next frame off the receive half. Only the reader
// task that owns this connection may call it.
func (c *Connection) ReadRaw() (messageType int, data []byte, err error) {
	return c.conn.ReadMessage()
}

// SetReadLimit caps the size of frames the receive half will accept.
func (c *Connection) SetReadLimit(limit int64) {
	c.conn.SetReadLimit(limit)
}

// Insert adds a one-shot deliverer under tunnelID. It must happen-before
// the matching request envelope is sent, so the response can never race
// ahead of its own pending-table entry.
func (c *Connection) Insert(tunnelID string) chan envelope.Response {
	ch := make(chan envelope.Response, 1)
	c.pendingMu.Lock()
	c.pending[tunnelID] = ch
	c.pendingMu.Unlock()
	return ch
}

// Pop atomically removes and returns the deliverer for tunnelID, or false
// if there was none (already delivered, timed out, or never inserted).
func (c *Connection) Pop(tunnelID string) (chan envelope.Response, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ch, ok := c.pending[tunnelID]
	if ok {
		delete(c.pending, tunnelID)
	}
	return ch, ok
}

// Remove deletes tunnelID from the pending table without returning it;
// used by the dispatcher on its own timeout path.
func (c *Connection) Remove(tunnelID string) {
	c.pendingMu.Lock()
	delete(c.pending, tunnelID)
	c.pendingMu.Unlock()
}

// Close closes the underlying WebSocket. Safe to call more than once.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// DrainPending closes every still-pending deliverer without a value, so
// dispatchers still awaiting a response observe the disconnect
// immediately instead of waiting out their full timeout.
func (c *Connection) DrainPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for tunnelID, ch := range c.pending {
		close(ch)
		delete(c.pending, tunnelID)
	}
}

// Registry is the connect_id -> *Connection mapping. Zero value is not
// usable; use New.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register inserts conn under connectID, displacing and closing any
// prior entry (last-write-wins). It returns the displaced connection, if
// any, so the caller can log the displacement.
func (r *Registry) Register(connectID string, conn *websocket.Conn) (*Connection, *Connection) {
	next := newConnection(connectID, conn)

	r.mu.Lock()
	prev := r.conns[connectID]
	r.conns[connectID] = next
	r.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return next, prev
}

// TakeSender returns the current connection for connectID without
// removing it from the registry.
func (r *Registry) TakeSender(connectID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connectID]
	return c, ok
}

// Unregister removes connectID if the stored entry still matches conn.
// This guards against a reader task for a just-displaced connection
// racing to remove the entry the newer connection just installed.
func (r *Registry) Unregister(connectID string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[connectID]; ok && current == conn {
		delete(r.conns, connectID)
	}
}

// Len reports the number of registered agents. Used for debug/status
// surfaces only, never for control flow.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
