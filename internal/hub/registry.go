package hub

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Conn is the slice of *websocket.Conn the registry needs. Tests substitute
// their own implementation.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

type connection struct {
	id        string
	subjectID string
	role      string
	auth      bool

	// Serializes writes: gorilla allows at most one concurrent writer.
	wmu  sync.Mutex
	conn Conn
}

// Registry owns every live connection. Everyone else refers to connections
// by id only — a connection can vanish at any moment, and a send to a gone
// id is a silent no-op, not an error.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
	seq   atomic.Uint64

	sent    atomic.Int64
	dropped atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*connection)}
}

// Accept registers a connection in an unauthenticated state and hands back
// its opaque id.
func (r *Registry) Accept(c Conn) string {
	id := fmt.Sprintf("conn-%d", r.seq.Add(1))
	r.mu.Lock()
	r.conns[id] = &connection{id: id, conn: c}
	r.mu.Unlock()
	return id
}

// Authenticate attaches a verified identity. Token verification itself lives
// in internal/auth; here the identity is already trusted.
func (r *Registry) Authenticate(id, subjectID, role string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.subjectID = subjectID
	c.role = role
	c.auth = true
	return true
}

// Identity returns the subject and role bound at handshake time.
func (r *Registry) Identity(id string) (subjectID, role string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, exists := r.conns[id]
	if !exists || !c.auth {
		return "", "", false
	}
	return c.subjectID, c.role, true
}

// Send is best-effort: the connection may have disconnected between being
// read from an index and being written to. That race is expected and never
// surfaces as an error.
func (r *Registry) Send(id string, ev ServerEvent) {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		r.dropped.Add(1)
		return
	}

	c.wmu.Lock()
	err := c.conn.WriteJSON(ev)
	c.wmu.Unlock()
	if err != nil {
		r.dropped.Add(1)
		slog.Debug("ws send failed", "conn_id", id, "event", ev.Event, "error", err.Error())
		return
	}
	r.sent.Add(1)
}

// SendAll pushes an event to every authenticated connection and returns how
// many were addressed.
func (r *Registry) SendAll(ev ServerEvent) int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id, c := range r.conns {
		if c.auth {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Send(id, ev)
	}
	return len(ids)
}

// Remove is idempotent; disconnect handling may race the handler's deferred
// cleanup.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

// Count reports live authenticated connections. Sockets still inside the
// handshake grace window are not clients yet.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		if c.auth {
			n++
		}
	}
	return n
}

func (r *Registry) SentTotal() int64    { return r.sent.Load() }
func (r *Registry) DroppedTotal() int64 { return r.dropped.Load() }
