package gateserver

import (
	"sync"
	"sync/atomic"
)

// Hub is the process-wide connection registry: connection-id → Conn plus
// the post-login connection-id ↔ username association. Read-heavy, guarded
// by an RWMutex.
type Hub struct {
	nextID atomic.Uint64

	mu     sync.RWMutex
	conns  map[uint64]*Conn
	names  map[uint64]string
	byName map[string]uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:  make(map[uint64]*Conn, 1024),
		names:  make(map[uint64]string),
		byName: make(map[string]uint64),
	}
}

// NextID allocates a stable connection identifier.
func (h *Hub) NextID() uint64 {
	return h.nextID.Add(1)
}

// Register adds a connection under its id.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()
}

// Unregister removes the connection and any username association.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	id := c.ID()
	if name, ok := h.names[id]; ok {
		delete(h.byName, name)
		delete(h.names, id)
	}
	delete(h.conns, id)
	h.mu.Unlock()
}

// AssociateUsername binds name to c, replacing any prior association on the
// same connection. A live connection already holding the name is evicted
// and returned so the caller can notify and disconnect it; the invariant is
// one live connection per username.
func (h *Hub) AssociateUsername(c *Conn, name string) (evicted *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := c.ID()

	if prevID, ok := h.byName[name]; ok && prevID != id {
		evicted = h.conns[prevID]
		delete(h.names, prevID)
		delete(h.byName, name)
	}

	if prevName, ok := h.names[id]; ok {
		delete(h.byName, prevName)
	}
	h.names[id] = name
	h.byName[name] = id
	return evicted
}

// DissociateUsername drops the username binding for c, if any.
func (h *Hub) DissociateUsername(c *Conn) {
	h.mu.Lock()
	id := c.ID()
	if name, ok := h.names[id]; ok {
		delete(h.byName, name)
		delete(h.names, id)
	}
	h.mu.Unlock()
}

// Username resolves a connection id to its associated username.
func (h *Hub) Username(id uint64) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	name, ok := h.names[id]
	return name, ok
}

// ConnByUsername resolves a username to its live connection.
func (h *Hub) ConnByUsername(name string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.byName[name]
	if !ok {
		return nil, false
	}
	c, ok := h.conns[id]
	return c, ok
}

// Enumerate returns a snapshot of all registered connections.
func (h *Hub) Enumerate() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
