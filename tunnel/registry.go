package tunnel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry tracks the connections a Listener is currently relaying.
type Registry struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*entry
}

type entry struct {
	peer    string
	started time.Time
	cancel  context.CancelFunc
}

// ConnInfo describes one live connection.
type ConnInfo struct {
	ID      uuid.UUID
	Peer    string
	Started time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[uuid.UUID]*entry)}
}

// Add records a connection and the function that stops it.
func (r *Registry) Add(id uuid.UUID, peer string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &entry{peer: peer, started: time.Now(), cancel: cancel}
}

// Remove forgets a connection.  It does not cancel it.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Cancel stops one connection.  It reports whether id was known.
func (r *Registry) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	e, ok := r.conns[id]
	r.mu.Unlock()
	if ok {
		e.cancel()
	}
	return ok
}

// CancelAll stops every live connection.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.conns))
	for _, e := range r.conns {
		cancels = append(cancels, e.cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// List returns the live connections, oldest first.
func (r *Registry) List() []ConnInfo {
	r.mu.Lock()
	out := make([]ConnInfo, 0, len(r.conns))
	for id, e := range r.conns {
		out = append(out, ConnInfo{ID: id, Peer: e.peer, Started: e.started})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}
