package session

import "sync"

// Registry maps live connection IDs to the display name supplied at join
// time. Entries live exactly as long as the connection: inserted on join,
// removed on disconnect.
type Registry struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]string)}
}

func (r *Registry) Register(connID, username string) {
	r.mu.Lock()
	r.names[connID] = username
	r.mu.Unlock()
}

func (r *Registry) Lookup(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[connID]
	return name, ok
}

func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	delete(r.names, connID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
