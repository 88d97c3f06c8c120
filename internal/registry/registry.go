// Package registry maps live connection ids to display names.
package registry

import "sync"

// Registry is a process-wide lookup table. Entries are added on join and
// removed when the connection goes away.
type Registry struct {
	mu    sync.RWMutex
	names map[string]string
}

func New() *Registry {
	return &Registry{names: make(map[string]string)}
}

// Set records the display name for a connection, replacing any previous one.
func (r *Registry) Set(connID, username string) {
	r.mu.Lock()
	r.names[connID] = username
	r.mu.Unlock()
}

// Name returns the display name for a connection, or "" when unknown.
func (r *Registry) Name(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[connID]
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
