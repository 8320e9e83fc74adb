// Package connset tracks every currently-served connection so the process
// can broadcast a periodic keepalive ping without each connection needing
// to know about its siblings.
package connset

import "sync"

// Pingable is the minimal surface a tracked connection must expose.
type Pingable interface {
	Ping() error
}

// Set is a concurrent registry of live connections, keyed by session id.
type Set struct {
	mu      sync.Mutex
	members map[uint64]Pingable
}

// New builds an empty Set.
func New() *Set {
	return &Set{members: make(map[uint64]Pingable)}
}

// Add registers a connection under id.
func (s *Set) Add(id uint64, p Pingable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[id] = p
}

// Remove drops a connection from the set.
func (s *Set) Remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, id)
}

// PingAll sends a keepalive ping to every tracked connection, ignoring
// individual failures (a dead connection's own read loop will notice and
// tear itself down).
func (s *Set) PingAll() {
	s.mu.Lock()
	members := make([]Pingable, 0, len(s.members))
	for _, p := range s.members {
		members = append(members, p)
	}
	s.mu.Unlock()

	for _, p := range members {
		_ = p.Ping()
	}
}
