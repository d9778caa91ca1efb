// Package registry maps user ids to their live session. It is the only
// source of truth for who is reachable right now.
package registry

import (
	"slices"
	"sync"

	"github.com/pliu/murmur/internal/protocol"
)

// Session is a live, authenticated transport session.
type Session interface {
	ID() string
	UserID() int64
	// Send enqueues n without blocking. It reports false when the session
	// can no longer deliver.
	Send(n protocol.Notification) bool
}

// Registry holds at most one session per user. Methods never block on I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]Session
}

func New() *Registry {
	return &Registry{sessions: make(map[int64]Session)}
}

// Register makes s the routing target for its user and returns the session
// it replaced, if any.
func (r *Registry) Register(s Session) (evicted Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[s.UserID()]
	r.sessions[s.UserID()] = s
	if prev != nil && prev.ID() != s.ID() {
		return prev
	}
	return nil
}

func (r *Registry) Lookup(userID int64) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Remove deletes the mapping unconditionally.
func (r *Registry) Remove(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

// RemoveIf deletes the mapping only while it still points at sessionID.
// A reconnect that already took the slot is left alone.
func (r *Registry) RemoveIf(userID int64, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok || s.ID() != sessionID {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// OnlineIDs returns the registered user ids in ascending order.
func (r *Registry) OnlineIDs() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (r *Registry) IsOnline(userID int64) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Sessions returns a copy of the current sessions for fan-out.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast sends n to every registered session and returns how many
// accepted it.
func (r *Registry) Broadcast(n protocol.Notification) int {
	sent := 0
	for _, s := range r.Sessions() {
		if s.Send(n) {
			sent++
		}
	}
	return sent
}
