package session

import (
	"sync"
	"time"
)

// Registry holds live sessions in process memory. Sessions do not survive
// a restart; a client whose id is unknown simply gets a new guest session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Get returns the session and marks it as seen.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		s.touch(r.now())
	}
	return s, ok
}

// Put stores s under s.ID, replacing any previous entry.
func (r *Registry) Put(s *Session) {
	s.touch(r.now())
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// Delete removes the session. Its in-flight turn, if any, is cancelled.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.CancelTurn()
	}
}

// Sweep evicts sessions idle for longer than maxIdle and returns how many
// were removed.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	var evicted []*Session
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, s)
		}
	}
	r.mu.Unlock()

	for _, s := range evicted {
		s.CancelTurn()
	}
	return len(evicted)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
