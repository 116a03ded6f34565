package playback

import (
	"sync"
	"sync/atomic"
)

// Session is the cancellation token for one playback run. It pins the
// conversation that owns the audio and is checked after every suspension
// point: a stale session must tear down without touching shared state.
type Session struct {
	mu       sync.Mutex
	owner    string
	activeID func() string
	stopped  atomic.Bool
}

// NewSession creates a token owned by the given conversation. activeID
// reports the currently shown conversation; nil means ownership never
// changes.
func NewSession(owner string, activeID func() string) *Session {
	return &Session{owner: owner, activeID: activeID}
}

// Owner returns the owning conversation id.
func (s *Session) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Rebind transfers ownership, used when the server assigns a persisted id
// to a locally created conversation mid-send.
func (s *Session) Rebind(owner string) {
	s.mu.Lock()
	s.owner = owner
	s.mu.Unlock()
}

// Stop marks the session cancelled. Safe to call repeatedly.
func (s *Session) Stop() {
	s.stopped.Store(true)
}

// Stopped reports whether Stop has been called.
func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

// Stale reports whether results arriving now must be discarded: the session
// was stopped, or the user has switched to a different conversation.
func (s *Session) Stale() bool {
	if s.stopped.Load() {
		return true
	}
	s.mu.Lock()
	owner, activeID := s.owner, s.activeID
	s.mu.Unlock()
	if activeID == nil {
		return false
	}
	return activeID() != owner
}
