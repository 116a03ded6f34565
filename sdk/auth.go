package vitalvoice

import (
	"net/http"
	"sync"
)

// TokenStore is the observable session state: the bearer token plus a
// subscriber list notified on every change. Components that care about
// sign-in state subscribe instead of polling ambient storage.
type TokenStore struct {
	mu    sync.Mutex
	token string
	subs  map[int]func(token string)
	next  int
}

// NewTokenStore creates an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{subs: make(map[int]func(string))}
}

// Get returns the current token, or "" when signed out.
func (s *TokenStore) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Set stores a token and notifies subscribers.
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	subs := s.snapshotLocked()
	s.mu.Unlock()
	for _, fn := range subs {
		fn(token)
	}
}

// Clear signs out: the token is dropped and subscribers are notified with
// an empty token.
func (s *TokenStore) Clear() {
	s.Set("")
}

// Subscribe registers fn for token changes and returns an unsubscribe func.
func (s *TokenStore) Subscribe(fn func(token string)) (cancel func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// snapshotLocked copies the subscriber list so notifications run outside
// the lock.
func (s *TokenStore) snapshotLocked() []func(string) {
	out := make([]func(string), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

// authTransport injects the bearer token into every request and performs
// the global sign-out on a 401: the token store is cleared so every
// subscriber drops to the signed-out state.
type authTransport struct {
	base   http.RoundTripper
	tokens *TokenStore
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if tok := t.tokens.Get(); tok != "" && req.Header.Get("Authorization") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && t.tokens.Get() != "" {
		t.tokens.Clear()
	}
	return resp, nil
}
