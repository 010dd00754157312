package store

import "sync"

// SessionTokens is a mutable TokenSource. Login binds the verified token
// and user, logout clears it; the remote adapter reads it on every call.
type SessionTokens struct {
	mu     sync.RWMutex
	token  string
	userID string
}

func (s *SessionTokens) Bind(token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.userID = userID
}

func (s *SessionTokens) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.userID = ""
}

func (s *SessionTokens) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *SessionTokens) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}
