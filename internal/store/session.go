package store

import (
	"fmt"
	"sync"
	"time"
)

// Session is a broker-issued login session.
type Session struct {
	// Token is the opaque bearer credential (64 hex characters)
	Token string

	// UserID is the provider-qualified user id
	UserID string

	// ProviderID is the provider the user logged in with
	ProviderID string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Sessions maps opaque tokens to sessions. A single Sessions instance is
// shared by all providers so every token lives in one namespace.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	clock    Clock
}

// NewSessions creates an empty session store whose sessions expire ttl
// after creation.
func NewSessions(ttl time.Duration, clock Clock) *Sessions {
	return &Sessions{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		clock:    clock,
	}
}

// Create issues a new session for the user.
func (s *Sessions) Create(providerID, userID string) (*Session, error) {
	now := s.clock.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Tokens are unique across all providers.
	var token string
	for {
		t, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session token: %w", err)
		}
		if _, taken := s.sessions[t]; !taken {
			token = t
			break
		}
	}

	session := &Session{
		Token:      token,
		UserID:     userID,
		ProviderID: providerID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	s.sessions[token] = session

	copied := *session
	return &copied, nil
}

// Get retrieves a session by token.
// An expired session is deleted and returned together with ErrExpired so the
// caller can report which provider it belonged to. Later lookups of the same
// token return ErrNotFound.
func (s *Sessions) Get(token string) (Session, error) {
	now := s.clock.now()

	s.mu.RLock()
	session, ok := s.sessions[token]
	if ok && !expired(now, session.ExpiresAt) {
		copied := *session
		s.mu.RUnlock()
		return copied, nil
	}
	s.mu.RUnlock()

	if !ok {
		return Session{}, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the write lock; a concurrent reader may have removed it.
	session, ok = s.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	delete(s.sessions, token)
	return *session, ErrExpired
}

// Count returns the current number of stored sessions.
func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes all expired sessions and returns how many were removed.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.now()
	removed := 0
	for token, session := range s.sessions {
		if expired(now, session.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}
