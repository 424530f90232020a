package store

import (
	"sync"
	"time"
)

// User is a reconciled user record for one provider.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Users maps provider-qualified user ids to user records.
type Users struct {
	mu    sync.RWMutex
	users map[string]*User
	clock Clock
}

// NewUsers creates an empty user directory.
func NewUsers(clock Clock) *Users {
	return &Users{
		users: make(map[string]*User),
		clock: clock,
	}
}

// Upsert inserts the user if the id is not yet known and returns the stored
// record. An existing record is never modified, so the email from the first
// login is kept. created reports whether this call inserted the record.
func (s *Users) Upsert(id, email string) (user User, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[id]; ok {
		return *existing, false
	}

	u := &User{
		ID:        id,
		Email:     email,
		CreatedAt: s.clock.now(),
	}
	s.users[id] = u
	return *u, true
}

// Get returns the user with the given id.
func (s *Users) Get(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// Count returns the number of known users.
func (s *Users) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
