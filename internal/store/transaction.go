package store

import (
	"fmt"
	"sync"
	"time"
)

// Transaction is a pending login attempt for one provider.
type Transaction struct {
	// State binds the authorization redirect to its completion call
	State string

	// Nonce is bound into the ID token by the provider
	Nonce string

	// ProviderID is the provider the login was started for
	ProviderID string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Transactions maps state values to pending transactions.
type Transactions struct {
	mu    sync.Mutex
	byKey map[string]*Transaction
	ttl   time.Duration
	clock Clock
}

// NewTransactions creates an empty transaction store whose entries expire
// ttl after creation.
func NewTransactions(ttl time.Duration, clock Clock) *Transactions {
	return &Transactions{
		byKey: make(map[string]*Transaction),
		ttl:   ttl,
		clock: clock,
	}
}

// Create stores a new pending transaction keyed by state. A transaction that
// already holds the same state is superseded.
func (s *Transactions) Create(providerID, state, nonce string) (*Transaction, error) {
	if state == "" || nonce == "" {
		return nil, fmt.Errorf("state and nonce are required")
	}

	now := s.clock.now()
	tx := &Transaction{
		State:      state,
		Nonce:      nonce,
		ProviderID: providerID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}

	s.mu.Lock()
	s.byKey[state] = tx
	s.mu.Unlock()

	return tx, nil
}

// Get returns the pending transaction for state without consuming it.
// An expired transaction is deleted and reported as ErrExpired; every later
// lookup of the same state returns ErrNotFound.
func (s *Transactions) Get(state string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byKey[state]
	if !ok {
		return Transaction{}, ErrNotFound
	}

	if expired(s.clock.now(), tx.ExpiresAt) {
		delete(s.byKey, state)
		return Transaction{}, ErrExpired
	}

	return *tx, nil
}

// Consume removes the transaction for state and reports whether this call
// was the one that removed it. Only one of several concurrent callers for
// the same state gets true.
func (s *Transactions) Consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[state]; !ok {
		return false
	}
	delete(s.byKey, state)
	return true
}

// Count returns the number of stored transactions, expired ones included
// until they are read or swept.
func (s *Transactions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// Sweep removes all expired transactions and returns how many were removed.
func (s *Transactions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.now()
	removed := 0
	for state, tx := range s.byKey {
		if expired(now, tx.ExpiresAt) {
			delete(s.byKey, state)
			removed++
		}
	}
	return removed
}
