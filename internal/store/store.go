// Package store provides the in-memory login transaction, session and user
// stores. All stores are safe for concurrent use and live for the lifetime
// of the process.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent.
	ErrNotFound = errors.New("not found")

	// ErrExpired is returned when a key was present but past its expiry.
	// The entry has been removed by the time the caller sees this error.
	ErrExpired = errors.New("expired")
)

// Clock returns the current time. Stores use time.Now when nil.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// expired reports whether an entry with the given expiry is no longer valid
// at now. An entry is invalid at the exact instant of expiry.
func expired(now, expiresAt time.Time) bool {
	return !now.Before(expiresAt)
}

// generateToken generates a cryptographically secure random session token.
// The token is 64 hex characters (32 random bytes).
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
