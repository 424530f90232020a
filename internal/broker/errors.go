package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingToken is returned when a login completion carries no ID token.
	ErrMissingToken = errors.New("missing id_token")

	// ErrInvalidState is returned when the state is empty, unknown or
	// already consumed.
	ErrInvalidState = errors.New("invalid state")

	// ErrStateExpired is returned when the login transaction has expired.
	ErrStateExpired = errors.New("state expired")

	// ErrTokenVerificationFailed is matched by every *VerificationError.
	ErrTokenVerificationFailed = errors.New("token verification failed")

	// ErrUnauthorized is returned for missing or unknown bearer tokens.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired is matched by every *SessionExpiredError.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnknownProvider is returned for a provider id that is not configured.
	ErrUnknownProvider = errors.New("unknown provider")
)

// VerificationError wraps the provider client's reason for rejecting an ID
// token.
type VerificationError struct {
	Provider string
	Err      error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, ErrTokenVerificationFailed, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

func (e *VerificationError) Is(target error) bool {
	return target == ErrTokenVerificationFailed
}

// SessionExpiredError reports an expired session and the provider it was
// issued for.
type SessionExpiredError struct {
	Provider string
}

func (e *SessionExpiredError) Error() string {
	return e.Provider + " session expired"
}

func (e *SessionExpiredError) Is(target error) bool {
	return target == ErrSessionExpired
}
