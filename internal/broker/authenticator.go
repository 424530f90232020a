package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/al-bashkir/oidc-broker/internal/logsanitize"
	"github.com/al-bashkir/oidc-broker/internal/metrics"
	"github.com/al-bashkir/oidc-broker/internal/store"
)

const bearerPrefix = "Bearer "

// Principal is the identity behind a valid session token.
type Principal struct {
	ProviderID string
	UserID     string
	Session    store.Session
}

// AuthRecorder receives bearer token check outcomes.
type AuthRecorder interface {
	Authenticated(provider, result string)
}

type nopAuthRecorder struct{}

func (nopAuthRecorder) Authenticated(string, string) {}

// Authenticator resolves Authorization header values to principals.
type Authenticator struct {
	sessions *store.Sessions
	recorder AuthRecorder
}

// NewAuthenticator creates an authenticator over the shared session store.
// recorder may be nil.
func NewAuthenticator(sessions *store.Sessions, recorder AuthRecorder) *Authenticator {
	if recorder == nil {
		recorder = nopAuthRecorder{}
	}
	return &Authenticator{sessions: sessions, recorder: recorder}
}

// Authenticate validates an Authorization header value. A "Bearer " prefix
// (case-sensitive) is optional. An expired session is deleted and reported
// once as *SessionExpiredError; later checks of the same token return
// ErrUnauthorized.
func (a *Authenticator) Authenticate(header string) (*Principal, error) {
	if header == "" {
		a.recorder.Authenticated("", metrics.ReasonUnauthorized)
		return nil, fmt.Errorf("%w: no header present", ErrUnauthorized)
	}

	token := strings.TrimPrefix(header, bearerPrefix)

	session, err := a.sessions.Get(token)
	switch {
	case errors.Is(err, store.ErrExpired):
		a.recorder.Authenticated(session.ProviderID, metrics.ReasonSessionExpired)
		slog.Info("session expired",
			"provider", session.ProviderID,
			"user_id", logsanitize.Sanitize(session.UserID),
			"token", logsanitize.Token(token),
		)
		return nil, &SessionExpiredError{Provider: session.ProviderID}
	case err != nil:
		a.recorder.Authenticated("", metrics.ReasonUnauthorized)
		return nil, ErrUnauthorized
	}

	a.recorder.Authenticated(session.ProviderID, "ok")

	return &Principal{
		ProviderID: session.ProviderID,
		UserID:     session.UserID,
		Session:    session,
	}, nil
}
