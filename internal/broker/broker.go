// Package broker implements provider-agnostic login orchestration: state and
// nonce bound login transactions, ID token verification handoff, user
// reconciliation and opaque session issuance.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/al-bashkir/oidc-broker/internal/logsanitize"
	"github.com/al-bashkir/oidc-broker/internal/metrics"
	"github.com/al-bashkir/oidc-broker/internal/oidc"
	"github.com/al-bashkir/oidc-broker/internal/store"
)

// TokenType is the token type reported for issued sessions.
const TokenType = "Bearer"

// ProviderClient is the upstream identity provider as seen by the broker.
// *oidc.Provider implements it.
type ProviderClient interface {
	ID() string
	AuthorizationURL(params oidc.AuthParams) string
	Verify(ctx context.Context, redirectURI, rawIDToken, nonce string) (*oidc.Claims, error)
}

// Recorder receives login outcomes. *metrics.Metrics implements it.
type Recorder interface {
	LoginStarted(provider string)
	LoginCompleted(provider string, newUser bool)
	LoginFailed(provider, reason string)
}

type nopRecorder struct{}

func (nopRecorder) LoginStarted(string)         {}
func (nopRecorder) LoginCompleted(string, bool) {}
func (nopRecorder) LoginFailed(string, string)  {}

// Options configures a Broker.
type Options struct {
	// RedirectURI is the redirect target registered with the provider
	RedirectURI string

	TransactionTTL time.Duration

	// VerifyTimeout bounds ID token verification; zero means no bound
	VerifyTimeout time.Duration

	Clock    store.Clock
	Recorder Recorder
}

// AuthRequest is the result of starting a login.
type AuthRequest struct {
	State string
	Nonce string
	URL   string
}

// Broker runs the two-phase login for one provider. The transaction store
// and user directory belong to the provider; the session store is shared.
type Broker struct {
	client        ProviderClient
	redirectURI   string
	verifyTimeout time.Duration

	transactions *store.Transactions
	users        *store.Users
	sessions     *store.Sessions

	recorder Recorder
}

// New creates a broker for client issuing sessions into sessions.
func New(client ProviderClient, sessions *store.Sessions, opts Options) *Broker {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Broker{
		client:        client,
		redirectURI:   opts.RedirectURI,
		verifyTimeout: opts.VerifyTimeout,
		transactions:  store.NewTransactions(opts.TransactionTTL, opts.Clock),
		users:         store.NewUsers(opts.Clock),
		sessions:      sessions,
		recorder:      recorder,
	}
}

// ID returns the provider id.
func (b *Broker) ID() string {
	return b.client.ID()
}

// Users returns the provider's user directory.
func (b *Broker) Users() *store.Users {
	return b.users
}

// Transactions returns the provider's pending login transactions.
func (b *Broker) Transactions() *store.Transactions {
	return b.transactions
}

// Start begins a login: it records a pending transaction under fresh state
// and nonce values and returns the authorization URL to redirect to.
func (b *Broker) Start(ctx context.Context) (*AuthRequest, error) {
	state, err := oidc.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := oidc.GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	if _, err := b.transactions.Create(b.ID(), state, nonce); err != nil {
		return nil, fmt.Errorf("failed to store transaction: %w", err)
	}

	b.recorder.LoginStarted(b.ID())
	slog.DebugContext(ctx, "login started", "provider", b.ID(), "state", logsanitize.Token(state))

	return &AuthRequest{
		State: state,
		Nonce: nonce,
		URL:   b.client.AuthorizationURL(oidc.AuthParams{State: state, Nonce: nonce}),
	}, nil
}

// Complete finishes a login started with Start. On success the transaction
// is consumed, the user is recorded if new, and a session is issued.
// A failed verification leaves the transaction pending.
func (b *Broker) Complete(ctx context.Context, state, rawIDToken string) (*store.Session, error) {
	if rawIDToken == "" {
		return nil, b.fail(ctx, ErrMissingToken, metrics.ReasonMissingToken)
	}

	tx, err := b.transactions.Get(state)
	switch {
	case errors.Is(err, store.ErrExpired):
		return nil, b.fail(ctx, ErrStateExpired, metrics.ReasonStateExpired)
	case err != nil:
		return nil, b.fail(ctx, ErrInvalidState, metrics.ReasonInvalidState)
	}

	claims, err := b.verify(ctx, rawIDToken, tx.Nonce)
	if err != nil {
		return nil, b.fail(ctx, &VerificationError{Provider: b.ID(), Err: err}, metrics.ReasonVerificationFailed)
	}

	// A concurrent completion of the same state may have won the race
	if !b.transactions.Consume(state) {
		return nil, b.fail(ctx, ErrInvalidState, metrics.ReasonInvalidState)
	}

	user, created := b.users.Upsert(b.ID()+"-"+claims.Subject, claims.Email)
	if created {
		slog.InfoContext(ctx, "new user", "provider", b.ID(), "user_id", logsanitize.Sanitize(user.ID))
	}

	session, err := b.sessions.Create(b.ID(), user.ID)
	if err != nil {
		b.recorder.LoginFailed(b.ID(), metrics.ReasonInternal)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	b.recorder.LoginCompleted(b.ID(), created)
	slog.InfoContext(ctx, "login completed",
		"provider", b.ID(),
		"user_id", logsanitize.Sanitize(user.ID),
		"expires_at", session.ExpiresAt,
	)

	return session, nil
}

func (b *Broker) verify(ctx context.Context, rawIDToken, nonce string) (*oidc.Claims, error) {
	if b.verifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.verifyTimeout)
		defer cancel()
	}

	claims, err := b.client.Verify(ctx, b.redirectURI, rawIDToken, nonce)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return claims, nil
}

func (b *Broker) fail(ctx context.Context, err error, reason string) error {
	b.recorder.LoginFailed(b.ID(), reason)
	slog.WarnContext(ctx, "login rejected", "provider", b.ID(), "reason", reason, "error", err)
	return err
}
