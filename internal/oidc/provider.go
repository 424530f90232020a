// Package oidc implements the upstream OpenID Connect client used by the
// broker: discovery, authorization URL construction and ID token
// verification with nonce binding.
package oidc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/al-bashkir/oidc-broker/internal/config"
)

// ErrNonceMismatch is returned when the ID token nonce does not match the
// nonce stored for the login transaction.
var ErrNonceMismatch = errors.New("nonce mismatch")

// AuthParams are the per-login values embedded in the authorization URL.
type AuthParams struct {
	State string
	Nonce string
}

// Claims are the verified identity claims extracted from an ID token.
type Claims struct {
	Subject string
	Email   string
}

// Provider wraps the OIDC provider and OAuth2 configuration for one
// upstream identity provider.
type Provider struct {
	id           string
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	responseType string
	responseMode string
	mapper       *ClaimMapper
}

// NewProvider creates a new OIDC provider using the specified configuration.
// It performs OIDC discovery via /.well-known/openid-configuration and sets
// up the OAuth2 configuration and ID token verifier.
func NewProvider(ctx context.Context, cfg *config.ProviderConfig) (*Provider, error) {
	// Discover OIDC configuration from issuer
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider %s: %w", cfg.ID, err)
	}

	// Signature, issuer, audience and expiry are checked by go-oidc
	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	return newProvider(cfg, provider.Endpoint(), verifier), nil
}

func newProvider(cfg *config.ProviderConfig, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *Provider {
	return &Provider{
		id: cfg.ID,
		oauth2Config: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Endpoint:    endpoint,
			Scopes:      cfg.Scopes,
		},
		verifier:     verifier,
		responseType: cfg.ResponseType,
		responseMode: cfg.ResponseMode,
		mapper:       NewClaimMapper(cfg.SubjectClaim, cfg.EmailClaim),
	}
}

// ID returns the provider id.
func (p *Provider) ID() string {
	return p.id
}

// AuthorizationURL builds the URL the user-agent is redirected to. No
// network I/O happens here.
func (p *Provider) AuthorizationURL(params AuthParams) string {
	return p.oauth2Config.AuthCodeURL(params.State,
		oauth2.SetAuthURLParam("response_type", p.responseType),
		oauth2.SetAuthURLParam("response_mode", p.responseMode),
		oauth2.SetAuthURLParam("nonce", params.Nonce),
	)
}

// Verify verifies a raw ID token and checks that it is bound to nonce.
// redirectURI must be the redirect target configured for this provider.
func (p *Provider) Verify(ctx context.Context, redirectURI, rawIDToken, nonce string) (*Claims, error) {
	if redirectURI != p.oauth2Config.RedirectURL {
		return nil, fmt.Errorf("redirect_uri mismatch: %q", redirectURI)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	if nonce == "" || subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return nil, ErrNonceMismatch
	}

	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	return p.mapper.Map(raw)
}
