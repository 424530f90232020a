package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/al-bashkir/oidc-broker/internal/broker"
	"github.com/al-bashkir/oidc-broker/internal/oidc"
	"github.com/al-bashkir/oidc-broker/internal/store"
)

// loginRequest is the body of POST /{provider}/login
type loginRequest struct {
	State   string `json:"state"`
	IDToken string `json:"id_token"`
}

// loginResponse is returned on a completed login
type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
	TokenType   string `json:"token_type"`
}

// userResponse is the user record returned by user-info
type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// challengeRequest is the optional body of GET /oauth/codeChallenge
type challengeRequest struct {
	ChallengeType string `json:"challenge_type"`
}

// unixMilli converts a timestamp to its wire form.
func unixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

// brokerFor resolves the {provider} path segment, writing a 404 when it is
// not configured.
func (s *Server) brokerFor(w http.ResponseWriter, r *http.Request) (*broker.Broker, bool) {
	b, err := s.registry.Get(r.PathValue("provider"))
	if err != nil {
		writeBrokerError(w, r, err)
		return nil, false
	}
	return b, true
}

// handleLoginStart redirects the user-agent to the provider.
func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	b, ok := s.brokerFor(w, r)
	if !ok {
		return
	}

	req, err := b.Start(r.Context())
	if err != nil {
		writeBrokerError(w, r, err)
		return
	}

	http.Redirect(w, r, req.URL, http.StatusFound)
}

// handleLoginComplete exchanges a state and ID token for a session.
func (s *Server) handleLoginComplete(w http.ResponseWriter, r *http.Request) {
	b, ok := s.brokerFor(w, r)
	if !ok {
		return
	}

	req, err := readLoginRequest(w, r)
	if err != nil {
		slog.Warn("invalid login request", // #nosec G706 -- values sanitized via sanitizeLog
			"request_id", sanitizeLog(requestIDFrom(r.Context())),
			"provider", b.ID(),
			"error", err,
		)
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := b.Complete(r.Context(), req.State, req.IDToken)
	if err != nil {
		writeBrokerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: session.Token,
		ExpiresAt:   unixMilli(session.ExpiresAt),
		TokenType:   broker.TokenType,
	})
}

// readLoginRequest accepts a JSON or form-encoded body.
func readLoginRequest(w http.ResponseWriter, r *http.Request) (loginRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req loginRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, fmt.Errorf("failed to decode JSON body: %w", err)
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("failed to parse form: %w", err)
	}
	req.State = r.PostFormValue("state")
	req.IDToken = r.PostFormValue("id_token")
	return req, nil
}

// handleUserInfo returns the user behind a bearer token.
func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	b, ok := s.brokerFor(w, r)
	if !ok {
		return
	}

	principal, err := s.auth.Authenticate(r.Header.Get("Authorization"))
	if err != nil {
		writeBrokerError(w, r, err)
		return
	}

	user, found := b.Users().Get(principal.UserID)
	if !found {
		writeJSON(w, http.StatusOK, fmt.Sprintf("User did not log in with its %s account", b.ID()))
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func toUserResponse(u store.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: unixMilli(u.CreatedAt),
	}
}

// handleCodeChallenge generates a PKCE verifier and challenge. The challenge
// type comes from a JSON or form-encoded body, or the challenge_type query
// parameter.
func (s *Server) handleCodeChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest

	if r.Body != nil && r.ContentLength != 0 {
		var err error
		if req, err = readChallengeRequest(w, r); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.ChallengeType == "" {
		req.ChallengeType = r.URL.Query().Get("challenge_type")
	}

	challenge, err := oidc.GenerateChallenge(req.ChallengeType)
	if err != nil {
		writeBrokerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, challenge)
}

// readChallengeRequest decodes a JSON or form-encoded body. ParseForm skips
// the body of a GET request, so the form is parsed by hand.
func readChallengeRequest(w http.ResponseWriter, r *http.Request) (challengeRequest, error) {
	var req challengeRequest

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return req, fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) == 0 {
		return req, nil
	}

	if isJSON(r) {
		if err := json.Unmarshal(body, &req); err != nil {
			return req, fmt.Errorf("failed to decode JSON body: %w", err)
		}
		return req, nil
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return req, fmt.Errorf("failed to parse form: %w", err)
	}
	req.ChallengeType = form.Get("challenge_type")
	return req, nil
}
