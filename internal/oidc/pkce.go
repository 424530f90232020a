package oidc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Challenge types reported by GenerateChallenge.
const (
	ChallengeTypePlain  = "plain"
	ChallengeTypeSHA256 = "sha-256"
)

// Challenge is a PKCE code verifier and its derived challenge.
type Challenge struct {
	ChallengeType string `json:"challenge_type"`
	CodeChallenge string `json:"code_challenge"`
	CodeVerifier  string `json:"code_verifier"`
}

// GenerateChallenge creates a fresh PKCE verifier and challenge.
// A challengeType that starts with "sha" and ends with "256", ignoring case
// (e.g. "S256" does not match, "sha256" and "SHA-256" do), selects the
// SHA-256 method; anything else, including the empty string, selects plain.
func GenerateChallenge(challengeType string) (*Challenge, error) {
	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	if isSHA256(challengeType) {
		return &Challenge{
			ChallengeType: ChallengeTypeSHA256,
			CodeChallenge: generateCodeChallenge(verifier),
			CodeVerifier:  verifier,
		}, nil
	}

	return &Challenge{
		ChallengeType: ChallengeTypePlain,
		CodeChallenge: verifier,
		CodeVerifier:  verifier,
	}, nil
}

func isSHA256(challengeType string) bool {
	t := strings.ToLower(challengeType)
	return strings.HasPrefix(t, "sha") && strings.HasSuffix(t, "256")
}

// GenerateState creates a random state parameter for CSRF protection.
func GenerateState() (string, error) {
	return randomString(32)
}

// GenerateNonce creates a random nonce bound into the ID token.
func GenerateNonce() (string, error) {
	return randomString(32)
}

// generateCodeVerifier creates a cryptographically random PKCE code verifier.
// The verifier is 32 random bytes encoded as base64url (43 characters).
// Per RFC 7636, the verifier must be 43-128 characters.
func generateCodeVerifier() (string, error) {
	return randomString(32)
}

// generateCodeChallenge creates a PKCE code challenge from the verifier.
// It uses the S256 method: BASE64URL(SHA256(ASCII(verifier)))
func generateCodeChallenge(verifier string) string {
	h := sha256.New()
	h.Write([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// randomString returns n random bytes encoded as unpadded base64url.
func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
