package oidc

import (
	"fmt"
	"strings"
)

// ClaimMapper extracts the subject and email from verified ID token claims.
// Claim names support dot notation for nested claims.
type ClaimMapper struct {
	subjectClaim string
	emailClaim   string
}

// NewClaimMapper creates a mapper. Empty names default to "sub" and "email".
func NewClaimMapper(subjectClaim, emailClaim string) *ClaimMapper {
	if subjectClaim == "" {
		subjectClaim = "sub"
	}
	if emailClaim == "" {
		emailClaim = "email"
	}
	return &ClaimMapper{
		subjectClaim: subjectClaim,
		emailClaim:   emailClaim,
	}
}

// Map builds Claims from raw token claims.
// The subject is required; a missing email is recorded as empty because
// not every provider releases it for the requested scopes.
func (m *ClaimMapper) Map(raw map[string]interface{}) (*Claims, error) {
	subject, err := getClaimString(raw, m.subjectClaim)
	if err != nil {
		return nil, fmt.Errorf("subject claim '%s' not found: %w", m.subjectClaim, err)
	}
	if subject == "" {
		return nil, fmt.Errorf("subject claim '%s' is empty", m.subjectClaim)
	}

	email, _ := getClaimString(raw, m.emailClaim)

	return &Claims{
		Subject: subject,
		Email:   email,
	}, nil
}

// getClaimString extracts a string claim, supporting dot notation for nested claims.
// For example: "email", "preferred_username", "profile.email"
func getClaimString(claims map[string]interface{}, path string) (string, error) {
	value, err := getNestedClaim(claims, path)
	if err != nil {
		return "", err
	}

	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("claim '%s' is not a string", path)
	}

	return str, nil
}

// getNestedClaim retrieves a claim using dot notation.
func getNestedClaim(claims map[string]interface{}, path string) (interface{}, error) {
	parts := strings.Split(path, ".")

	var current interface{} = claims
	for i, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("claim path '%s' not found at level %d (%s)", path, i, part)
		}

		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("claim '%s' not found in path '%s'", part, path)
		}
	}

	return current, nil
}
