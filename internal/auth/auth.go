// Package auth verifies bearer identity tokens and exposes the caller's
// identity to handlers.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mbd888/zapshift/internal/apperr"
)

var (
	ErrMissingToken  = fmt.Errorf("bearer token required: %w", apperr.ErrUnauthenticated)
	ErrInvalidToken  = fmt.Errorf("identity token is invalid or expired: %w", apperr.ErrUnauthenticated)
	ErrNoEmail       = fmt.Errorf("identity token carries no email: %w", apperr.ErrUnauthenticated)
	ErrEmailMismatch = fmt.Errorf("email does not match the authenticated user: %w", apperr.ErrForbidden)
)

// Identity is the verified caller.
type Identity struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
}

// Verifier validates a raw bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Claims are the identity token claims this service reads.
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

func identityFromClaims(c *Claims) (*Identity, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return nil, ErrNoEmail
	}
	return &Identity{
		UID:           c.Subject,
		Email:         email,
		EmailVerified: c.EmailVerified,
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}

// SameEmail compares addresses case-insensitively.
func SameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
