// Package auth resolves bearer tokens to the user they identify. The API
// trusts only the user ID carried in the request context, never one taken
// from a request body.
package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned for malformed, expired or unverifiable tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Authenticator verifies a raw bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
