package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrGSommer/vacation-planner-sub001/internal/auth"
)

// mockIssuer serves OIDC discovery, JWKS and a token endpoint, and signs
// ID tokens with its own RSA key.
type mockIssuer struct {
	srv *httptest.Server
	key *rsa.PrivateKey
}

func newMockIssuer(t *testing.T) *mockIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	m := &mockIssuer{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                m.srv.URL,
			"authorization_endpoint":                m.srv.URL + "/authorize",
			"token_endpoint":                        m.srv.URL + "/token",
			"jwks_uri":                              m.srv.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
			"subject_types_supported":               []string{"public"},
			"response_types_supported":              []string{"code"},
		})
	})
	mux.HandleFunc("GET /keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &key.PublicKey, KeyID: "test-key-1", Algorithm: string(jose.RS256), Use: "sig",
		}}})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		raw, err := m.sign(m.srv.URL, "test-client-id", "user-123", time.Hour)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "mock-access-token",
			"token_type":   "Bearer",
			"id_token":     raw,
			"expires_in":   3600,
		})
	})
	m.srv = httptest.NewServer(mux)
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockIssuer) sign(issuer, audience, subject string, ttl time.Duration) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: m.key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", "test-key-1"),
	)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}
	now := time.Now()
	claims := jwt.Claims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.Audience{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(ttl)),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
	}
	extra := map[string]any{"email": "ana@example.com", "name": "Ana"}
	return jwt.Signed(signer).Claims(claims).Claims(extra).Serialize()
}

func (m *mockIssuer) provider(t *testing.T) *Provider {
	t.Helper()
	p, err := NewProvider(context.Background(), ProviderConfig{
		IssuerURL:    m.srv.URL,
		ClientID:     "test-client-id",
		ClientSecret: "test-secret",
		RedirectURL:  "http://localhost:8080/api/v1/auth/oidc/callback",
	})
	require.NoError(t, err)
	return p
}

func TestNewProviderInvalidIssuer(t *testing.T) {
	_, err := NewProvider(context.Background(), ProviderConfig{
		IssuerURL: "http://127.0.0.1:1/nonexistent",
		ClientID:  "test-client-id",
	})
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	m := newMockIssuer(t)
	p := m.provider(t)

	raw, err := m.sign(m.srv.URL, "test-client-id", "user-123", time.Hour)
	require.NoError(t, err)
	id, err := p.Authenticate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UserID: "user-123", Email: "ana@example.com", Name: "Ana"}, id)
}

func TestAuthenticateRejects(t *testing.T) {
	m := newMockIssuer(t)
	p := m.provider(t)

	wrongAudience, err := m.sign(m.srv.URL, "other-client", "user-123", time.Hour)
	require.NoError(t, err)
	expired, err := m.sign(m.srv.URL, "test-client-id", "user-123", -time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := m.sign("https://evil.example.com", "test-client-id", "user-123", time.Hour)
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"wrong audience": wrongAudience,
		"expired":        expired,
		"wrong issuer":   wrongIssuer,
		"garbage":        "a.b.c",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.Authenticate(context.Background(), raw)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestAuthCodeURLAndExchange(t *testing.T) {
	m := newMockIssuer(t)
	p := m.provider(t)
	assert.True(t, p.CanLogin())

	url := p.AuthCodeURL("random-state-123")
	for _, part := range []string{"client_id=test-client-id", "redirect_uri=", "state=random-state-123", "scope=", "response_type=code"} {
		assert.Contains(t, url, part)
	}

	claims, raw, err := p.Exchange(context.Background(), "mock-auth-code")
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, m.srv.URL, claims.Issuer)
	assert.NotEmpty(t, raw)

	id, err := p.Authenticate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "user-123", id.UserID)
}
