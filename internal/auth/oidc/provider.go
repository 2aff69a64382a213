// Package oidc authenticates callers with ID tokens from an OpenID Connect
// issuer and runs the authorization code flow that obtains them.
package oidc

import (
	"context"
	"errors"
	"fmt"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/MrGSommer/vacation-planner-sub001/internal/auth"
)

// ProviderConfig holds configuration for creating an OIDC provider.
type ProviderConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string // e.g., ["openid", "profile", "email"]
}

// Provider wraps OIDC discovery, token verification, and OAuth2 config.
type Provider struct {
	verifier     *gooidc.IDTokenVerifier
	oauth2Config oauth2.Config
}

var _ auth.Authenticator = (*Provider)(nil)

// NewProvider creates a Provider by performing OIDC discovery on the issuer URL.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("oidc client id required")
	}
	oidcProv, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}

	return &Provider{
		verifier: oidcProv.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     oidcProv.Endpoint(),
			Scopes:       scopes,
		},
	}, nil
}

// Authenticate verifies a raw ID token presented as a bearer token.
func (p *Provider) Authenticate(ctx context.Context, rawIDToken string) (auth.Identity, error) {
	claims, err := p.verify(ctx, rawIDToken)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return auth.Identity{}, fmt.Errorf("%w: no subject", auth.ErrInvalidToken)
	}
	return claims.Identity(), nil
}

// CanLogin reports whether the authorization code flow is configured.
func (p *Provider) CanLogin() bool {
	return p.oauth2Config.RedirectURL != ""
}

// AuthCodeURL generates the IdP redirect URL with the given state and options.
func (p *Provider) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return p.oauth2Config.AuthCodeURL(state, opts...)
}

// Exchange exchanges an authorization code for tokens, verifies the ID
// token, and returns its claims along with the raw token for use as a
// bearer token.
func (p *Provider) Exchange(ctx context.Context, code string) (*Claims, string, error) {
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("token exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, "", fmt.Errorf("no id_token in response")
	}

	claims, err := p.verify(ctx, rawIDToken)
	if err != nil {
		return nil, "", err
	}
	return claims, rawIDToken, nil
}

func (p *Provider) verify(ctx context.Context, rawIDToken string) (*Claims, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	claims.Issuer = idToken.Issuer
	return &claims, nil
}
