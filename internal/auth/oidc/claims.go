package oidc

import "github.com/MrGSommer/vacation-planner-sub001/internal/auth"

// Claims represents extracted OIDC ID token claims.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Issuer  string `json:"iss"`
}

// Identity maps the claims to a planner user. The issuer-local subject is
// the user ID.
func (c Claims) Identity() auth.Identity {
	return auth.Identity{UserID: c.Subject, Email: c.Email, Name: c.Name}
}
