package http

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const oidcStateCookie = "planner_oidc_state"

// handleOIDCLogin redirects to the identity provider. The state is kept in
// a short-lived cookie and checked on the callback.
func (s *Server) handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Login == nil || !s.deps.Login.CanLogin() {
		writeErr(w, http.StatusNotFound, "oidc login not configured", "")
		return
	}
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oidcStateCookie,
		Value:    state,
		Path:     "/api/v1/auth/oidc",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.deps.Login.AuthCodeURL(state), http.StatusFound)
}

// handleOIDCCallback exchanges the code and returns the ID token, which the
// client then sends as its bearer token.
func (s *Server) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Login == nil || !s.deps.Login.CanLogin() {
		writeErr(w, http.StatusNotFound, "oidc login not configured", "")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeErr(w, http.StatusUnauthorized, "login failed", e)
		return
	}
	cookie, err := r.Cookie(oidcStateCookie)
	if err != nil || q.Get("state") == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(q.Get("state"))) != 1 {
		writeErr(w, http.StatusBadRequest, "invalid login state", "")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oidcStateCookie, Path: "/api/v1/auth/oidc", MaxAge: -1})

	claims, rawIDToken, err := s.deps.Login.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		s.logger.WarnContext(r.Context(), "oidc exchange failed", "error", err)
		writeErr(w, http.StatusUnauthorized, "login failed", "")
		return
	}
	s.logger.InfoContext(r.Context(), "oidc login", "user_id", claims.Subject)
	writeJSON(w, http.StatusOK, map[string]string{
		"id_token": rawIDToken,
		"user_id":  claims.Subject,
		"email":    claims.Email,
		"name":     claims.Name,
	})
}
