package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/MrGSommer/vacation-planner-sub001/internal/auth"
	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
)

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = observability.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get(requestIDHeader); got == "" {
		t.Fatalf("expected request id header to be set")
	}
	if captured != rr.Header().Get(requestIDHeader) {
		t.Fatalf("expected context request id %q to match header", captured)
	}
}

func TestRequestIDMiddlewarePreservesValidIncoming(t *testing.T) {
	const original = "req-123"
	var captured string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = observability.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, original)

	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get(requestIDHeader); got != original {
		t.Fatalf("expected request id header %q, got %q", original, got)
	}
	if captured != original {
		t.Fatalf("expected context request id %q, got %q", original, captured)
	}
}

func TestRequestIDMiddlewareRejectsInvalidID(t *testing.T) {
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "bad id\n<script>")
	handler.ServeHTTP(rr, req)

	got := rr.Header().Get(requestIDHeader)
	if got == "" || got == "bad id\n<script>" {
		t.Fatalf("expected a generated request id, got %q", got)
	}
}

func TestSanitizeRequestID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "valid alphanumeric", input: "abc123", want: "abc123"},
		{name: "valid with separators", input: "req-1_2.3", want: "req-1_2.3"},
		{name: "valid uuid format", input: "550e8400-e29b-41d4-a716-446655440000", want: "550e8400-e29b-41d4-a716-446655440000"},
		{name: "empty string", input: "", want: ""},
		{name: "trimmed whitespace", input: "  req-123  ", want: "req-123"},
		{
			name:  "exactly 64 chars",
			input: "abcdefghijklmnopqrstuvwxyz0123456789abcdefghijklmnopqrstuvwxyz12",
			want:  "abcdefghijklmnopqrstuvwxyz0123456789abcdefghijklmnopqrstuvwxyz12",
		},
		{
			name:  "65 chars rejected",
			input: "abcdefghijklmnopqrstuvwxyz0123456789abcdefghijklmnopqrstuvwxyz123",
			want:  "",
		},
		{name: "invalid special chars", input: "req@123", want: ""},
		{name: "invalid spaces", input: "req 123", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeRequestID(tt.input); got != tt.want {
				t.Errorf("sanitizeRequestID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestRateLimitMiddlewareBlocksAfterBurstExhausted(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	handler := RateLimitMiddleware(cfg, nil, nil)(okHandler())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	retry, err := strconv.Atoi(second.Header().Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Fatalf("expected Retry-After of at least 1, got %q", second.Header().Get("Retry-After"))
	}
}

func TestRateLimitMiddlewarePerIPTracking(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	handler := RateLimitMiddleware(cfg, nil, nil)(okHandler())

	send := func(remote, xff string) int {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("1.2.3.4:12345", ""); code != http.StatusOK {
		t.Fatalf("expected first request from IP1 to succeed, got %d", code)
	}
	if code := send("1.2.3.4:12345", ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected second request from IP1 to be rate limited, got %d", code)
	}
	if code := send("5.6.7.8:54321", ""); code != http.StatusOK {
		t.Fatalf("expected first request from IP2 to succeed, got %d", code)
	}
	if code := send("proxy:80", "10.0.0.1, 10.0.0.2"); code != http.StatusOK {
		t.Fatalf("expected first forwarded request to succeed, got %d", code)
	}
	if code := send("proxy:80", "10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected second forwarded request to be rate limited, got %d", code)
	}
}

func TestRateLimitMiddlewareKeysOnUser(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	handler := RateLimitMiddleware(cfg, nil, nil)(okHandler())

	send := func(user string) int {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "1.2.3.4:1000"
		req = req.WithContext(auth.ContextWithIdentity(req.Context(), auth.Identity{UserID: user}))
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("alice"); code != http.StatusOK {
		t.Fatalf("expected alice to pass, got %d", code)
	}
	if code := send("bob"); code != http.StatusOK {
		t.Fatalf("expected bob to pass from the same address, got %d", code)
	}
	if code := send("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("expected alice to be limited, got %d", code)
	}
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	handler := RateLimitMiddleware(RateLimitConfig{}, nil, nil)(okHandler())

	for i := 0; i < 10; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected request %d to succeed with disabled rate limiting, got %d", i, rr.Code)
		}
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if !cfg.Enabled() {
		t.Fatal("expected default config to be enabled")
	}
	if cfg.Burst != defaultRateLimitBurst {
		t.Fatalf("expected default burst %d, got %d", defaultRateLimitBurst, cfg.Burst)
	}
}

func TestRateLimitConfigEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  RateLimitConfig
		want bool
	}{
		{name: "enabled with positive values", cfg: RateLimitConfig{RequestsPerSecond: 10, Burst: 5}, want: true},
		{name: "disabled with zero RPS", cfg: RateLimitConfig{RequestsPerSecond: 0, Burst: 5}, want: false},
		{name: "disabled with zero burst", cfg: RateLimitConfig{RequestsPerSecond: 10, Burst: 0}, want: false},
		{name: "disabled with negative RPS", cfg: RateLimitConfig{RequestsPerSecond: -1, Burst: 5}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Enabled(); got != tt.want {
				t.Errorf("RateLimitConfig.Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyMiddlewares(t *testing.T) {
	var order []string

	middleware1 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m1-before")
			next.ServeHTTP(w, r)
			order = append(order, "m1-after")
		})
	}

	middleware2 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m2-before")
			next.ServeHTTP(w, r)
			order = append(order, "m2-after")
		})
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusOK)
	})

	wrapped := ApplyMiddlewares(handler, middleware1, middleware2)
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	expected := []string{"m1-before", "m2-before", "handler", "m2-after", "m1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("expected order[%d]=%q, got %q", i, v, order[i])
		}
	}
}

type staticAuth map[string]auth.Identity

func (a staticAuth) Authenticate(_ context.Context, token string) (auth.Identity, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return auth.Identity{}, auth.ErrInvalidToken
}

func TestAuthMiddleware(t *testing.T) {
	authn := staticAuth{"good": {UserID: "u1"}}
	var seen string
	handler := AuthMiddleware(authn, isPublic, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		code   int
		user   string
	}{
		{name: "valid token", path: "/api/v1/credits", header: "Bearer good", code: http.StatusOK, user: "u1"},
		{name: "missing token", path: "/api/v1/credits", code: http.StatusUnauthorized},
		{name: "unknown token", path: "/api/v1/credits", header: "Bearer nope", code: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/api/v1/credits", header: "Basic good", code: http.StatusUnauthorized},
		{name: "public health", path: "/healthz", code: http.StatusOK},
		{name: "public login", path: "/api/v1/auth/oidc/login", code: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rr.Code)
			}
			if seen != tt.user {
				t.Fatalf("expected user %q in context, got %q", tt.user, seen)
			}
			if tt.code == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate header")
			}
		})
	}
}

func TestAuthMiddlewareWithoutAuthenticator(t *testing.T) {
	handler := AuthMiddleware(nil, isPublic, nil)(okHandler())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestLoggingMiddlewareRecoversPanics(t *testing.T) {
	handler := LoggingMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("boom"))
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
