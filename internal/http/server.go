// Package http exposes the planner over a JSON API on net/http.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	apidocs "github.com/MrGSommer/vacation-planner-sub001/docs"
	"github.com/MrGSommer/vacation-planner-sub001/internal/auth"
	"github.com/MrGSommer/vacation-planner-sub001/internal/auth/oidc"
	"github.com/MrGSommer/vacation-planner-sub001/internal/credits"
	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/jobs"
	"github.com/MrGSommer/vacation-planner-sub001/internal/llm"
	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
	"github.com/MrGSommer/vacation-planner-sub001/internal/planning"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

const maxBodyBytes = 1 << 20

type apiError struct {
	Error     string                  `json:"error"`
	Detail    string                  `json:"detail,omitempty"`
	Class     domain.ErrorClass       `json:"error_class,omitempty"`
	Retryable bool                    `json:"retryable,omitempty"`
	Section   string                  `json:"section,omitempty"`
	Result    *domain.ExecutionResult `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string, detail string) {
	writeAPIError(w, code, apiError{Error: msg, Detail: detail})
}

func writeAPIError(w http.ResponseWriter, code int, e apiError) {
	// Report 5xx errors to Sentry
	if code >= 500 && !e.Retryable {
		sentry.CaptureMessage(fmt.Sprintf("HTTP %d: %s (detail: %s)", code, e.Error, e.Detail))
	}
	writeJSON(w, code, e)
}

// writeError maps an engine, job or ledger error onto a status code and
// error body.
func writeError(w http.ResponseWriter, err error) {
	var (
		gen     *domain.GenerationError
		partial *domain.PartialApplicationError
	)
	switch {
	case errors.Is(err, storage.ErrValidation):
		writeAPIError(w, http.StatusBadRequest, apiError{Error: "invalid request", Detail: err.Error()})
		return
	case errors.Is(err, domain.ErrJobNotFound):
		writeAPIError(w, http.StatusNotFound, apiError{Error: "job not found"})
		return
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, apiError{Error: "not found", Detail: err.Error()})
		return
	case errors.Is(err, llm.ErrNotConfigured):
		writeAPIError(w, http.StatusServiceUnavailable, apiError{Error: "language model not configured"})
		return
	}

	class := domain.Classify(err)
	body := apiError{Error: err.Error(), Class: class, Retryable: class.Retryable()}
	switch class {
	case domain.ErrorClassInsufficientCredits:
		writeAPIError(w, http.StatusPaymentRequired, body)
	case domain.ErrorClassTransientUpstream:
		w.Header().Set("Retry-After", "5")
		writeAPIError(w, http.StatusServiceUnavailable, body)
	case domain.ErrorClassValidation:
		if errors.As(err, &gen) {
			body.Section = gen.Section
		}
		writeAPIError(w, http.StatusUnprocessableEntity, body)
	case domain.ErrorClassPartialApplication:
		if errors.As(err, &partial) {
			res := partial.Result
			body.Result = &res
		}
		writeAPIError(w, http.StatusInternalServerError, body)
	case domain.ErrorClassInvalidState:
		writeAPIError(w, http.StatusConflict, body)
	default:
		body.Error = "internal server error"
		body.Detail = err.Error()
		writeAPIError(w, http.StatusInternalServerError, body)
	}
}

// Deps are the services the API is built on. Login is optional.
type Deps struct {
	Engine    *planning.Engine
	Jobs      *jobs.Service
	Ledger    *credits.Ledger
	Store     storage.Store
	Auth      auth.Authenticator
	Login     *oidc.Provider
	Metrics   *observability.Metrics
	Logger    observability.Logger
	RateLimit RateLimitConfig
}

type Server struct {
	mux    *http.ServeMux
	deps   Deps
	logger observability.Logger
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Server{mux: http.NewServeMux(), deps: deps, logger: logger.WithComponent("http")}
}

func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	s.mux.HandleFunc("GET /openapi.yaml", s.handleOpenAPISpec)
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	s.mux.HandleFunc("GET /api/v1/conversations/{mode}", s.handleLoadConversation)
	s.mux.HandleFunc("POST /api/v1/conversations/{mode}/{action}", s.handleConversationAction)

	s.mux.HandleFunc("GET /api/v1/jobs/recent", s.handleRecentJob)
	s.mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleJobStatus)

	s.mux.HandleFunc("GET /api/v1/credits", s.handleCredits)

	s.mux.HandleFunc("GET /api/v1/auth/oidc/login", s.handleOIDCLogin)
	s.mux.HandleFunc("GET /api/v1/auth/oidc/callback", s.handleOIDCCallback)
}

// Handler returns the routed API wrapped in its middleware chain.
func (s *Server) Handler() http.Handler {
	return ApplyMiddlewares(s.mux,
		RequestIDMiddleware(),
		LoggingMiddleware(s.logger),
		observability.MetricsMiddleware(s.deps.Metrics),
		AuthMiddleware(s.deps.Auth, isPublic, s.logger),
		RateLimitMiddleware(s.deps.RateLimit, s.deps.Metrics, s.logger),
	)
}

func isPublic(path string) bool {
	return !strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/api/v1/auth/")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(apidocs.OpenAPISpec)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		writeErr(w, http.StatusServiceUnavailable, "store unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode body: %v: %w", err, storage.ErrValidation)
	}
	return nil
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	acct, err := s.deps.Ledger.Balance(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":       acct.Balance,
		"monthly_quota": acct.MonthlyQuota,
		"costs":         s.deps.Ledger.Policy().Costs,
	})
}
