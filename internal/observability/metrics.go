package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig holds configuration for the metrics subsystem.
type MetricsConfig struct {
	Enabled bool
	// Namespace prefix for all metrics (default: planner).
	Namespace string
	// Version is the application version for the info metric.
	Version string
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, Namespace: "planner", Version: "dev"}
}

// Metrics holds the planner's prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	rateLimited     prometheus.Counter
	turns           *prometheus.CounterVec
	creditsCharged  *prometheus.CounterVec
	creditsRejected *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	jobs            *prometheus.CounterVec
	jobDuration     prometheus.Histogram
}

// NewMetrics registers all collectors. Returns nil when metrics are disabled.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	ns := cfg.Namespace
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "http_requests_total", Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "rate_limit_rejected_total", Help: "Requests rejected by the rate limiter.",
		}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "conversation_turns_total", Help: "Conversation turns by mode and outcome.",
		}, []string{"mode", "outcome"}),
		creditsCharged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "credits_charged_total", Help: "Credits debited by operation.",
		}, []string{"operation"}),
		creditsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "credits_rejected_total", Help: "Charges rejected for insufficient balance.",
		}, []string{"operation"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "llm_request_duration_seconds", Help: "Language model call latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}, []string{"purpose", "outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "plan_jobs_total", Help: "Finished plan jobs by status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "plan_job_duration_seconds", Help: "Wall-clock time of plan jobs.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}),
	}

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Name: "info", Help: "Application information.",
	}, []string{"version"})
	info.WithLabelValues(cfg.Version).Set(1)

	reg.MustRegister(
		m.httpRequests, m.httpDuration, m.rateLimited, m.turns, m.creditsCharged,
		m.creditsRejected, m.llmDuration, m.jobs, m.jobDuration, info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	path = normalizePath(path)
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// RecordTurn counts a conversation turn; outcome is "ok" or an error class.
func (m *Metrics) RecordTurn(mode, outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(mode, outcome).Inc()
}

// RecordCharge counts credits debited for operation.
func (m *Metrics) RecordCharge(operation string, amount int) {
	if m == nil {
		return
	}
	m.creditsCharged.WithLabelValues(operation).Add(float64(amount))
}

// RecordChargeRejected counts a charge refused for insufficient balance.
func (m *Metrics) RecordChargeRejected(operation string) {
	if m == nil {
		return
	}
	m.creditsRejected.WithLabelValues(operation).Inc()
}

// RecordLLMCall records the latency of one model call.
func (m *Metrics) RecordLLMCall(purpose string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.llmDuration.WithLabelValues(purpose, outcome).Observe(d.Seconds())
}

// RecordJob records a finished plan job.
func (m *Metrics) RecordJob(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
	m.jobDuration.Observe(d.Seconds())
}

// normalizePath replaces ids with {id} to bound label cardinality.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = "{id}"
		}
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// MetricsMiddleware records request count and latency.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			m.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
