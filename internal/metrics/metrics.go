// Package metrics defines the Prometheus metrics exported by the broker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure reasons used as the "reason" label of LoginsFailedTotal and
// AuthenticationsTotal.
const (
	ReasonMissingToken       = "missing_token"
	ReasonInvalidState       = "invalid_state"
	ReasonStateExpired       = "state_expired"
	ReasonVerificationFailed = "verification_failed"
	ReasonSessionExpired     = "session_expired"
	ReasonUnauthorized       = "unauthorized"
	ReasonInternal           = "internal"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Login metrics
	LoginsStartedTotal   *prometheus.CounterVec
	LoginsCompletedTotal *prometheus.CounterVec
	LoginsFailedTotal    *prometheus.CounterVec
	UsersCreatedTotal    *prometheus.CounterVec

	// Session metrics
	AuthenticationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_broker_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oidc_broker_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		LoginsStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_broker_logins_started_total",
				Help: "Login transactions started",
			},
			[]string{"provider"},
		),
		LoginsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_broker_logins_completed_total",
				Help: "Logins completed with a session issued",
			},
			[]string{"provider"},
		),
		LoginsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_broker_logins_failed_total",
				Help: "Login completions rejected",
			},
			[]string{"provider", "reason"},
		),
		UsersCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_broker_users_created_total",
				Help: "Users seen for the first time",
			},
			[]string{"provider"},
		),

		AuthenticationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_broker_authentications_total",
				Help: "Bearer token checks by result",
			},
			[]string{"provider", "result"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsStartedTotal,
		m.LoginsCompletedTotal,
		m.LoginsFailedTotal,
		m.UsersCreatedTotal,
		m.AuthenticationsTotal,
	)

	return m
}

// LoginStarted records a started login.
func (m *Metrics) LoginStarted(provider string) {
	m.LoginsStartedTotal.WithLabelValues(provider).Inc()
}

// LoginCompleted records a successful login.
func (m *Metrics) LoginCompleted(provider string, newUser bool) {
	m.LoginsCompletedTotal.WithLabelValues(provider).Inc()
	if newUser {
		m.UsersCreatedTotal.WithLabelValues(provider).Inc()
	}
}

// LoginFailed records a rejected login completion.
func (m *Metrics) LoginFailed(provider, reason string) {
	m.LoginsFailedTotal.WithLabelValues(provider, reason).Inc()
}

// Authenticated records a bearer token check. provider is empty when the
// token could not be attributed to one.
func (m *Metrics) Authenticated(provider, result string) {
	m.AuthenticationsTotal.WithLabelValues(provider, result).Inc()
}

// RegisterStoreSize exports the size of an in-memory store as a gauge.
func (m *Metrics) RegisterStoreSize(store, provider string, size func() int) error {
	return m.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "oidc_broker_store_entries",
			Help:        "Entries held by an in-memory store, expired ones included until swept",
			ConstLabels: prometheus.Labels{"store": store, "provider": provider},
		},
		func() float64 { return float64(size()) },
	))
}

// Handler returns the /metrics handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments HTTP requests. route maps a request to a
// low-cardinality label.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			label := route(r)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, label, strconv.Itoa(rw.statusCode)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
		})
	}
}
