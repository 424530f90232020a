// Package httpserver exposes the broker over HTTP: per-provider login and
// user-info routes, the PKCE challenge helper, health and metrics.
package httpserver

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/al-bashkir/oidc-broker/internal/broker"
	"github.com/al-bashkir/oidc-broker/internal/config"
	"github.com/al-bashkir/oidc-broker/internal/metrics"
)

// Server is the HTTP server for the broker routes
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	mux        *http.ServeMux
	handler    http.Handler

	registry *broker.Registry
	auth     *broker.Authenticator
	metrics  *metrics.Metrics
	version  string
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, registry *broker.Registry, auth *broker.Authenticator, m *metrics.Metrics, version string) *Server {
	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		registry: registry,
		auth:     auth,
		metrics:  m,
		version:  version,
	}

	// Register routes
	s.mux.HandleFunc("GET /{provider}/login", s.handleLoginStart)
	s.mux.HandleFunc("POST /{provider}/login", s.handleLoginComplete)
	s.mux.HandleFunc("GET /{provider}/user-info", s.handleUserInfo)
	s.mux.HandleFunc("GET /oauth/codeChallenge", s.handleCodeChallenge)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", m.Handler())

	// Wrap with middleware. The metrics middleware sits directly on the mux
	// so it sees the matched route pattern.
	handler := m.Middleware(routeLabel)(s.mux)
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	s.handler = handler

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         cfg.Listen.HTTP,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Auth.VerifyTimeoutDuration() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Configure TLS if enabled
	if cfg.TLS.Enabled {
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			},
		}
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting HTTP server",
		"addr", s.cfg.Listen.HTTP,
		"tls", s.cfg.TLS.Enabled,
		"providers", s.registry.IDs(),
	)

	if s.cfg.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// routeLabel returns the matched mux pattern, keeping metric label
// cardinality bounded.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}
