// Package daemon wires the broker components together and runs them until
// shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/al-bashkir/oidc-broker/internal/broker"
	"github.com/al-bashkir/oidc-broker/internal/config"
	"github.com/al-bashkir/oidc-broker/internal/httpserver"
	"github.com/al-bashkir/oidc-broker/internal/metrics"
	"github.com/al-bashkir/oidc-broker/internal/oidc"
	"github.com/al-bashkir/oidc-broker/internal/store"
)

// discoveryTimeout bounds OIDC discovery for all providers at startup.
const discoveryTimeout = 30 * time.Second

// Daemon represents the main process that coordinates all components.
type Daemon struct {
	cfg        *config.Config
	registry   *broker.Registry
	sessions   *store.Sessions
	sweeper    *store.Sweeper
	metrics    *metrics.Metrics
	httpServer *httpserver.Server
}

// New creates a new daemon with all components initialized. It performs
// OIDC discovery for every configured provider and fails if any of them
// cannot be reached.
func New(cfg *config.Config, version string) (*Daemon, error) {
	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()

	m := metrics.NewMetrics(nil)

	// One session store shared by all providers
	sessions := store.NewSessions(cfg.Auth.SessionTTLDuration(), nil)
	if err := m.RegisterStoreSize("sessions", "", sessions.Count); err != nil {
		return nil, fmt.Errorf("failed to register session metrics: %w", err)
	}

	brokers := make([]*broker.Broker, 0, len(cfg.Providers))
	for i := range cfg.Providers {
		pc := &cfg.Providers[i]

		provider, err := oidc.NewProvider(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize provider %s: %w", pc.ID, err)
		}

		brokers = append(brokers, broker.New(provider, sessions, broker.Options{
			RedirectURI:    pc.RedirectURI,
			TransactionTTL: cfg.Auth.TransactionTTLDuration(),
			VerifyTimeout:  cfg.Auth.VerifyTimeoutDuration(),
			Recorder:       m,
		}))
	}

	registry, err := broker.NewRegistry(brokers...)
	if err != nil {
		return nil, err
	}

	sweepables := map[string]store.Sweepable{"sessions": sessions}
	for _, b := range registry.Brokers() {
		if err := m.RegisterStoreSize("transactions", b.ID(), b.Transactions().Count); err != nil {
			return nil, fmt.Errorf("failed to register transaction metrics: %w", err)
		}
		if err := m.RegisterStoreSize("users", b.ID(), b.Users().Count); err != nil {
			return nil, fmt.Errorf("failed to register user metrics: %w", err)
		}
		sweepables["transactions/"+b.ID()] = b.Transactions()

		pc, ok := cfg.Provider(b.ID())
		if !ok {
			return nil, fmt.Errorf("provider %s has no configuration", b.ID())
		}
		slog.Info("OIDC provider initialized",
			"provider", pc.ID,
			"issuer", pc.Issuer,
			"response_mode", pc.ResponseMode,
		)
	}

	var sweeper *store.Sweeper
	if interval := cfg.Auth.SweepIntervalDuration(); interval > 0 {
		sweeper = store.NewSweeper(interval, sweepables)
		slog.Info("store sweeper enabled", "interval", interval)
	}

	httpServer := httpserver.NewServer(cfg, registry, broker.NewAuthenticator(sessions, m), m, version)

	slog.Info("HTTP server initialized",
		"listen", cfg.Listen.HTTP,
		"tls", cfg.TLS.Enabled,
	)

	return &Daemon{
		cfg:        cfg,
		registry:   registry,
		sessions:   sessions,
		sweeper:    sweeper,
		metrics:    m,
		httpServer: httpServer,
	}, nil
}

// Run starts all daemon components and blocks until ctx is done or a
// shutdown signal is received.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("starting OIDC broker", "providers", d.registry.IDs())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if d.sweeper != nil {
		d.sweeper.Start()
		defer d.sweeper.Stop()
	}

	// Start HTTP server in a goroutine (it blocks on ListenAndServe)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := d.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested", "reason", context.Cause(ctx))
	case err := <-httpErrCh:
		if err != nil {
			slog.Error("HTTP server failed to start", "error", err)
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	// Shutdown gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error stopping HTTP server", "error", err)
	}

	slog.Info("daemon shutdown complete",
		"sessions", d.sessions.Count(),
	)
	return nil
}
