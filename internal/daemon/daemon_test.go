package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/al-bashkir/oidc-broker/internal/config"
)

func newTestOIDCIssuer(t *testing.T) string {
	t.Helper()

	var baseURL string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issuer := baseURL + "/realms/test"

		switch r.URL.Path {
		case "/realms/test/.well-known/openid-configuration":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"issuer":                 issuer,
				"authorization_endpoint": issuer + "/auth",
				"token_endpoint":         issuer + "/token",
				"jwks_uri":               issuer + "/keys",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	baseURL = ts.URL
	t.Cleanup(ts.Close)

	return baseURL + "/realms/test"
}

func testConfig(issuer, listen string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Listen.HTTP = listen
	for i := range cfg.Providers {
		cfg.Providers[i].Issuer = issuer
		cfg.Providers[i].ClientID = cfg.Providers[i].ID + "-client"
	}
	return cfg
}

func TestNew(t *testing.T) {
	issuer := newTestOIDCIssuer(t)
	cfg := testConfig(issuer, "127.0.0.1:0")

	d, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if ids := strings.Join(d.registry.IDs(), ","); ids != "facebook,google" {
		t.Errorf("providers = %s, want facebook,google", ids)
	}
	if d.sweeper != nil {
		t.Error("sweeper should be disabled by default")
	}

	// Start a login through the wired server to check the provider is usable
	w := httptest.NewRecorder()
	d.httpServer.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/google/login", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("login status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, issuer+"/auth?") || !strings.Contains(loc, "client_id=google-client") {
		t.Errorf("unexpected redirect: %s", loc)
	}

	// Every registered provider exposes its store sizes
	w = httptest.NewRecorder()
	d.httpServer.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, want := range []string{
		`oidc_broker_store_entries{provider="google",store="transactions"} 1`,
		`oidc_broker_store_entries{provider="facebook",store="transactions"} 0`,
		`oidc_broker_store_entries{provider="facebook",store="users"} 0`,
	} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestNew_SweeperEnabled(t *testing.T) {
	issuer := newTestOIDCIssuer(t)
	cfg := testConfig(issuer, "127.0.0.1:0")
	cfg.Auth.SweepInterval = 60

	d, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if d.sweeper == nil {
		t.Fatal("expected sweeper to be configured")
	}
}

func TestNew_DiscoveryFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(ts.Close)

	_, err := New(testConfig(ts.URL, "127.0.0.1:0"), "test")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "facebook") {
		t.Errorf("error should name the failing provider: %v", err)
	}
}

func TestRun_ContextCancelShutsDown(t *testing.T) {
	issuer := newTestOIDCIssuer(t)
	cfg := testConfig(issuer, "127.0.0.1:0")
	cfg.Auth.SweepInterval = 1

	d, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Run to return")
	}
}

func TestRun_HTTPServerStartFailureReturnsError(t *testing.T) {
	issuer := newTestOIDCIssuer(t)

	// invalid port -> ListenAndServe fails immediately
	d, err := New(testConfig(issuer, "127.0.0.1:-1"), "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- d.Run(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Run to fail, got nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Run to return")
	}
}
