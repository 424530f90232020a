package config

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

const validYAML = `
listen:
  http: ":8080"
providers:
  - id: facebook
    issuer: "https://www.facebook.com"
    client_id: "fb-client"
    redirect_uri: "https://oidcdebugger.com/debug"
    scopes:
      - openid
  - id: google
    issuer: "https://accounts.google.com"
    client_id: "google-client"
    redirect_uri: "https://oidcdebugger.com/debug"
    scopes:
      - openid
      - profile
auth:
  transaction_ttl: 900
  session_ttl: 86400
log:
  level: "info"
  format: "json"
`

func writeTempConfig(t *testing.T, data string) string {
	t.Helper()

	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(data)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Listen.HTTP != ":8080" {
		t.Errorf("expected HTTP listen :8080, got %s", cfg.Listen.HTTP)
	}

	if cfg.Auth.TransactionTTL != 900 {
		t.Errorf("expected transaction ttl 900, got %d", cfg.Auth.TransactionTTL)
	}

	if cfg.Auth.SessionTTL != 86400 {
		t.Errorf("expected session ttl 86400, got %d", cfg.Auth.SessionTTL)
	}

	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 default providers, got %d", len(cfg.Providers))
	}
	if cfg.Providers[0].ID != "facebook" || cfg.Providers[1].ID != "google" {
		t.Errorf("unexpected default providers: %s, %s", cfg.Providers[0].ID, cfg.Providers[1].ID)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		wantErr     bool
		errContains string
	}{
		{
			name:       "valid config",
			configYAML: validYAML,
			wantErr:    false,
		},
		{
			name: "missing issuer",
			configYAML: `
providers:
  - id: google
    client_id: "google-client"
    redirect_uri: "https://oidcdebugger.com/debug"
`,
			wantErr:     true,
			errContains: "providers.google.issuer is required",
		},
		{
			name: "missing client_id",
			configYAML: `
providers:
  - id: google
    issuer: "https://accounts.google.com"
    redirect_uri: "https://oidcdebugger.com/debug"
`,
			wantErr:     true,
			errContains: "providers.google.client_id is required",
		},
		{
			name: "default providers without client ids",
			configYAML: `
listen:
  http: ":8080"
`,
			wantErr:     true,
			errContains: "client_id is required",
		},
		{
			name: "scopes missing openid",
			configYAML: `
providers:
  - id: google
    issuer: "https://accounts.google.com"
    client_id: "google-client"
    redirect_uri: "https://oidcdebugger.com/debug"
    scopes:
      - profile
`,
			wantErr:     true,
			errContains: "must include 'openid'",
		},
		{
			name: "duplicate provider id",
			configYAML: `
providers:
  - id: google
    issuer: "https://accounts.google.com"
    client_id: "a"
    redirect_uri: "https://oidcdebugger.com/debug"
  - id: google
    issuer: "https://accounts.google.com"
    client_id: "b"
    redirect_uri: "https://oidcdebugger.com/debug"
`,
			wantErr:     true,
			errContains: "duplicate id",
		},
		{
			name: "reserved provider id",
			configYAML: `
providers:
  - id: oauth
    issuer: "https://accounts.google.com"
    client_id: "a"
    redirect_uri: "https://oidcdebugger.com/debug"
`,
			wantErr:     true,
			errContains: "is reserved",
		},
		{
			name: "invalid response mode",
			configYAML: `
providers:
  - id: google
    issuer: "https://accounts.google.com"
    client_id: "a"
    redirect_uri: "https://oidcdebugger.com/debug"
    response_mode: "web_message"
`,
			wantErr:     true,
			errContains: "response_mode must be one of",
		},
		{
			name:        "invalid log level",
			configYAML:  strings.Replace(validYAML, `level: "info"`, `level: "verbose"`, 1),
			wantErr:     true,
			errContains: "log.level must be one of",
		},
		{
			name: "invalid yaml",
			configYAML: `
this is not: valid: yaml:
  bad: [syntax
`,
			wantErr:     true,
			errContains: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeTempConfig(t, tt.configYAML))

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing '%s', got nil", tt.errContains)
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error = %v, want error containing %v", err, tt.errContains)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if cfg == nil {
					t.Error("expected config, got nil")
				}
			}
		})
	}
}

func TestLoadAppliesProviderDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}

	google, ok := cfg.Provider("google")
	if !ok {
		t.Fatal("google provider not found")
	}
	if google.ResponseMode != "fragment" {
		t.Errorf("ResponseMode = %q, want fragment", google.ResponseMode)
	}
	if google.ResponseType != "id_token" {
		t.Errorf("ResponseType = %q, want id_token", google.ResponseType)
	}
	if google.SubjectClaim != "sub" || google.EmailClaim != "email" {
		t.Errorf("claims = (%q, %q), want (sub, email)", google.SubjectClaim, google.EmailClaim)
	}
	if got := strings.Join(google.Scopes, " "); got != "openid profile" {
		t.Errorf("Scopes = %q, want %q", got, "openid profile")
	}

	if _, ok := cfg.Provider("github"); ok {
		t.Error("expected unknown provider lookup to fail")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OIDC_BROKER_GOOGLE_CLIENT_ID", "env-client")
	t.Setenv("OIDC_BROKER_LOG_LEVEL", "debug")
	t.Setenv("OIDC_BROKER_LISTEN_HTTP", "127.0.0.1:9999")

	cfg, err := Load(writeTempConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}

	google, _ := cfg.Provider("google")
	if google.ClientID != "env-client" {
		t.Errorf("expected client_id='env-client', got '%s'", google.ClientID)
	}

	facebook, _ := cfg.Provider("facebook")
	if facebook.ClientID != "fb-client" {
		t.Errorf("expected facebook client_id untouched, got '%s'", facebook.ClientID)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug', got '%s'", cfg.Log.Level)
	}

	if cfg.Listen.HTTP != "127.0.0.1:9999" {
		t.Errorf("expected listen override, got '%s'", cfg.Listen.HTTP)
	}
}

func TestEnvironmentSuppliesDefaultClientIDs(t *testing.T) {
	t.Setenv("OIDC_BROKER_FACEBOOK_CLIENT_ID", "fb")
	t.Setenv("OIDC_BROKER_GOOGLE_CLIENT_ID", "gl")

	cfg, err := Load(writeTempConfig(t, "log:\n  level: info\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("expected default providers, got %d", len(cfg.Providers))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "no providers",
			modify: func(c *Config) {
				c.Providers = nil
			},
			wantErr: true,
			errMsg:  "at least one provider",
		},
		{
			name: "session ttl zero",
			modify: func(c *Config) {
				c.Auth.SessionTTL = 0
			},
			wantErr: true,
			errMsg:  "auth.session_ttl must be positive",
		},
		{
			name: "negative sweep interval",
			modify: func(c *Config) {
				c.Auth.SweepInterval = -1
			},
			wantErr: true,
			errMsg:  "must not be negative",
		},
		{
			name: "issuer without scheme",
			modify: func(c *Config) {
				c.Providers[0].Issuer = "accounts.google.com"
			},
			wantErr: true,
			errMsg:  "must be a valid HTTP(S) URL",
		},
		{
			name: "uppercase provider id",
			modify: func(c *Config) {
				c.Providers[0].ID = "Google"
			},
			wantErr: true,
			errMsg:  "must be lowercase",
		},
		{
			name: "TLS enabled without cert",
			modify: func(c *Config) {
				c.TLS.Enabled = true
				c.TLS.CertFile = ""
			},
			wantErr: true,
			errMsg:  "are required when TLS is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Listen: ListenConfig{HTTP: ":8080"},
				Providers: []ProviderConfig{{
					ID:           "google",
					Issuer:       "https://accounts.google.com",
					ClientID:     "google-client",
					RedirectURI:  "https://oidcdebugger.com/debug",
					Scopes:       []string{"openid"},
					ResponseMode: "fragment",
					ResponseType: "id_token",
				}},
				Auth: AuthConfig{
					TransactionTTL: 900,
					SessionTTL:     86400,
					VerifyTimeout:  10,
				},
				Log: LogConfig{
					Level:  "info",
					Format: "json",
				},
			}

			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing '%s', got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %v, want error containing %v", err, tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestDurations(t *testing.T) {
	a := AuthConfig{TransactionTTL: 900, SessionTTL: 86400, VerifyTimeout: 10, SweepInterval: 0}

	if a.TransactionTTLDuration() != 15*time.Minute {
		t.Errorf("TransactionTTLDuration = %v", a.TransactionTTLDuration())
	}
	if a.SessionTTLDuration() != 24*time.Hour {
		t.Errorf("SessionTTLDuration = %v", a.SessionTTLDuration())
	}
	if a.VerifyTimeoutDuration() != 10*time.Second {
		t.Errorf("VerifyTimeoutDuration = %v", a.VerifyTimeoutDuration())
	}
	if a.SweepIntervalDuration() != 0 {
		t.Errorf("SweepIntervalDuration = %v", a.SweepIntervalDuration())
	}
}

func TestRedact(t *testing.T) {
	cfg := &Config{
		Providers: []ProviderConfig{
			{ID: "google", ClientID: "1234567890.apps.googleusercontent.com", Scopes: []string{"openid"}},
			{ID: "facebook", ClientID: "42"},
		},
	}

	redacted := cfg.Redact()

	if got := redacted.Providers[0].ClientID; !strings.HasPrefix(got, "123456") || !strings.HasSuffix(got, "[REDACTED]") {
		t.Errorf("unexpected redacted client id %q", got)
	}
	if got := redacted.Providers[1].ClientID; got != "[REDACTED]" {
		t.Errorf("expected [REDACTED], got %s", got)
	}

	// Original should be unchanged
	if cfg.Providers[0].ClientID != "1234567890.apps.googleusercontent.com" {
		t.Errorf("original was modified")
	}

	redacted.Providers[0].Scopes[0] = "changed"
	if cfg.Providers[0].Scopes[0] != "openid" {
		t.Errorf("redacted copy shares scopes with the original")
	}
}

func TestSetupLogging(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(old)
	})

	SetupLogging(&LogConfig{Level: "debug", Format: "json"})
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug logs to be enabled")
	}

	SetupLogging(&LogConfig{Level: "error", Format: "text"})
	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info logs to be disabled at error level")
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error logs to be enabled")
	}
}
