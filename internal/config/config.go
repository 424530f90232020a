// Package config loads and validates the broker configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Listen    ListenConfig     `yaml:"listen"`
	Providers []ProviderConfig `yaml:"providers"`
	Auth      AuthConfig       `yaml:"auth"`
	TLS       TLSConfig        `yaml:"tls"`
	Log       LogConfig        `yaml:"log"`
}

// ListenConfig defines where the broker listens for requests
type ListenConfig struct {
	HTTP string `yaml:"http"` // HTTP server address (e.g., ":8080")
}

// ProviderConfig defines a single upstream OpenID Connect provider.
type ProviderConfig struct {
	ID           string   `yaml:"id"`            // Route prefix and user id prefix (e.g., "google")
	Issuer       string   `yaml:"issuer"`        // Issuer URL used for discovery
	ClientID     string   `yaml:"client_id"`     // OIDC client ID
	RedirectURI  string   `yaml:"redirect_uri"`  // Where the provider sends the id_token
	Scopes       []string `yaml:"scopes"`        // Requested scopes
	ResponseMode string   `yaml:"response_mode"` // fragment, query or form_post
	ResponseType string   `yaml:"response_type"` // id_token for the implicit flow
	SubjectClaim string   `yaml:"subject_claim"` // Claim holding the provider subject
	EmailClaim   string   `yaml:"email_claim"`   // Claim holding the email address
}

// AuthConfig defines login and session lifetimes. All values are seconds.
type AuthConfig struct {
	TransactionTTL int `yaml:"transaction_ttl"` // Pending login lifetime
	SessionTTL     int `yaml:"session_ttl"`     // Issued session lifetime
	VerifyTimeout  int `yaml:"verify_timeout"`  // Upper bound for ID token verification
	SweepInterval  int `yaml:"sweep_interval"`  // Expired entry sweep period, 0 disables
}

// TLSConfig defines TLS settings for the HTTP server
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

const envPrefix = "OIDC_BROKER_"

var providerIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// reservedIDs collide with provider-independent routes.
var reservedIDs = map[string]bool{
	"oauth":   true,
	"health":  true,
	"metrics": true,
}

var validResponseModes = map[string]bool{
	"fragment":  true,
	"query":     true,
	"form_post": true,
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyProviderDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
// The two demo providers are present but still need a client_id.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			HTTP: ":8080",
		},
		Providers: []ProviderConfig{
			{
				ID:           "facebook",
				Issuer:       "https://www.facebook.com",
				RedirectURI:  "https://oidcdebugger.com/debug",
				Scopes:       []string{"openid"},
				ResponseMode: "fragment",
				ResponseType: "id_token",
				SubjectClaim: "sub",
				EmailClaim:   "email",
			},
			{
				ID:           "google",
				Issuer:       "https://accounts.google.com",
				RedirectURI:  "https://oidcdebugger.com/debug",
				Scopes:       []string{"openid", "profile"},
				ResponseMode: "fragment",
				ResponseType: "id_token",
				SubjectClaim: "sub",
				EmailClaim:   "email",
			},
		},
		Auth: AuthConfig{
			TransactionTTL: 900,   // 15 minutes
			SessionTTL:     86400, // 24 hours
			VerifyTimeout:  10,
			SweepInterval:  0,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyProviderDefaults fills optional provider fields left empty in the file.
func (c *Config) applyProviderDefaults() {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.ResponseMode == "" {
			p.ResponseMode = "fragment"
		}
		if p.ResponseType == "" {
			p.ResponseType = "id_token"
		}
		if p.SubjectClaim == "" {
			p.SubjectClaim = "sub"
		}
		if p.EmailClaim == "" {
			p.EmailClaim = "email"
		}
		if len(p.Scopes) == 0 {
			p.Scopes = []string{"openid"}
		}
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	for i := range c.Providers {
		p := &c.Providers[i]
		prefix := envPrefix + envKey(p.ID) + "_"
		if v := os.Getenv(prefix + "CLIENT_ID"); v != "" {
			p.ClientID = v
		}
		if v := os.Getenv(prefix + "REDIRECT_URI"); v != "" {
			p.RedirectURI = v
		}
		if v := os.Getenv(prefix + "ISSUER"); v != "" {
			p.Issuer = v
		}
	}

	// Log overrides
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}

	// Listen overrides
	if v := os.Getenv(envPrefix + "LISTEN_HTTP"); v != "" {
		c.Listen.HTTP = v
	}
}

// envKey turns a provider id into its environment variable segment.
func envKey(id string) string {
	return strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.ID] {
			return fmt.Errorf("providers: duplicate id %q", p.ID)
		}
		seen[p.ID] = true
	}

	// Validate auth config
	if c.Auth.TransactionTTL <= 0 {
		return fmt.Errorf("auth.transaction_ttl must be positive")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	if c.Auth.VerifyTimeout <= 0 {
		return fmt.Errorf("auth.verify_timeout must be positive")
	}
	if c.Auth.SweepInterval < 0 {
		return fmt.Errorf("auth.sweep_interval must not be negative")
	}

	// Validate TLS config
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}

		if _, err := os.Stat(c.TLS.CertFile); err != nil {
			return fmt.Errorf("tls.cert_file not found: %w", err)
		}
		if _, err := os.Stat(c.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls.key_file not found: %w", err)
		}
	}

	// Validate log config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	if c.Listen.HTTP == "" {
		return fmt.Errorf("listen.http is required")
	}

	return nil
}

// Validate checks a single provider entry.
func (p *ProviderConfig) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("providers: id is required")
	}
	if !providerIDPattern.MatchString(p.ID) {
		return fmt.Errorf("providers: id %q must be lowercase alphanumeric", p.ID)
	}
	if reservedIDs[p.ID] {
		return fmt.Errorf("providers: id %q is reserved", p.ID)
	}

	field := func(name string) string { return "providers." + p.ID + "." + name }

	if p.Issuer == "" {
		return fmt.Errorf("%s is required", field("issuer"))
	}
	if !isHTTPURL(p.Issuer) {
		return fmt.Errorf("%s must be a valid HTTP(S) URL", field("issuer"))
	}

	if p.ClientID == "" {
		return fmt.Errorf("%s is required", field("client_id"))
	}

	if p.RedirectURI == "" {
		return fmt.Errorf("%s is required", field("redirect_uri"))
	}
	if !isHTTPURL(p.RedirectURI) {
		return fmt.Errorf("%s must be a valid HTTP(S) URL", field("redirect_uri"))
	}

	hasOpenID := false
	for _, scope := range p.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("%s must include 'openid'", field("scopes"))
	}

	if !validResponseModes[p.ResponseMode] {
		return fmt.Errorf("%s must be one of: fragment, query, form_post", field("response_mode"))
	}
	if p.ResponseType == "" {
		return fmt.Errorf("%s is required", field("response_type"))
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// TransactionTTLDuration returns the pending login lifetime.
func (a AuthConfig) TransactionTTLDuration() time.Duration {
	return time.Duration(a.TransactionTTL) * time.Second
}

// SessionTTLDuration returns the issued session lifetime.
func (a AuthConfig) SessionTTLDuration() time.Duration {
	return time.Duration(a.SessionTTL) * time.Second
}

// VerifyTimeoutDuration returns the verification deadline.
func (a AuthConfig) VerifyTimeoutDuration() time.Duration {
	return time.Duration(a.VerifyTimeout) * time.Second
}

// SweepIntervalDuration returns the sweep period; zero means disabled.
func (a AuthConfig) SweepIntervalDuration() time.Duration {
	return time.Duration(a.SweepInterval) * time.Second
}

// Provider returns the provider entry with the given id.
func (c *Config) Provider(id string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// Redact returns a deep-enough copy of the config with client ids shortened
// for safe logging.
func (c *Config) Redact() *Config {
	redacted := *c
	if c.Providers != nil {
		redacted.Providers = make([]ProviderConfig, len(c.Providers))
		for i, p := range c.Providers {
			if p.Scopes != nil {
				p.Scopes = append([]string(nil), p.Scopes...)
			}
			if p.ClientID != "" {
				p.ClientID = redactID(p.ClientID)
			}
			redacted.Providers[i] = p
		}
	}
	return &redacted
}

// redactID keeps a short prefix of an identifier for correlation.
func redactID(id string) string {
	if len(id) <= 6 {
		return "[REDACTED]"
	}
	return id[:6] + "…[REDACTED]"
}
