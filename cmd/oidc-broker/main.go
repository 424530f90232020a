package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/al-bashkir/oidc-broker/internal/config"
	"github.com/al-bashkir/oidc-broker/internal/daemon"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitConfig  = 3
)

var rootCmd = &cobra.Command{
	Use:   "oidc-broker",
	Short: "OpenID Connect identity-provider broker",
	Long: `A broker that authenticates users through external OpenID Connect
providers and issues its own opaque bearer session tokens.

For every configured provider {p} it serves:
  GET  /{p}/login      redirect to the provider
  POST /{p}/login      exchange state + id_token for a session token
  GET  /{p}/user-info  resolve a bearer token to its user

plus GET /oauth/codeChallenge, /health and /metrics.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker",
	Long: `Start the broker HTTP server.

On startup the broker performs OIDC discovery for every configured
provider and exits if any of them cannot be reached. Sessions and login
transactions are kept in memory and do not survive a restart.`,
	RunE: runServe,
}

// overrideExitCode is set by subcommands (check-config) so main() can
// call os.Exit() after cobra finishes.  This avoids calling os.Exit() inside
// RunE which would bypass deferred functions.  -1 means "use default".
var overrideExitCode = -1

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long: `Load and validate the configuration file without starting the broker.

Checks for:
  - Valid YAML syntax
  - Unique, well-formed provider ids
  - Required provider fields and valid URLs
  - Supported response modes and positive TTLs

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

func init() {
	// Global flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "/etc/oidc-broker/config.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	// If a subcommand set a specific exit code, use it.
	// This is done outside RunE so deferred functions run properly.
	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// runServe starts the daemon
func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override log settings from flags if provided
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	// Initialize structured logging based on config
	config.SetupLogging(&cfg.Log)

	slog.Info("starting OIDC broker",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"config", configFile,
		"providers", len(cfg.Providers),
	)

	// Create and run daemon
	d, err := daemon.New(cfg, version)
	if err != nil {
		slog.Error("failed to create daemon", "error", err)
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx := context.Background()
	if cmd != nil && cmd.Context() != nil {
		ctx = cmd.Context()
	}
	return d.Run(ctx)
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("oidc-broker version %s\n", version)
	fmt.Printf("  Commit:     %s\n", commit)
	fmt.Printf("  Build date: %s\n", buildDate)
	fmt.Printf("  Go version: %s\n", getGoVersion())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	fmt.Printf("Checking configuration: %s\n\n", configFile)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed:\n")
		fmt.Fprintf(os.Stderr, "   %v\n", err)
		overrideExitCode = ExitConfig
		return nil // exit code handled via overrideExitCode
	}

	// Print configuration summary (with secrets redacted)
	redacted := cfg.Redact()

	fmt.Println("✅ Configuration is valid")
	fmt.Println()
	fmt.Println("Configuration summary:")
	fmt.Printf("  HTTP Listen:      %s\n", redacted.Listen.HTTP)
	fmt.Printf("  TLS Enabled:      %v\n", redacted.TLS.Enabled)
	fmt.Printf("  Transaction TTL:  %s\n", redacted.Auth.TransactionTTLDuration())
	fmt.Printf("  Session TTL:      %s\n", redacted.Auth.SessionTTLDuration())
	fmt.Printf("  Verify Timeout:   %s\n", redacted.Auth.VerifyTimeoutDuration())
	fmt.Printf("  Sweep Interval:   %s\n", sweepDescription(redacted.Auth))
	fmt.Printf("  Log Level:        %s\n", redacted.Log.Level)
	fmt.Printf("  Log Format:       %s\n", redacted.Log.Format)

	for _, p := range redacted.Providers {
		fmt.Printf("\n  Provider %s:\n", p.ID)
		fmt.Printf("    Issuer:         %s\n", p.Issuer)
		fmt.Printf("    Client ID:      %s\n", p.ClientID)
		fmt.Printf("    Redirect URI:   %s\n", p.RedirectURI)
		fmt.Printf("    Scopes:         %s\n", strings.Join(p.Scopes, " "))
		fmt.Printf("    Response:       %s (%s)\n", p.ResponseType, p.ResponseMode)
	}

	fmt.Println("\n✅ Ready to start broker")

	return nil
}

func sweepDescription(a config.AuthConfig) string {
	if a.SweepIntervalDuration() <= 0 {
		return "disabled"
	}
	return a.SweepIntervalDuration().String()
}

// getGoVersion returns the Go version used to build the binary
func getGoVersion() string {
	return runtime.Version()
}
