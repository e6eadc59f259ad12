package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/magicformula/internal/backend"
	"github.com/wonny/magicformula/pkg/config"
	"github.com/wonny/magicformula/pkg/httputil"
	"github.com/wonny/magicformula/pkg/logger"
)

var (
	// Global flags
	apiURL  string
	token   string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Magic Formula stock dashboard",
	Long: `Magic Formula dashboard CLI

Serves the signed-in dashboard and talks to the stock backend directly.

Usage:
  go run ./cmd/dashboard [command]

Examples:
  go run ./cmd/dashboard serve
  go run ./cmd/dashboard stocks --year 2024 --limit 10
  go run ./cmd/dashboard stocks --mode monthly --year 2024 --month 3
  go run ./cmd/dashboard cache stats
  go run ./cmd/dashboard health`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "backend base URL (default from API_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token for direct backend calls")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// bootstrap loads config, applies global flags and builds the logger
func bootstrap() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	return cfg, logger.New(cfg), nil
}

// newBackend builds the rate-limited backend client
func newBackend(cfg *config.Config, log *logger.Logger) *backend.Client {
	httpClient := httputil.New(cfg, log).WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst)
	return backend.NewClient(httpClient, cfg.API.BaseURL, log)
}

// healthTimeout bounds liveness probes so /health answers quickly
const healthTimeout = 5 * time.Second

// newHealthBackend builds an unthrottled backend client for liveness probes
func newHealthBackend(cfg *config.Config, log *logger.Logger) *backend.Client {
	return backend.NewClient(httputil.NewWithTimeout(cfg, log, healthTimeout), cfg.API.BaseURL, log)
}

// staticToken is the --token flag as a credential source
func staticToken() string {
	return token
}
