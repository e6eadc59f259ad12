package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the dashboard
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Local dashboard server
	Port      string
	Host      string // interface the server binds; BIND_HOST opts into wider binding
	Env       string // development, staging, production
	PublicURL string // origin the browser uses to reach the dashboard

	// Backend API
	API APIConfig

	// Identity provider (Keycloak)
	Identity IdentityConfig

	// Session lifecycle
	Session SessionConfig

	// Dashboard defaults
	Dashboard DashboardConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// APIConfig holds stock backend configuration
type APIConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	RateBurst int
}

// IdentityConfig holds OIDC identity provider configuration
type IdentityConfig struct {
	URLOverride string // KEYCLOAK_URL, wins over host-derived URL
	Realm       string
	ClientID    string
	Port        int // alternate port used when deriving the URL from the page host
	Scopes      []string
}

// SessionConfig holds session lifecycle timings
type SessionConfig struct {
	InitTimeout     time.Duration
	RefreshInterval time.Duration
	MinValidity     time.Duration
}

// DashboardConfig holds default view parameters
type DashboardConfig struct {
	PageSize     int
	DefaultYear  int
	DefaultLimit int
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port:      getEnv("PORT", "3000"),
		Env:       getEnv("ENV", "development"),
		PublicURL: getEnv("PUBLIC_URL", "http://localhost:3000"),

		API: APIConfig{
			BaseURL:   strings.TrimRight(getEnv("API_URL", "http://localhost:8000"), "/"),
			Timeout:   getEnvAsDuration("API_TIMEOUT", "30s"),
			RateLimit: getEnvAsFloat("API_RATE_LIMIT", 10),
			RateBurst: getEnvAsInt("API_RATE_BURST", 5),
		},

		Identity: IdentityConfig{
			URLOverride: getEnv("KEYCLOAK_URL", ""),
			Realm:       getEnv("KEYCLOAK_REALM", "stock-analysis"),
			ClientID:    getEnv("KEYCLOAK_CLIENT_ID", "stock-analysis-client"),
			Port:        getEnvAsInt("KEYCLOAK_PORT", 8090),
			Scopes:      strings.Fields(getEnv("KEYCLOAK_SCOPES", "openid profile email")),
		},

		Session: SessionConfig{
			InitTimeout:     getEnvAsDuration("SESSION_INIT_TIMEOUT", "5s"),
			RefreshInterval: getEnvAsDuration("SESSION_REFRESH_INTERVAL", "5m"),
			MinValidity:     getEnvAsDuration("SESSION_MIN_VALIDITY", "70s"),
		},

		Dashboard: DashboardConfig{
			PageSize:     getEnvAsInt("DASHBOARD_PAGE_SIZE", 12),
			DefaultYear:  getEnvAsInt("DASHBOARD_DEFAULT_YEAR", 2024),
			DefaultLimit: getEnvAsInt("DASHBOARD_DEFAULT_LIMIT", 10),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	cfg.Host = getEnv("BIND_HOST", bindHost(cfg.PublicURL))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if configuration values are usable
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("API_URL is required")
	}

	if c.Identity.Realm == "" || c.Identity.ClientID == "" {
		return fmt.Errorf("KEYCLOAK_REALM and KEYCLOAK_CLIENT_ID are required")
	}

	if c.Session.InitTimeout <= 0 || c.Session.RefreshInterval <= 0 || c.Session.MinValidity < 0 {
		return fmt.Errorf("session timings must be positive")
	}

	if c.Dashboard.PageSize <= 0 {
		return fmt.Errorf("DASHBOARD_PAGE_SIZE must be positive")
	}

	if c.Dashboard.DefaultLimit <= 0 {
		return fmt.Errorf("DASHBOARD_DEFAULT_LIMIT must be positive")
	}

	return nil
}

// Helper functions (private, only used within this file)

// bindHost derives the listen host from the public URL.
// The session is shared by the whole process, so local URLs bind to loopback only.
func bindHost(publicURL string) string {
	u, err := url.Parse(publicURL)
	if err != nil || u.Hostname() == "" {
		return "127.0.0.1"
	}

	switch host := u.Hostname(); host {
	case "localhost", "127.0.0.1", "0.0.0.0":
		return "127.0.0.1"
	case "::1":
		return "::1"
	default:
		return host
	}
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
		"dashboard/.env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
