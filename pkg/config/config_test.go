package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("Expected Port to be 3000, got %s", cfg.Port)
	}

	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Errorf("Expected API BaseURL to be http://localhost:8000, got %s", cfg.API.BaseURL)
	}

	if cfg.Identity.Realm != "stock-analysis" {
		t.Errorf("Expected realm stock-analysis, got %s", cfg.Identity.Realm)
	}

	if cfg.Session.InitTimeout != 5*time.Second {
		t.Errorf("Expected InitTimeout 5s, got %v", cfg.Session.InitTimeout)
	}

	if cfg.Session.RefreshInterval != 5*time.Minute {
		t.Errorf("Expected RefreshInterval 5m, got %v", cfg.Session.RefreshInterval)
	}

	if cfg.Session.MinValidity != 70*time.Second {
		t.Errorf("Expected MinValidity 70s, got %v", cfg.Session.MinValidity)
	}

	if cfg.Dashboard.PageSize != 12 {
		t.Errorf("Expected PageSize 12, got %d", cfg.Dashboard.PageSize)
	}
}

func TestLoadWithCustomValues(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "production")
	t.Setenv("API_URL", "https://stocks.example.com/")
	t.Setenv("KEYCLOAK_URL", "https://sso.example.com")
	t.Setenv("SESSION_INIT_TIMEOUT", "2s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("Expected Port to be 9000, got %s", cfg.Port)
	}

	if cfg.Env != "production" {
		t.Errorf("Expected Env to be production, got %s", cfg.Env)
	}

	// trailing slash is trimmed so endpoint paths can be appended
	if cfg.API.BaseURL != "https://stocks.example.com" {
		t.Errorf("Expected trimmed API BaseURL, got %s", cfg.API.BaseURL)
	}

	if cfg.Identity.URLOverride != "https://sso.example.com" {
		t.Errorf("Expected identity override, got %s", cfg.Identity.URLOverride)
	}

	if cfg.Session.InitTimeout != 2*time.Second {
		t.Errorf("Expected InitTimeout 2s, got %v", cfg.Session.InitTimeout)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("Expected LogLevel to be debug, got %s", cfg.LogLevel)
	}
}

func TestValidateInvalidEnv(t *testing.T) {
	t.Setenv("ENV", "invalid")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when ENV is invalid, got nil")
	}
}

func TestValidateInvalidPageSize(t *testing.T) {
	t.Setenv("DASHBOARD_PAGE_SIZE", "0")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when page size is zero, got nil")
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	os.Setenv("TEST_DURATION", "2h")
	defer os.Unsetenv("TEST_DURATION")

	duration := getEnvAsDuration("TEST_DURATION", "1h")
	expected := 2 * time.Hour

	if duration != expected {
		t.Errorf("Expected duration to be %v, got %v", expected, duration)
	}

	os.Setenv("TEST_DURATION", "soon")
	if got := getEnvAsDuration("TEST_DURATION", "1h"); got != time.Hour {
		t.Errorf("Expected fallback to 1h, got %v", got)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	os.Setenv("TEST_INT", "100")
	defer os.Unsetenv("TEST_INT")

	value := getEnvAsInt("TEST_INT", 50)
	if value != 100 {
		t.Errorf("Expected value to be 100, got %d", value)
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	os.Setenv("TEST_FLOAT", "2.5")
	defer os.Unsetenv("TEST_FLOAT")

	value := getEnvAsFloat("TEST_FLOAT", 1)
	if value != 2.5 {
		t.Errorf("Expected value to be 2.5, got %v", value)
	}
}

func TestBindHost(t *testing.T) {
	tests := []struct {
		publicURL string
		want      string
	}{
		{"http://localhost:3000", "127.0.0.1"},
		{"http://127.0.0.1:3000", "127.0.0.1"},
		{"http://0.0.0.0:3000", "127.0.0.1"},
		{"http://[::1]:3000", "::1"},
		{"https://dashboard.example.com", "dashboard.example.com"},
		{"not a url", "127.0.0.1"},
	}

	for _, tt := range tests {
		if got := bindHost(tt.publicURL); got != tt.want {
			t.Errorf("bindHost(%q) = %q, want %q", tt.publicURL, got, tt.want)
		}
	}
}

func TestLoadBindHost(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Expected loopback Host by default, got %s", cfg.Host)
	}

	t.Setenv("BIND_HOST", "0.0.0.0")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("Expected explicit BIND_HOST to win, got %s", cfg.Host)
	}
}
