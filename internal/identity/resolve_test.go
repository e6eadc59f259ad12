package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBaseURL(t *testing.T) {
	tests := []struct {
		name      string
		publicURL string
		override  string
		want      string
	}{
		{"override wins", "http://dash.example.com", "https://sso.example.com/", "https://sso.example.com"},
		{"localhost", "http://localhost:3000", "", "http://localhost:8090"},
		{"ipv4 loopback", "http://127.0.0.1:3000", "", "http://localhost:8090"},
		{"any address", "http://0.0.0.0:3000", "", "http://localhost:8090"},
		{"lan host", "http://192.168.1.20:3000", "", "http://192.168.1.20:8090"},
		{"https host", "https://dash.example.com", "", "https://dash.example.com:8090"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveBaseURL(tt.publicURL, tt.override, 8090)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveBaseURL_NoHost(t *testing.T) {
	_, err := ResolveBaseURL("/relative/only", "", 8090)
	assert.Error(t, err)
}

func TestConfig_IssuerURL(t *testing.T) {
	cfg := Config{BaseURL: "http://localhost:8090/", Realm: "stock-analysis"}
	assert.Equal(t, "http://localhost:8090/realms/stock-analysis", cfg.IssuerURL())
}
