package web

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wonny/magicformula/pkg/config"
	"github.com/wonny/magicformula/pkg/logger"
)

func TestNewServer_Addr(t *testing.T) {
	tests := []struct {
		name string
		host string
		want string
	}{
		{"loopback by default", "127.0.0.1", "127.0.0.1:3000"},
		{"ipv6 loopback", "::1", "[::1]:3000"},
		{"explicit wide binding", "0.0.0.0", "0.0.0.0:3000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Port: "3000", Host: tt.host, API: config.APIConfig{Timeout: time.Second}}
			srv := NewServer(cfg, logger.Nop(), http.NotFoundHandler())
			assert.Equal(t, tt.want, srv.Addr())
		})
	}
}
