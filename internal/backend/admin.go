package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wonny/magicformula/internal/contracts"
)

// ErrCacheAdmin wraps every cache administration failure
var ErrCacheAdmin = errors.New("cache admin request failed")

// CredentialFunc returns the current bearer credential, "" when signed out
type CredentialFunc func() string

// AdminClient wraps the backend's cache management endpoints.
// It keeps no state; every call is a single request/response.
type AdminClient struct {
	client     *Client
	credential CredentialFunc
	now        func() time.Time
}

// NewAdminClient creates a cache admin client. credential may be nil.
func NewAdminClient(client *Client, credential CredentialFunc) *AdminClient {
	if credential == nil {
		credential = func() string { return "" }
	}
	return &AdminClient{client: client, credential: credential, now: time.Now}
}

// Stats reads the backend cache snapshot
func (a *AdminClient) Stats(ctx context.Context) (*contracts.CacheStats, error) {
	var raw map[string]interface{}
	if err := a.client.call(ctx, http.MethodGet, "/api/admin/cache/stats", a.credential(), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheAdmin, err)
	}

	stats, err := decodeStats(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheAdmin, err)
	}
	stats.CheckedAt = a.now()
	return stats, nil
}

// Warm asks the backend to pre-compute year. It returns once the request is
// accepted; completion shows up later in Stats or a subsequent listing.
func (a *AdminClient) Warm(ctx context.Context, year int) (*contracts.WarmResult, error) {
	var out contracts.WarmResult
	path := fmt.Sprintf("/api/admin/warm-cache/%d", year)
	if err := a.client.call(ctx, http.MethodPost, path, a.credential(), &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheAdmin, err)
	}

	a.client.logger.WithField("year", year).Info("Cache warm-up requested")
	return &out, nil
}

// Invalidate drops the cached results for year
func (a *AdminClient) Invalidate(ctx context.Context, year int) error {
	return a.invalidate(ctx, fmt.Sprintf("/api/admin/cache/invalidate/%d", year))
}

// InvalidateAll drops every cached result
func (a *AdminClient) InvalidateAll(ctx context.Context) error {
	return a.invalidate(ctx, "/api/admin/cache/invalidate")
}

func (a *AdminClient) invalidate(ctx context.Context, path string) error {
	if err := a.client.call(ctx, http.MethodDelete, path, a.credential(), nil); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheAdmin, err)
	}
	a.client.logger.WithField("path", path).Info("Cache invalidated")
	return nil
}

// decodeStats accepts both the flat snapshot and the {"cache": {...}, "healthy": bool} envelope
func decodeStats(raw map[string]interface{}) (*contracts.CacheStats, error) {
	body := raw
	healthy, hasHealthy := raw["healthy"].(bool)
	if inner, ok := raw["cache"].(map[string]interface{}); ok {
		body = inner
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("re-encode stats: %w", err)
	}

	var stats contracts.CacheStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}

	if hasHealthy {
		stats.Healthy = healthy
	} else {
		stats.Healthy = stats.Status == contracts.CacheConnected
	}
	stats.Raw = raw
	return &stats, nil
}
