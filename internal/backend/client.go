package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/wonny/magicformula/internal/contracts"
	"github.com/wonny/magicformula/pkg/httputil"
	"github.com/wonny/magicformula/pkg/logger"
)

// Client handles communication with the stock ranking backend
// ⭐ SSOT: 백엔드 API 호출은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
}

// NewClient creates a new backend client for baseURL (no trailing slash needed)
func NewClient(httpClient *httputil.Client, baseURL string, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log.Component("backend"),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// BaseURL returns the backend origin requests are sent to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// call issues method path with an optional bearer credential and decodes into dest
func (c *Client) call(ctx context.Context, method, path, credential string, dest interface{}) error {
	req, err := c.httpClient.NewRequest(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	httputil.SetBearer(req, credential)

	if err := c.httpClient.DoJSON(req, dest); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// Health checks backend liveness. It carries the credential when present like every other call.
func (c *Client) Health(ctx context.Context, credential string) (*contracts.Health, error) {
	var out contracts.Health
	if err := c.call(ctx, http.MethodGet, "/health", credential, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
