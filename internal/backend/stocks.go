package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/wonny/magicformula/internal/contracts"
)

// StocksResponse is the listing payload of both top-stock endpoints
type StocksResponse struct {
	Year             int                     `json:"year"`
	Month            *int                    `json:"month"`
	RequestedMonth   *int                    `json:"requested_month,omitempty"`
	FallbackToYearly bool                    `json:"fallback_to_yearly,omitempty"`
	TopN             int                     `json:"top_n"`
	TotalInDatabase  int                     `json:"total_in_database,omitempty"`
	Stocks           []contracts.StockRecord `json:"stocks"`
	Cached           bool                    `json:"cached"`
	GeneratedAt      string                  `json:"generated_at,omitempty"`
}

// StocksPath builds the listing path for q, including query parameters
func StocksPath(q contracts.Query, force bool) string {
	var path string
	if q.Mode == contracts.ModeMonthly {
		path = fmt.Sprintf("/api/stocks/top/monthly/%d/%d", q.Year, q.Month)
	} else {
		path = fmt.Sprintf("/api/stocks/top/year/%d", q.Year)
	}

	params := url.Values{}
	params.Set("top_n", strconv.Itoa(q.Limit))
	params.Set("force_refresh", strconv.FormatBool(force))
	return path + "?" + params.Encode()
}

// TopStocks fetches the ranked list for q. force asks the backend to bypass its cache.
// A 404 means the period is still being computed; callers classify it.
func (c *Client) TopStocks(ctx context.Context, q contracts.Query, credential string, force bool) (*StocksResponse, error) {
	path := StocksPath(q, force)

	c.logger.WithFields(map[string]interface{}{
		"mode":  q.Mode,
		"year":  q.Year,
		"month": q.Month,
		"limit": q.Limit,
		"force": force,
	}).Debug("Requesting top stocks")

	var out StocksResponse
	if err := c.call(ctx, http.MethodGet, path, credential, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
