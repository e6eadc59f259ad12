package dashboard

import (
	"time"

	"github.com/wonny/magicformula/internal/contracts"
	"github.com/wonny/magicformula/internal/fetch"
	"github.com/wonny/magicformula/internal/paginate"
)

// View is everything needed to render the dashboard once
type View struct {
	Query         contracts.Query         `json:"query"`
	Page          paginate.Window         `json:"page"`
	Stocks        []contracts.StockRecord `json:"stocks"`
	Loading       bool                    `json:"loading"`
	Outcome       fetch.Outcome           `json:"outcome"`
	Message       string                  `json:"message,omitempty"`
	Cached        bool                    `json:"cached"`
	FetchedAt     *time.Time              `json:"fetched_at,omitempty"`
	Stats         *contracts.CacheStats   `json:"cache_stats,omitempty"`
	CacheReady    bool                    `json:"cache_ready"`
	NoResults     bool                    `json:"no_results"` // finished load with nothing to show
	Notice        string                  `json:"notice,omitempty"`
	Years         []int                   `json:"years"`
	Months        []string                `json:"months"`
	AllowedLimits []int                   `json:"allowed_limits"`
}

// View returns the visible page of the current result
func (d *Dashboard) View() View {
	status := d.fetcher.Status()

	d.mu.Lock()
	q := d.query
	page := d.page
	notice := d.notice
	d.mu.Unlock()

	var stocks []contracts.StockRecord
	if status.Result != nil {
		stocks = status.Result.Stocks
	}
	window := paginate.Paginate(len(stocks), d.pageSize, page)

	v := View{
		Query:         q,
		Page:          window,
		Stocks:        paginate.Slice(stocks, window),
		Loading:       status.Loading,
		Outcome:       status.Outcome,
		Message:       status.Message,
		Stats:         status.Stats,
		CacheReady:    status.Stats.Connected(),
		Notice:        notice,
		Years:         contracts.SelectableYears(d.now()),
		Months:        Months,
		AllowedLimits: contracts.AllowedLimits,
	}
	if status.Result != nil {
		v.Cached = status.Result.Cached
		fetchedAt := status.Result.FetchedAt
		v.FetchedAt = &fetchedAt
	}
	v.NoResults = !v.Loading && v.Outcome == fetch.Success && window.Total == 0
	if v.Stocks == nil {
		v.Stocks = []contracts.StockRecord{}
	}
	return v
}
