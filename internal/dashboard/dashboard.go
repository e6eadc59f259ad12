package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/magicformula/internal/contracts"
	"github.com/wonny/magicformula/internal/fetch"
	"github.com/wonny/magicformula/internal/paginate"
	"github.com/wonny/magicformula/pkg/config"
	"github.com/wonny/magicformula/pkg/logger"
)

// Fetcher is the part of fetch.Controller the dashboard drives
type Fetcher interface {
	Load(ctx context.Context, q contracts.Query, credential string, force bool) fetch.Result
	Reset()
	RefreshStats(ctx context.Context) (*contracts.CacheStats, error)
	Status() fetch.Status
}

// CacheAdmin runs the cache quick actions
type CacheAdmin interface {
	Warm(ctx context.Context, year int) (*contracts.WarmResult, error)
	Invalidate(ctx context.Context, year int) error
	InvalidateAll(ctx context.Context) error
}

// CredentialSource supplies the bearer credential for each load
type CredentialSource interface {
	Credential() string
}

// Months are the month names in selector order
var Months = []string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// Dashboard holds the user's view parameters and page, and reloads on change
type Dashboard struct {
	fetcher  Fetcher
	admin    CacheAdmin
	creds    CredentialSource
	pageSize int
	logger   *logger.Logger
	now      func() time.Time

	mu     sync.Mutex
	query  contracts.Query
	page   int
	notice string
}

// New creates a dashboard with the configured default query, page 1
func New(fetcher Fetcher, admin CacheAdmin, creds CredentialSource, cfg config.DashboardConfig, log *logger.Logger) *Dashboard {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = paginate.DefaultPageSize
	}

	return &Dashboard{
		fetcher:  fetcher,
		admin:    admin,
		creds:    creds,
		pageSize: pageSize,
		logger:   log.Component("dashboard"),
		now:      time.Now,
		query:    contracts.DefaultQuery(cfg.DefaultYear, cfg.DefaultLimit, time.Now()),
		page:     1,
	}
}

// Start reads cache stats and loads the default query
func (d *Dashboard) Start(ctx context.Context) fetch.Result {
	if _, err := d.LoadStats(ctx); err != nil {
		d.logger.WithError(err).Warn("Failed to load cache stats")
	}
	return d.Reload(ctx)
}

// Query returns the current view parameters
func (d *Dashboard) Query() contracts.Query {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.query
}

// UpdateQuery applies new view parameters. Any change discards the current
// result, resets the page to 1 and reloads. An identical query is a no-op.
func (d *Dashboard) UpdateQuery(ctx context.Context, q contracts.Query) (fetch.Result, error) {
	if err := q.Validate(d.now()); err != nil {
		return fetch.Result{}, err
	}

	d.mu.Lock()
	if q == d.query {
		d.mu.Unlock()
		status := d.fetcher.Status()
		return fetch.Result{Outcome: status.Outcome, Data: status.Result}, nil
	}
	d.query = q
	d.page = 1
	d.notice = ""
	d.mu.Unlock()

	d.logger.WithField("period", q.Period()).Debug("Query changed")
	d.fetcher.Reset()
	return d.load(ctx, q, false), nil
}

// Reload loads the current query unless a load is already in flight
func (d *Dashboard) Reload(ctx context.Context) fetch.Result {
	return d.load(ctx, d.Query(), false)
}

// Refresh forces the backend to recompute the current query
func (d *Dashboard) Refresh(ctx context.Context) fetch.Result {
	return d.load(ctx, d.Query(), true)
}

func (d *Dashboard) load(ctx context.Context, q contracts.Query, force bool) fetch.Result {
	res := d.fetcher.Load(ctx, q, d.creds.Credential(), force)

	d.mu.Lock()
	d.page = paginate.Paginate(res.Data.Len(), d.pageSize, d.page).Page
	d.mu.Unlock()

	return res
}

// SetPage moves to page, clamped into the available pages, and returns it
func (d *Dashboard) SetPage(page int) int {
	total := d.fetcher.Status().Result.Len()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.page = paginate.Paginate(total, d.pageSize, page).Page
	return d.page
}

// LoadStats refreshes the cache stats shown in the header
func (d *Dashboard) LoadStats(ctx context.Context) (*contracts.CacheStats, error) {
	return d.fetcher.RefreshStats(ctx)
}

// WarmCache asks the backend to pre-compute year, then re-reads stats.
// Completion is observed later through stats or a load.
func (d *Dashboard) WarmCache(ctx context.Context, year int) (*contracts.WarmResult, error) {
	res, err := d.admin.Warm(ctx, year)
	if err != nil {
		d.setNotice(fmt.Sprintf("Failed to warm cache: %v", err))
		return nil, err
	}

	d.setNotice(fmt.Sprintf("Cache warming started for %d", year))
	d.refreshStatsQuietly(ctx)
	return res, nil
}

// InvalidateCache drops cached results for year, or for every period when year is 0
func (d *Dashboard) InvalidateCache(ctx context.Context, year int) error {
	var err error
	if year == 0 {
		err = d.admin.InvalidateAll(ctx)
	} else {
		err = d.admin.Invalidate(ctx, year)
	}
	if err != nil {
		d.setNotice(fmt.Sprintf("Failed to invalidate cache: %v", err))
		return err
	}

	if year == 0 {
		d.setNotice("Cache cleared")
	} else {
		d.setNotice(fmt.Sprintf("Cache cleared for %d", year))
	}
	d.refreshStatsQuietly(ctx)
	return nil
}

// DismissNotice clears the quick action notice
func (d *Dashboard) DismissNotice() {
	d.setNotice("")
}

func (d *Dashboard) setNotice(msg string) {
	d.mu.Lock()
	d.notice = msg
	d.mu.Unlock()
}

func (d *Dashboard) refreshStatsQuietly(ctx context.Context) {
	if _, err := d.fetcher.RefreshStats(ctx); err != nil {
		d.logger.WithError(err).Warn("Failed to refresh cache stats")
	}
}
