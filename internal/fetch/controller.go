package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wonny/magicformula/internal/backend"
	"github.com/wonny/magicformula/internal/contracts"
	"github.com/wonny/magicformula/pkg/httputil"
	"github.com/wonny/magicformula/pkg/logger"
)

// Outcome classifies the last load
type Outcome string

const (
	Idle       Outcome = "idle"
	Success    Outcome = "success"
	Processing Outcome = "processing" // backend is still computing the period
	Error      Outcome = "error"
	Rejected   Outcome = "rejected" // another load was in flight
	Deferred   Outcome = "deferred" // only loads for a reset query were in flight; runs when they drain
	Stale      Outcome = "stale"    // finished after Reset, discarded
)

var (
	ErrNotReady    = errors.New("data for this period is still being calculated")
	ErrFetchFailed = errors.New("failed to load stocks")
)

// ProcessingMessage is shown while the backend computes a period
const ProcessingMessage = "Analyzing market data. Results for this period are still being calculated, check back in a few minutes."

// statsTimeout bounds the detached stats refresh
const statsTimeout = 10 * time.Second

// StocksSource fetches ranked stocks
type StocksSource interface {
	TopStocks(ctx context.Context, q contracts.Query, credential string, force bool) (*backend.StocksResponse, error)
}

// StatsSource reads cache statistics
type StatsSource interface {
	Stats(ctx context.Context) (*contracts.CacheStats, error)
}

// Result is what one Load call observed
type Result struct {
	Outcome Outcome
	Data    *contracts.FetchResult // result held by the controller after the call
	Err     error
}

// Message is the user-facing text for the outcome, "" on success
func (r Result) Message() string {
	return outcomeMessage(r.Outcome, r.Err)
}

// Status is a snapshot of the controller for rendering
type Status struct {
	Seq        uint64                 `json:"seq"`
	Generation uint64                 `json:"generation"`
	Loading    bool                   `json:"loading"`
	Outcome    Outcome                `json:"outcome"`
	Message    string                 `json:"message,omitempty"`
	Result     *contracts.FetchResult `json:"result,omitempty"`
	Stats      *contracts.CacheStats  `json:"cache_stats,omitempty"`
}

// Controller performs guarded stock loads and keeps the current FetchResult
// ⭐ SSOT: FetchResult는 이 컨트롤러만 교체
type Controller struct {
	stocks StocksSource
	stats  StatsSource
	logger *logger.Logger
	now    func() time.Time

	mu         sync.Mutex
	result     *contracts.FetchResult
	inFlight   int // all outstanding loads, any generation
	current    int // outstanding loads of the current generation
	generation uint64
	deferred   *deferredLoad
	outcome    Outcome
	lastErr    error
	cacheStats *contracts.CacheStats
	seq        uint64
	listeners  map[int]func(Status)
	nextID     int

	notifyMu sync.Mutex
	lastSeq  uint64

	detached sync.WaitGroup
}

// deferredLoad is a non-forced load waiting for stale loads to drain
type deferredLoad struct {
	query      contracts.Query
	credential string
	generation uint64
}

// New creates a fetch controller. stats may be nil to skip stats refreshes.
func New(stocks StocksSource, stats StatsSource, log *logger.Logger) *Controller {
	return &Controller{
		stocks:    stocks,
		stats:     stats,
		logger:    log.Component("fetch"),
		now:       time.Now,
		outcome:   Idle,
		listeners: make(map[int]func(Status)),
	}
}

// Load fetches stocks for q.
// A non-forced call while any load is in flight never reaches the backend.
// It is rejected when a load of the current query is outstanding. When only
// loads for a reset query are outstanding it is deferred and issued once
// they drain, so a query change is not lost. Forced calls always go out;
// overlapping loads of one generation are last-write-wins.
func (c *Controller) Load(ctx context.Context, q contracts.Query, credential string, force bool) Result {
	c.mu.Lock()
	if !force && c.inFlight > 0 {
		prior := c.result
		outcome := Rejected
		if c.current == 0 {
			outcome = Deferred
			c.deferred = &deferredLoad{query: q, credential: credential, generation: c.generation}
		}
		c.mu.Unlock()

		c.logger.WithFields(map[string]interface{}{
			"period":  q.Period(),
			"outcome": outcome,
		}).Debug("Load already in flight, skipping")
		return Result{Outcome: outcome, Data: prior}
	}
	c.inFlight++
	c.current++
	gen := c.generation
	started := c.statusLocked()
	c.mu.Unlock()
	c.deliver(started)

	log := c.logger.WithFields(map[string]interface{}{
		"mode":  q.Mode,
		"year":  q.Year,
		"month": q.Month,
		"limit": q.Limit,
		"force": force,
	})
	log.Info("Loading stocks")

	resp, err := c.stocks.TopStocks(ctx, q, credential, force)

	c.mu.Lock()
	c.inFlight--
	if gen != c.generation {
		current := c.result
		next := c.takeDeferredLocked()
		status := c.statusLocked()
		c.mu.Unlock()

		log.Debug("Discarding load for a reset query")
		c.deliver(status)
		c.runDeferred(next)
		c.refreshStatsDetached()
		return Result{Outcome: Stale, Data: current}
	}
	c.current--
	c.deferred = nil // a load of this query has landed

	var res Result
	switch {
	case err == nil:
		c.result = &contracts.FetchResult{
			Query:     q,
			Stocks:    resp.Stocks,
			Cached:    resp.Cached,
			FetchedAt: c.now(),
		}
		c.outcome, c.lastErr = Success, nil
		res = Result{Outcome: Success, Data: c.result}
	case httputil.IsStatus(err, http.StatusNotFound):
		c.outcome, c.lastErr = Processing, fmt.Errorf("%w: %w", ErrNotReady, err)
		res = Result{Outcome: Processing, Data: c.result, Err: c.lastErr}
	default:
		c.outcome, c.lastErr = Error, fmt.Errorf("%w: %w", ErrFetchFailed, err)
		res = Result{Outcome: Error, Data: c.result, Err: c.lastErr}
	}
	finished := c.statusLocked()
	c.mu.Unlock()

	switch res.Outcome {
	case Success:
		log.WithFields(map[string]interface{}{
			"count":  res.Data.Len(),
			"cached": res.Data.Cached,
		}).Info("Stocks loaded")
	case Processing:
		log.Info("Period still being calculated")
	default:
		log.WithError(err).Warn("Failed to load stocks")
	}

	c.deliver(finished)
	c.refreshStatsDetached()
	return res
}

// Reset discards the current result and starts a new query generation.
// Loads still in flight from earlier generations are discarded on completion
// but keep counting as in flight until then.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.generation++
	c.current = 0
	c.deferred = nil
	c.result = nil
	c.outcome, c.lastErr = Idle, nil
	status := c.statusLocked()
	c.mu.Unlock()

	c.deliver(status)
}

// RefreshStats reads cache statistics now and stores them
func (c *Controller) RefreshStats(ctx context.Context) (*contracts.CacheStats, error) {
	if c.stats == nil {
		return nil, nil
	}

	stats, err := c.stats.Stats(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cacheStats = stats
	status := c.statusLocked()
	c.mu.Unlock()

	c.deliver(status)
	return stats, nil
}

// refreshStatsDetached refreshes stats in the background; failures are only logged
func (c *Controller) refreshStatsDetached() {
	if c.stats == nil {
		return
	}

	c.detached.Add(1)
	go func() {
		defer c.detached.Done()

		ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
		defer cancel()

		if _, err := c.RefreshStats(ctx); err != nil {
			c.logger.WithError(err).Warn("Failed to refresh cache stats")
		}
	}()
}

// takeDeferredLocked returns the deferred load once nothing is in flight
func (c *Controller) takeDeferredLocked() *deferredLoad {
	next := c.deferred
	if next == nil || c.inFlight > 0 || next.generation != c.generation {
		return nil
	}
	c.deferred = nil
	return next
}

// runDeferred issues a deferred load in the background
func (c *Controller) runDeferred(next *deferredLoad) {
	if next == nil {
		return
	}

	c.detached.Add(1)
	go func() {
		defer c.detached.Done()
		c.Load(context.Background(), next.query, next.credential, false)
	}()
}

// Wait blocks until detached stats refreshes and deferred loads have finished
func (c *Controller) Wait() {
	c.detached.Wait()
}

// Status returns the current snapshot
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

// Subscribe registers fn for status changes and returns a func that removes it
func (c *Controller) Subscribe(fn func(Status)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// statusLocked records a change and returns the status to deliver
func (c *Controller) statusLocked() Status {
	c.seq++
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Status {
	return Status{
		Seq:        c.seq,
		Generation: c.generation,
		Loading:    c.inFlight > 0, // includes loads for a reset query
		Outcome:    c.outcome,
		Message:    outcomeMessage(c.outcome, c.lastErr),
		Result:     c.result,
		Stats:      c.cacheStats,
	}
}

func (c *Controller) deliver(s Status) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if s.Seq <= c.lastSeq {
		return
	}
	c.lastSeq = s.Seq

	c.mu.Lock()
	listeners := make([]func(Status), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// outcomeMessage maps an outcome to the text the dashboard shows.
// Errors carry the backend's own message.
func outcomeMessage(o Outcome, err error) string {
	switch o {
	case Processing:
		return ProcessingMessage
	case Error:
		var se *httputil.StatusError
		if errors.As(err, &se) {
			return se.Message
		}
		if err != nil {
			return err.Error()
		}
	}
	return ""
}
