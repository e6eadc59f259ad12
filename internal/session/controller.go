package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wonny/magicformula/internal/identity"
	"github.com/wonny/magicformula/internal/scheduler"
	"github.com/wonny/magicformula/pkg/config"
	"github.com/wonny/magicformula/pkg/logger"
)

// RefreshJobName is the scheduler job that keeps the credential fresh
const RefreshJobName = "token-refresh"

// IdentityProvider is what the controller needs from the identity client
type IdentityProvider interface {
	Init(ctx context.Context, opts identity.InitOptions) (bool, error)
	Login(ctx context.Context, redirectURI string) (string, error)
	Exchange(ctx context.Context, code, state string) error
	Logout(ctx context.Context, redirectURI string) (string, error)
	UpdateToken(ctx context.Context, minValidity time.Duration) (bool, error)
	Token() string
	Expiry() time.Time
}

// Options holds session timings and the routes the identity provider
// redirects back to
type Options struct {
	InitTimeout     time.Duration
	RefreshInterval time.Duration
	MinValidity     time.Duration
	CallbackURL     string // authenticated landing route
	LoginURL        string // where logout ends
}

// OptionsFromConfig derives Options from the dashboard config
func OptionsFromConfig(cfg *config.Config) Options {
	base := strings.TrimRight(cfg.PublicURL, "/")
	return Options{
		InitTimeout:     cfg.Session.InitTimeout,
		RefreshInterval: cfg.Session.RefreshInterval,
		MinValidity:     cfg.Session.MinValidity,
		CallbackURL:     base + "/dashboard",
		LoginURL:        base + "/login",
	}
}

// Controller owns the session lifecycle: the init/timeout race, the
// refresh loop and login/logout delegation.
// ⭐ SSOT: 세션 상태(credential 포함)는 이 컨트롤러만 변경
type Controller struct {
	idp       IdentityProvider
	opts      Options
	scheduler *scheduler.Scheduler
	logger    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	snap        Snapshot
	initStarted bool
	settled     bool
	closed      bool
	timer       *time.Timer
	listeners   map[int]Listener
	nextID      int

	settleOnce sync.Once
	settledCh  chan struct{}

	// notifyMu serializes listener delivery; lastSeq drops stale snapshots
	notifyMu sync.Mutex
	lastSeq  uint64
}

// New creates a controller in the Uninitialized state.
// sched must be started by the caller; the controller only adds and
// removes its refresh job.
func New(idp IdentityProvider, opts Options, sched *scheduler.Scheduler, log *logger.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		idp:       idp,
		opts:      opts,
		scheduler: sched,
		logger:    log.Component("session"),
		ctx:       ctx,
		cancel:    cancel,
		snap:      Snapshot{State: Uninitialized},
		listeners: make(map[int]Listener),
		settledCh: make(chan struct{}),
	}
}

// Initialize starts the identity provider's session check raced against
// the init timeout. Only the first call has an effect.
func (c *Controller) Initialize() {
	c.mu.Lock()
	if c.initStarted || c.closed {
		c.mu.Unlock()
		return
	}
	c.initStarted = true
	snap := c.transitionLocked(Initializing, nil)
	c.timer = time.AfterFunc(c.opts.InitTimeout, c.onInitTimeout)
	c.mu.Unlock()

	c.logger.WithField("timeout", c.opts.InitTimeout).Info("Session initialization started")
	c.deliver(snap)

	go c.runInit()
}

func (c *Controller) runInit() {
	ok, err := c.idp.Init(c.ctx, identity.DefaultInitOptions())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	late := c.settled
	c.settled = true

	var snap Snapshot
	changed := false

	switch {
	case c.snap.State == Authenticated:
		// a login completed while init was still running
	case err != nil:
		if late {
			c.logger.WithError(err).Warn("Identity init failed after timeout")
			break
		}
		c.logger.WithError(err).Error("Identity init failed")
		snap, changed = c.transitionLocked(Unauthenticated, fmt.Errorf("%w: %w", ErrInitFailed, err)), true
	case ok:
		if late {
			c.logger.Info("Identity init completed after timeout, upgrading session")
		}
		snap, changed = c.authenticateLocked(), true
	case !late:
		snap, changed = c.transitionLocked(Unauthenticated, nil), true
	}
	c.mu.Unlock()

	c.markSettled()
	if changed {
		c.deliver(snap)
	}
}

func (c *Controller) onInitTimeout() {
	c.mu.Lock()
	if c.closed || c.settled {
		c.mu.Unlock()
		return
	}
	c.settled = true
	snap := c.transitionLocked(Unauthenticated, ErrInitTimeout)
	c.mu.Unlock()

	c.logger.WithField("timeout", c.opts.InitTimeout).Warn("Identity init timed out")
	c.markSettled()
	c.deliver(snap)
}

func (c *Controller) markSettled() {
	c.settleOnce.Do(func() { close(c.settledCh) })
}

// Wait blocks until the init race has settled or ctx is done
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.settledCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current session state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Credential returns the bearer credential, "" when not authenticated
func (c *Controller) Credential() string {
	return c.Snapshot().Credential
}

// Subscribe registers fn for every later transition and returns a func
// that removes it. Listeners must not call Login, CompleteLogin, Logout
// or Refresh.
func (c *Controller) Subscribe(fn Listener) func() {
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

// Login starts a login and returns the identity provider URL to redirect to
func (c *Controller) Login(ctx context.Context) (string, error) {
	target, err := c.idp.Login(ctx, c.opts.CallbackURL)
	if err != nil {
		c.logger.WithError(err).Error("Login failed")
		return "", fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	return target, nil
}

// CompleteLogin finishes a login redirect carrying code and state
func (c *Controller) CompleteLogin(ctx context.Context, code, state string) error {
	err := c.idp.Exchange(ctx, code, state)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("session controller closed")
	}

	var snap Snapshot
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrLoginFailed, err)
		if c.snap.State == Authenticated {
			c.mu.Unlock()
			c.logger.WithError(err).Warn("Login callback failed, keeping current session")
			return err
		}
		snap = c.transitionLocked(Unauthenticated, err)
	} else {
		snap = c.authenticateLocked()
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.WithError(err).Error("Login callback failed")
	}
	c.deliver(snap)
	return err
}

// Logout ends the session. It returns the identity provider's logout URL,
// which may be empty. The local session is cleared even when the provider
// call fails.
func (c *Controller) Logout(ctx context.Context) (string, error) {
	target, err := c.idp.Logout(ctx, c.opts.LoginURL)
	if err != nil {
		c.logger.WithError(err).Error("Logout failed")
	}

	c.mu.Lock()
	c.disarmRefreshLocked()
	var snap Snapshot
	changed := c.snap.State == Authenticated
	if changed {
		snap = c.transitionLocked(Unauthenticated, nil)
	}
	c.mu.Unlock()

	if changed {
		c.logger.Info("Logged out")
		c.deliver(snap)
	}
	return target, err
}

// Refresh runs the refresh job now, outside its schedule. It is a no-op
// while the job is not armed.
func (c *Controller) Refresh(ctx context.Context) error {
	err := c.scheduler.RunJob(ctx, RefreshJobName)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		return nil
	}
	return err
}

// refreshTick asks the identity provider to refresh a credential that
// expires within MinValidity. A failure ends the session; there is no retry.
func (c *Controller) refreshTick(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.snap.State != Authenticated {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	refreshed, err := c.idp.UpdateToken(ctx, c.opts.MinValidity)
	if err == nil && refreshed && c.idp.Token() == "" {
		err = errors.New("identity provider returned an empty credential")
	}

	c.mu.Lock()
	if c.closed || c.snap.State != Authenticated {
		c.mu.Unlock()
		return nil
	}

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		c.disarmRefreshLocked()
		snap := c.transitionLocked(Unauthenticated, err)
		c.mu.Unlock()

		c.logger.WithError(err).Warn("Session refresh failed, signing out")
		c.deliver(snap)
		return err
	}

	if !refreshed {
		c.mu.Unlock()
		return nil
	}

	snap := c.transitionLocked(Authenticated, nil)
	c.mu.Unlock()

	c.logger.WithField("expires_at", snap.ExpiresAt).Debug("Credential rotated")
	c.deliver(snap)
	return nil
}

// Close stops the init timer and the refresh loop. The controller does
// not transition afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.disarmRefreshLocked()
	c.mu.Unlock()

	c.cancel()
	c.markSettled()
	c.logger.Debug("Session controller closed")
}

// authenticateLocked stores the provider's credential and arms the refresh loop
func (c *Controller) authenticateLocked() Snapshot {
	if c.idp.Token() == "" {
		return c.transitionLocked(Unauthenticated, fmt.Errorf("%w: empty credential", ErrInitFailed))
	}
	snap := c.transitionLocked(Authenticated, nil)
	c.armRefreshLocked()
	c.logger.WithField("expires_at", snap.ExpiresAt).Info("Session authenticated")
	return snap
}

func (c *Controller) armRefreshLocked() {
	if c.scheduler.HasJob(RefreshJobName) {
		return
	}

	err := c.scheduler.AddJob(scheduler.FuncJob{
		JobName: RefreshJobName,
		Spec:    scheduler.Every(c.opts.RefreshInterval),
		Fn:      c.refreshTick,
	})
	if err != nil {
		c.logger.WithError(err).Error("Failed to arm session refresh")
	}
}

func (c *Controller) disarmRefreshLocked() {
	if !c.scheduler.HasJob(RefreshJobName) {
		return
	}
	if err := c.scheduler.RemoveJob(RefreshJobName); err != nil {
		c.logger.WithError(err).Warn("Failed to disarm session refresh")
	}
}

// transitionLocked records a new snapshot. Authenticated snapshots read
// the credential from the provider; every other state clears it.
func (c *Controller) transitionLocked(state State, err error) Snapshot {
	next := Snapshot{
		State: state,
		Err:   err,
		Seq:   c.snap.Seq + 1,
	}
	if state == Authenticated {
		next.Credential = c.idp.Token()
		next.ExpiresAt = c.idp.Expiry()
	}

	if c.snap.State != state {
		c.logger.WithFields(map[string]interface{}{
			"from": c.snap.State.String(),
			"to":   state.String(),
			"seq":  next.Seq,
		}).Debug("Session transition")
	}

	c.snap = next
	return next
}

// deliver hands snap to listeners unless a newer snapshot was already delivered
func (c *Controller) deliver(snap Snapshot) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if snap.Seq <= c.lastSeq {
		return
	}
	c.lastSeq = snap.Seq

	c.mu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
