package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/magicformula/internal/contracts"
	"github.com/wonny/magicformula/internal/dashboard"
	"github.com/wonny/magicformula/internal/fetch"
	"github.com/wonny/magicformula/internal/scheduler"
	"github.com/wonny/magicformula/internal/session"
	"github.com/wonny/magicformula/pkg/logger"
)

// Session is the part of session.Controller the routes use
type Session interface {
	Snapshot() session.Snapshot
	Wait(ctx context.Context) error
	Login(ctx context.Context) (string, error)
	CompleteLogin(ctx context.Context, code, state string) error
	Logout(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// Board is the part of dashboard.Dashboard the routes use
type Board interface {
	View() dashboard.View
	Start(ctx context.Context) fetch.Result
	Query() contracts.Query
	UpdateQuery(ctx context.Context, q contracts.Query) (fetch.Result, error)
	Reload(ctx context.Context) fetch.Result
	Refresh(ctx context.Context) fetch.Result
	SetPage(page int) int
	LoadStats(ctx context.Context) (*contracts.CacheStats, error)
	WarmCache(ctx context.Context, year int) (*contracts.WarmResult, error)
	InvalidateCache(ctx context.Context, year int) error
	DismissNotice()
}

// HealthChecker reports backend liveness
type HealthChecker interface {
	Health(ctx context.Context, credential string) (*contracts.Health, error)
}

// JobReporter reports scheduled job history
type JobReporter interface {
	Stats(jobName string) (scheduler.JobStats, bool)
}

// Handler serves the dashboard routes
// ⭐ SSOT: 대시보드 HTTP 핸들러는 이 구조체에서만
type Handler struct {
	session     Session
	board       Board
	health      HealthChecker
	jobs        JobReporter
	settleLimit time.Duration
	logger      *logger.Logger
}

// NewHandler creates a handler. settleLimit bounds how long a request waits
// for the initial session check before deciding where to route.
func NewHandler(sess Session, board Board, health HealthChecker, jobs JobReporter, settleLimit time.Duration, log *logger.Logger) *Handler {
	return &Handler{
		session:     sess,
		board:       board,
		health:      health,
		jobs:        jobs,
		settleLimit: settleLimit,
		logger:      log.Component("web"),
	}
}

// SessionResponse is the public view of the session
type SessionResponse struct {
	State     session.State `json:"state"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func newSessionResponse(s session.Snapshot) SessionResponse {
	resp := SessionResponse{State: s.State, Error: s.ErrorMessage()}
	if !s.ExpiresAt.IsZero() {
		exp := s.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}

// settled waits for the initial session check, bounded by settleLimit
func (h *Handler) settled(r *http.Request) session.Snapshot {
	if snap := h.session.Snapshot(); snap.Settled() {
		return snap
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.settleLimit)
	defer cancel()

	if err := h.session.Wait(ctx); err != nil {
		h.logger.WithError(err).Debug("Session not settled yet")
	}
	return h.session.Snapshot()
}

// requireSession rejects API calls without an authenticated session
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.settled(r).Authenticated() {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Root routes to the dashboard or the login page
// GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if h.settled(r).Authenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

// LoginPage describes how to sign in; signed-in users go to the dashboard
// GET /login
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	snap := h.settled(r)
	if snap.Authenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session": newSessionResponse(snap),
		"login":   "/login/start",
	})
}

// StartLogin redirects the browser to the identity provider
// GET /login/start
func (h *Handler) StartLogin(w http.ResponseWriter, r *http.Request) {
	target, err := h.session.Login(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "Identity provider unavailable")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// DashboardPage is the authenticated landing route. It also completes the
// identity provider's redirect when code and state are present.
// GET /dashboard
func (h *Handler) DashboardPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if code, state := q.Get("code"), q.Get("state"); code != "" && state != "" {
		if err := h.session.CompleteLogin(r.Context(), code, state); err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}

	if q.Get("error") != "" {
		h.logger.WithFields(map[string]interface{}{
			"error":       q.Get("error"),
			"description": q.Get("error_description"),
		}).Warn("Identity provider returned an error")
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	if !h.settled(r).Authenticated() {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	respondJSON(w, http.StatusOK, h.board.View())
}

// Logout ends the session and always lands on /login, through the identity
// provider's logout page when it has one
// GET|POST /logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	target, err := h.session.Logout(r.Context())
	if err != nil || target == "" {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// GetSession returns the session state
// GET /api/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, newSessionResponse(h.session.Snapshot()))
}

// RefreshSession renews the credential now instead of waiting for the next tick
// POST /api/session/refresh
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Refresh(r.Context()); err != nil {
		h.logger.WithError(err).Warn("Manual session refresh failed")
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, newSessionResponse(h.session.Snapshot()))
}

// GetView returns the visible page
// GET /api/view
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.board.View())
}

// QueryRequest changes view parameters; omitted fields keep their value
type QueryRequest struct {
	Mode  *contracts.Mode `json:"mode"`
	Year  *int            `json:"year"`
	Month *int            `json:"month"`
	Limit *int            `json:"limit"`
}

func (req QueryRequest) apply(q contracts.Query) contracts.Query {
	if req.Mode != nil {
		q.Mode = *req.Mode
	}
	if req.Year != nil {
		q.Year = *req.Year
	}
	if req.Month != nil {
		q.Month = *req.Month
	}
	if req.Limit != nil {
		q.Limit = *req.Limit
	}
	return q
}

// UpdateQuery applies new view parameters and reloads
// PUT /api/view/query
func (h *Handler) UpdateQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, err := h.board.UpdateQuery(r.Context(), req.apply(h.board.Query())); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, h.board.View())
}

// Refresh forces the backend to recompute the current period
// POST /api/view/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.board.Refresh(r.Context())
	respondJSON(w, http.StatusOK, h.board.View())
}

// SetPage moves to a page
// POST /api/view/page/{page}
func (h *Handler) SetPage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(mux.Vars(r)["page"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page")
		return
	}

	h.board.SetPage(page)
	respondJSON(w, http.StatusOK, h.board.View())
}

// DismissNotice clears the quick action notice
// DELETE /api/view/notice
func (h *Handler) DismissNotice(w http.ResponseWriter, r *http.Request) {
	h.board.DismissNotice()
	w.WriteHeader(http.StatusNoContent)
}

// CacheStats reads the backend cache stats
// GET /api/cache/stats
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.board.LoadStats(r.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Failed to load cache stats")
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// WarmCache starts a cache warm for a year
// POST /api/cache/warm/{year}
func (h *Handler) WarmCache(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(mux.Vars(r)["year"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid year")
		return
	}

	res, err := h.board.WarmCache(r.Context(), year)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

// InvalidateCache drops cached results for a year, or all of them
// DELETE /api/cache/invalidate[/{year}]
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	year := 0
	if raw, ok := mux.Vars(r)["year"]; ok {
		var err error
		if year, err = strconv.Atoi(raw); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid year")
			return
		}
	}

	if err := h.board.InvalidateCache(r.Context(), year); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "invalidated",
		"year":   year,
	})
}

// Health reports dashboard liveness and the backend's status
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"service": "magicformula-dashboard",
		"session": h.session.Snapshot().State,
	}

	if h.jobs != nil {
		if stats, ok := h.jobs.Stats(session.RefreshJobName); ok {
			resp["session_refresh"] = stats
		} else {
			resp["session_refresh"] = scheduler.JobStats{JobName: session.RefreshJobName}
		}
	}

	backendHealth, err := h.health.Health(r.Context(), h.session.Snapshot().Credential)
	if err != nil {
		resp["backend"] = map[string]string{"status": "unreachable", "error": err.Error()}
	} else {
		resp["backend"] = backendHealth
	}

	respondJSON(w, http.StatusOK, resp)
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
