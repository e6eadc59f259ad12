package web

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"

	"github.com/wonny/magicformula/pkg/httputil"
	"github.com/wonny/magicformula/pkg/logger"
)

// NewRouter creates and configures the dashboard router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(h *Handler, hub *Hub, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", h.Health).Methods("GET")

	// Session routes
	r.HandleFunc("/", h.Root).Methods("GET")
	r.HandleFunc("/login", h.LoginPage).Methods("GET")
	r.HandleFunc("/login/start", h.StartLogin).Methods("GET")
	r.HandleFunc("/dashboard", h.DashboardPage).Methods("GET")
	r.HandleFunc("/logout", h.Logout).Methods("GET", "POST")

	// Live updates
	r.HandleFunc("/ws", hub.ServeWS).Methods("GET")

	// JSON API
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", h.GetSession).Methods("GET")
	api.Handle("/session/refresh", h.requireSession(http.HandlerFunc(h.RefreshSession))).Methods("POST")

	view := api.PathPrefix("/view").Subrouter()
	view.Use(h.requireSession)
	view.HandleFunc("", h.GetView).Methods("GET")
	view.HandleFunc("/query", h.UpdateQuery).Methods("PUT", "POST")
	view.HandleFunc("/refresh", h.Refresh).Methods("POST")
	view.HandleFunc("/page/{page:[0-9]+}", h.SetPage).Methods("POST")
	view.HandleFunc("/notice", h.DismissNotice).Methods("DELETE")

	cache := api.PathPrefix("/cache").Subrouter()
	cache.Use(h.requireSession)
	cache.HandleFunc("/stats", h.CacheStats).Methods("GET")
	cache.HandleFunc("/warm/{year:[0-9]+}", h.WarmCache).Methods("POST")
	cache.HandleFunc("/invalidate", h.InvalidateCache).Methods("DELETE")
	cache.HandleFunc("/invalidate/{year:[0-9]+}", h.InvalidateCache).Methods("DELETE")

	// Apply middleware
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// requestIDMiddleware tags each request with an id, reusing the caller's
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(httputil.RequestIDHeader)
		if id == "" {
			id = ulid.Make().String()
			r.Header.Set(httputil.RequestIDHeader, id)
		}
		w.Header().Set(httputil.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"request_id": r.Header.Get(httputil.RequestIDHeader),
				"duration":   time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					respondError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
