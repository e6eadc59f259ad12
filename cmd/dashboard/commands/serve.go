package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/magicformula/internal/backend"
	"github.com/wonny/magicformula/internal/dashboard"
	"github.com/wonny/magicformula/internal/fetch"
	"github.com/wonny/magicformula/internal/identity"
	"github.com/wonny/magicformula/internal/scheduler"
	"github.com/wonny/magicformula/internal/session"
	"github.com/wonny/magicformula/internal/web"
	"github.com/wonny/magicformula/pkg/httputil"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "대시보드 서버 시작",
	Long: `Starts the dashboard server.

This command:
- checks for an existing identity provider session (5s limit)
- keeps the session fresh every 5 minutes while signed in
- loads the selected period from the backend and pushes updates over /ws
- binds to loopback for a local PUBLIC_URL; the session is shared by every
  client, so use --host 0.0.0.0 only on a trusted network

Endpoints:
  GET    /                          - dashboard or login
  GET    /login, /login/start       - sign in
  GET    /dashboard                 - landing route and login callback
  GET    /logout                    - sign out
  GET    /api/session               - session state
  POST   /api/session/refresh       - renew the credential now
  GET    /api/view                  - visible page
  PUT    /api/view/query            - change mode, year, month or limit
  POST   /api/view/refresh          - force refresh
  POST   /api/view/page/{page}      - change page
  GET    /api/cache/stats           - cache stats
  POST   /api/cache/warm/{year}     - warm cache
  DELETE /api/cache/invalidate[/{year}]
  GET    /ws                        - live updates
  GET    /health                    - health check

Example:
  go run ./cmd/dashboard serve
  go run ./cmd/dashboard serve --port 3001`,
	RunE: runServe,
}

var (
	servePort string
	serveHost string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	// Flags
	serveCmd.Flags().StringVar(&servePort, "port", "", "dashboard port (default from PORT)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "interface to bind (default from BIND_HOST, else the PUBLIC_URL host; 0.0.0.0 binds all)")
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Magic Formula Dashboard ===")

	// 1. Load config and logger
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}
	if serveHost != "" {
		cfg.Host = serveHost
	}

	// 2. Identity client; discovery is idempotent so it may retry
	identityURL, err := identity.ResolveBaseURL(cfg.PublicURL, cfg.Identity.URLOverride, cfg.Identity.Port)
	if err != nil {
		return fmt.Errorf("resolve identity url: %w", err)
	}
	idp := identity.New(identity.Config{
		BaseURL:  identityURL,
		Realm:    cfg.Identity.Realm,
		ClientID: cfg.Identity.ClientID,
		Scopes:   cfg.Identity.Scopes,
	}, httputil.New(cfg, log).WithRetry(2, 500*time.Millisecond), log)

	log.WithFields(map[string]interface{}{
		"identity_url": identityURL,
		"realm":        cfg.Identity.Realm,
		"api_url":      cfg.API.BaseURL,
	}).Info("Initializing dashboard")

	// 3. Scheduler and session
	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	sess := session.New(idp, session.OptionsFromConfig(cfg), sched, log)
	defer sess.Close()

	// 4. Backend, fetch and dashboard state
	be := newBackend(cfg, log)
	admin := backend.NewAdminClient(be, sess.Credential)
	fetcher := fetch.New(be, admin, log)
	defer fetcher.Wait()
	board := dashboard.New(fetcher, admin, sess, cfg.Dashboard, log)

	// 5. Live updates
	hub := web.NewHub(log, web.Greeting(sess, board))
	defer hub.Close()
	detach := web.Bridge(hub, sess, fetcher, board, log)
	defer detach()

	// 6. Router and server
	handler := web.NewHandler(sess, board, newHealthBackend(cfg, log), sched, cfg.Session.InitTimeout, log)
	server := web.NewServer(cfg, log, web.NewRouter(handler, hub, log))

	// the bridge starts the board once the session is authenticated
	sess.Initialize()

	// 7. Start server with graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	log.Infof("Dashboard listening on %s", server.Addr())

	fmt.Printf("\n✅ Dashboard running on %s (listening on %s)\n", cfg.PublicURL, server.Addr())
	fmt.Printf("   Identity provider: %s (realm %s)\n", identityURL, cfg.Identity.Realm)
	fmt.Printf("   Backend: %s\n", cfg.API.BaseURL)
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-quit:
	}

	log.Info("Shutting down dashboard...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Dashboard stopped")
	return nil
}
