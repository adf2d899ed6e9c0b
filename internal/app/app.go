package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/config"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/google"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/reconcile"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/vault"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// Application wires configuration, sync services, router, and server lifecycle.
type Application struct {
	cfg       config.Application
	deps      *Dependencies
	router    *mux.Router
	logCloser io.Closer
}

// NewApplication loads the configuration at configPath and builds the application.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logCloser, err := SetupLogging(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("invalid log configuration: %w", err)
	}

	// Build dependencies (services, handlers...)
	deps, err := BuildDependencies(cfg)
	if err != nil {
		return nil, err
	}
	return newApplication(cfg, deps, logCloser), nil
}

func newApplication(cfg config.Application, deps *Dependencies, logCloser io.Closer) *Application {
	r := mux.NewRouter()

	// Middleware chain
	SetupMiddleware(r)

	// Routes
	RegisterRoutes(r, deps)

	return &Application{cfg: cfg, deps: deps, router: r, logCloser: logCloser}
}

// Once runs a single full pass. It fails when any event could not be synced.
func (a *Application) Once(ctx context.Context) error {
	defer a.close()

	r := a.deps.Engine.FullPass(ctx)
	a.logReport(r)
	if len(r.Failures) > 0 {
		return fmt.Errorf("sync finished with %d failure(s)", len(r.Failures))
	}
	return nil
}

// Serve watches the vault, runs periodic passes and serves the HTTP API until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	defer a.close()

	watcher, err := vault.NewWatcher(a.cfg.Vault.Path, a.cfg.Vault.Directory, a.deps.EventBus, renameWindow(a.cfg.Sync))
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			log.Warnf("Failed to stop watcher: %v", err)
		}
	}()

	scheduler, err := NewScheduler(a.cfg.Sync.Refresh, a.deps.Dispatcher)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.deps.Dispatcher.Run(ctx)
	}()
	a.deps.Dispatcher.RequestPass("startup")

	errCh := make(chan error, 1)
	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Handler:      a.router,
			Addr:         a.cfg.Server.Listen,
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Infof("Starting server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		log.Infof("Log in to Google at %s/api/integrations/google/auth/login", strings.TrimRight(a.cfg.Server.Host, "/"))
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Failed to shut down server: %v", err)
		}
	}
	wg.Wait()
	return serveErr
}

func (a *Application) logReport(r reconcile.Report) {
	log.WithFields(log.Fields{
		"created":       r.Created,
		"linked":        r.Linked,
		"localUpdated":  r.LocalUpdated,
		"remoteUpdated": r.RemoteUpdated,
		"pushedBack":    r.PushedBack,
		"materialized":  r.Materialized,
		"missing":       r.Missing,
		"conflicts":     len(r.Conflicts),
		"failures":      len(r.Failures),
		"duration":      r.Duration().String(),
	}).Info("Sync pass completed")

	for _, f := range r.Failures {
		if errors.Is(f.Unwrap(), google.ErrUnauthenticated) {
			log.Warnf("Not logged in to Google. Run `gcalsync serve` and open %s/api/integrations/google/auth/login",
				strings.TrimRight(a.cfg.Server.Host, "/"))
			return
		}
	}
}

func (a *Application) close() {
	if a.logCloser == nil {
		return
	}
	if err := a.logCloser.Close(); err != nil {
		log.Warnf("Failed to close log file: %v", err)
	}
}
