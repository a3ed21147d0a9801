package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/tillsync/server/internal/config"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/repository"
	"github.com/tillsync/server/internal/services"
)

// App is a fully wired server
type App struct {
	Config   *config.Config
	Services Services
	Handler  http.Handler

	stop context.CancelFunc
	wg   sync.WaitGroup
}

// OpenStore opens the configured database and applies migrations
func OpenStore(ctx context.Context, cfg *config.Config) (*repository.Store, error) {
	if cfg.UsePostgres() {
		observability.Info("Using PostgreSQL database")
		return repository.OpenPostgresStore(ctx, cfg.DatabaseURL)
	}
	observability.WithField("path", cfg.DatabasePath).Info("Using SQLite database")
	return repository.OpenSQLiteStore(ctx, cfg.DatabasePath)
}

// Build opens the store, starts the websocket hub and wires every service.
// Close releases both.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var waker *services.FCMWaker
	if cfg.Push.Enabled() {
		waker, err = services.NewFCMWaker(ctx, cfg.Push.CredentialsPath, store)
		if err != nil {
			observability.Warnf("Terminal wake-ups disabled: %v", err)
			waker = nil
		}
	}
	return NewApp(cfg, store, services.SystemClock, waker), nil
}

// NewApp wires services and routes over an open store. waker may be nil.
func NewApp(cfg *config.Config, store *repository.Store, clock services.Clock, waker *services.FCMWaker) *App {
	syncMetrics, err := observability.NewSyncMetrics()
	if err != nil {
		observability.Warnf("Sync metrics unavailable: %v", err)
	}
	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		observability.Warnf("HTTP metrics unavailable: %v", err)
	}

	bg, stop := context.WithCancel(context.Background())
	app := &App{Config: cfg, stop: stop}

	hub := services.NewWebSocketHub()
	app.goRun(func() { hub.Run(bg) })

	var notifier services.ChangeNotifier = hub
	if waker != nil {
		waker.SkipConnected(hub.IsConnected)
		app.goRun(func() { waker.Run(bg) })
		notifier = services.Notifiers{hub, waker}
	}

	meta := services.NewMetadataService(clock, notifier)
	svc := Services{
		Store:     store,
		Sessions:  services.NewSessionService(store, cfg.Sync, clock, syncMetrics),
		Sync:      services.NewSyncService(store, meta, clock, cfg.Sync.ErrorLogLimit, syncMetrics),
		Inventory: services.NewInventoryService(store, meta, clock, syncMetrics),
		Status:    services.NewStatusService(store, meta, clock),
		Reset:     services.NewResetService(store, meta, clock, hub),
		Hub:       hub,
	}

	app.Services = svc
	app.Handler = NewRouter(cfg, svc, httpMetrics)
	return app
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Close stops the background loops and closes the store
func (a *App) Close() error {
	a.stop()
	a.wg.Wait()
	return a.Services.Store.Close()
}
