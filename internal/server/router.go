package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/tillsync/server/internal/docs"

	"github.com/tillsync/server/internal/config"
	"github.com/tillsync/server/internal/handlers"
	"github.com/tillsync/server/internal/middleware"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/repository"
	"github.com/tillsync/server/internal/services"
)

// Services are the dependencies the HTTP layer is built on
type Services struct {
	Store     *repository.Store
	Sessions  *services.SessionService
	Sync      *services.SyncService
	Inventory *services.InventoryService
	Status    *services.StatusService
	Reset     *services.ResetService
	Hub       *services.WebSocketHub
}

// NewRouter mounts every endpoint under /api/sync. httpMetrics may be nil.
func NewRouter(cfg *config.Config, svc Services, httpMetrics *observability.HTTPMetrics) http.Handler {
	authHandler := handlers.NewAuthHandler(svc.Sessions, cfg.Security.TokenHeader)
	syncHandler := handlers.NewSyncHandler(svc.Sync, svc.Status)
	inventoryHandler := handlers.NewInventoryHandler(svc.Inventory)
	resetHandler := handlers.NewResetHandler(svc.Reset)
	healthHandler := handlers.NewHealthHandler(svc.Store, svc.Hub)
	wsHandler := handlers.NewWebSocketHandler(svc.Hub, svc.Sessions, cfg.Security.TokenHeader)

	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(observability.TracingMiddleware(cfg.Security.TokenHeader))
	if httpMetrics != nil {
		r.Use(observability.MetricsMiddleware(httpMetrics))
	}

	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/version", handlers.VersionHandler)
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Route("/api/sync", func(r chi.Router) {
		r.Get("/ping", healthHandler.Ping)
		r.Post("/auth", authHandler.Authenticate)
		r.Get("/ws", wsHandler.HandleConnection)

		r.Group(func(r chi.Router) {
			r.Use(middleware.SyncTokenAuth(svc.Sessions, cfg.Security.TokenHeader))

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/terminals", authHandler.ListTerminals)

			r.Get("/collections", syncHandler.Collections)
			r.Route("/collections/{collection}", func(r chi.Router) {
				r.Get("/metadata", syncHandler.Metadata)
				r.Get("/data", syncHandler.Pull)
				r.Post("/push", syncHandler.Push)
			})
			r.Get("/delta/{collection}", syncHandler.Delta)
			r.Get("/status", syncHandler.Status)
			r.Get("/config", syncHandler.Config)

			r.Post("/transactions", syncHandler.AppendTransactions)
			r.Get("/transactions/pending", syncHandler.DrainTransactions)
			r.Post("/cash/movements", syncHandler.AppendCashMovements)
			r.Post("/z-reports", syncHandler.AppendZReports)
			r.Get("/operational-status", syncHandler.OperationalStatus)
			r.Post("/errors", syncHandler.ReportError)
			r.Get("/errors", syncHandler.Errors)
			r.Get("/history/{terminalId}", syncHandler.History)

			r.Route("/inventory", func(r chi.Router) {
				r.Post("/movements", inventoryHandler.PushMovements)
				r.Get("/movements/pending", inventoryHandler.DrainMovements)
				r.Get("/stock-balances", inventoryHandler.StockBalances)
				r.Get("/kardex/{productId}", inventoryHandler.Kardex)
			})

			r.With(middleware.ManagerPin(cfg.Security.ManagerPinHash)).
				Post("/reset/{terminalId}", resetHandler.Reset)
		})
	})

	return r
}
