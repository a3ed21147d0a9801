package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/repository"
	"github.com/tillsync/server/internal/services"
)

// HealthHandler handles liveness and health check endpoints
type HealthHandler struct {
	store *repository.Store
	hub   *services.WebSocketHub
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(store *repository.Store, hub *services.WebSocketHub) *HealthHandler {
	return &HealthHandler{store: store, hub: hub}
}

// Ping answers terminals probing for the server
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} models.PingResponse
// @Router /ping [get]
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.PingResponse{
		Success:    true,
		Message:    "pong",
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// HealthCheck returns the server health status
// @Summary Health check
// @Description Returns the current health status of the server and its database
// @Tags health
// @Produce json
// @Success 200 {object} models.HealthResponse "Server is healthy"
// @Failure 503 {object} models.HealthResponse "Database unreachable"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.HealthResponse{
		Status:    "healthy",
		Database:  "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Dialect:   string(h.store.Dialect()),
		Sockets:   h.hub.ClientCount(),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.DB().PingContext(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, response)
}
