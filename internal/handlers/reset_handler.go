package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tillsync/server/internal/middleware"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/services"
)

// ResetHandler handles the destructive terminal wipe
type ResetHandler struct {
	reset *services.ResetService
}

// NewResetHandler creates a new ResetHandler
func NewResetHandler(reset *services.ResetService) *ResetHandler {
	return &ResetHandler{reset: reset}
}

// Reset deletes a terminal's operational data, or everyone's for ALL
// @Summary Reset terminal data
// @Description Deletes transactions, ledger rows, Z-reports, cash movements, receptions, queued items and logged errors. Stock balances are reverted. Requires the manager PIN when one is configured.
// @Tags operations
// @Produce json
// @Param terminalId path string true "Terminal ID or ALL"
// @Param includeTerminal query bool false "Also remove the terminal and its tokens"
// @Param X-Manager-Pin header string false "Manager PIN"
// @Success 200 {object} models.ResetResponse
// @Failure 403 {object} models.ErrorResponse
// @Security SyncToken
// @Router /reset/{terminalId} [post]
func (h *ResetHandler) Reset(w http.ResponseWriter, r *http.Request) {
	includeTerminal, _ := strconv.ParseBool(r.URL.Query().Get("includeTerminal"))
	target := chi.URLParam(r, "terminalId")

	resp, err := h.reset.Reset(r.Context(), target, includeTerminal)
	if err != nil {
		writeError(w, r, err)
		return
	}

	observability.WithContext(r.Context()).WithFields(map[string]interface{}{
		"requested_by": middleware.GetTerminalIDFromContext(r.Context()),
		"target":       target,
	}).Info("Reset request completed")
	writeJSON(w, http.StatusOK, resp)
}
