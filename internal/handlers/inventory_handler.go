package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/services"
)

// InventoryHandler handles the stock ledger endpoints
type InventoryHandler struct {
	inventory *services.InventoryService
}

// NewInventoryHandler creates a new InventoryHandler
func NewInventoryHandler(inventory *services.InventoryService) *InventoryHandler {
	return &InventoryHandler{inventory: inventory}
}

// PushMovements appends inventory movements and applies new ones to stock balances
// @Summary Append inventory movements
// @Description Movements already in the ledger are skipped and leave balances untouched. Every submitted movement is queued.
// @Tags inventory
// @Accept json
// @Produce json
// @Param request body models.ItemsRequest true "Movements"
// @Success 200 {object} models.AppendResponse
// @Failure 400 {object} models.ErrorResponse
// @Security SyncToken
// @Router /inventory/movements [post]
func (h *InventoryHandler) PushMovements(w http.ResponseWriter, r *http.Request) {
	items, err := decodeItems(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.inventory.PushMovements(r.Context(), items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DrainMovements returns and clears the pending movement queue
// @Summary Drain pending movements
// @Tags inventory
// @Produce json
// @Success 200 {object} models.PendingResponse
// @Security SyncToken
// @Router /inventory/movements/pending [get]
func (h *InventoryHandler) DrainMovements(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.DrainMovements(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.PendingResponse{Success: true, Items: items, Count: len(items)})
}

// StockBalances lists balances, optionally filtered by product and warehouse
// @Summary Stock balances
// @Tags inventory
// @Produce json
// @Param productId query string false "Product ID"
// @Param warehouseId query string false "Warehouse ID"
// @Success 200 {object} models.StockBalancesResponse
// @Security SyncToken
// @Router /inventory/stock-balances [get]
func (h *InventoryHandler) StockBalances(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	balances, err := h.inventory.StockBalances(r.Context(), query.Get("productId"), query.Get("warehouseId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.StockBalancesResponse{Success: true, Balances: balances})
}

// Kardex returns a product's ledger with a running balance per warehouse
// @Summary Product kardex
// @Tags inventory
// @Produce json
// @Param productId path string true "Product ID"
// @Success 200 {object} models.KardexResponse
// @Failure 400 {object} models.ErrorResponse
// @Security SyncToken
// @Router /inventory/kardex/{productId} [get]
func (h *InventoryHandler) Kardex(w http.ResponseWriter, r *http.Request) {
	resp, err := h.inventory.Kardex(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
