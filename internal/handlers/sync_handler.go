package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tillsync/server/internal/middleware"
	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/services"
)

// SyncHandler handles the collection pull/push and operational endpoints
type SyncHandler struct {
	sync   *services.SyncService
	status *services.StatusService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(sync *services.SyncService, status *services.StatusService) *SyncHandler {
	return &SyncHandler{sync: sync, status: status}
}

// Collections lists the known collections
// @Summary List collections
// @Tags sync
// @Produce json
// @Success 200 {object} models.CollectionsResponse
// @Security SyncToken
// @Router /collections [get]
func (h *SyncHandler) Collections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.CollectionsResponse{Success: true, Collections: h.sync.Collections()})
}

// Metadata returns a collection's version marker, creating it on first access
// @Summary Get collection metadata
// @Tags sync
// @Produce json
// @Param collection path string true "Collection name"
// @Success 200 {object} models.MetadataResponse
// @Failure 400 {object} models.ErrorResponse
// @Security SyncToken
// @Router /collections/{collection}/metadata [get]
func (h *SyncHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	meta, err := h.sync.Metadata(r.Context(), collection)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MetadataResponse{Success: true, Collection: collection, Metadata: meta})
}

// Pull returns a whole collection unless the client is already up to date
// @Summary Versioned pull
// @Tags sync
// @Produce json
// @Param collection path string true "Collection name"
// @Param sinceVersion query int false "Version the client already holds"
// @Success 200 {object} models.PullResponse
// @Failure 400 {object} models.ErrorResponse
// @Security SyncToken
// @Router /collections/{collection}/data [get]
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	since, err := parseSinceVersion(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.sync.Pull(r.Context(), chi.URLParam(r, "collection"), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delta returns the items changed or deleted after since
// @Summary Delta pull
// @Tags sync
// @Produce json
// @Param collection path string true "Collection name"
// @Param since query string false "ISO-8601 timestamp or epoch milliseconds"
// @Success 200 {object} models.DeltaResponse
// @Failure 400 {object} models.ErrorResponse
// @Security SyncToken
// @Router /delta/{collection} [get]
func (h *SyncHandler) Delta(w http.ResponseWriter, r *http.Request) {
	resp, err := h.sync.Delta(r.Context(), chi.URLParam(r, "collection"), r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Push writes a batch into a collection
// @Summary Bulk push
// @Description Settings collections are overwritten, data-bag tables replaced, structured tables upserted.
// @Tags sync
// @Accept json
// @Produce json
// @Param collection path string true "Collection name"
// @Param request body models.ItemsRequest true "Items"
// @Success 200 {object} models.PushResponse
// @Failure 400 {object} models.ErrorResponse
// @Security SyncToken
// @Router /collections/{collection}/push [post]
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	items, err := decodeItems(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.sync.Push(r.Context(), chi.URLParam(r, "collection"), items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Status returns the metadata of every collection
// @Summary Multi-collection status
// @Tags sync
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Security SyncToken
// @Router /status [get]
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.status.Status(r.Context(), middleware.GetTerminalIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// AppendTransactions stores transactions idempotently
// @Summary Append transactions
// @Tags operations
// @Accept json
// @Produce json
// @Param request body models.ItemsRequest true "Transactions"
// @Success 200 {object} models.AppendResponse
// @Failure 400 {object} models.ErrorResponse
// @Security SyncToken
// @Router /transactions [post]
func (h *SyncHandler) AppendTransactions(w http.ResponseWriter, r *http.Request) {
	h.appendWith(w, r, h.sync.AppendTransactions)
}

// AppendCashMovements stores cash movements idempotently
// @Summary Append cash movements
// @Tags operations
// @Accept json
// @Produce json
// @Param request body models.ItemsRequest true "Cash movements"
// @Success 200 {object} models.AppendResponse
// @Security SyncToken
// @Router /cash/movements [post]
func (h *SyncHandler) AppendCashMovements(w http.ResponseWriter, r *http.Request) {
	h.appendWith(w, r, h.sync.AppendCashMovements)
}

// AppendZReports stores Z-reports idempotently
// @Summary Append Z-reports
// @Tags operations
// @Accept json
// @Produce json
// @Param request body models.ItemsRequest true "Z-reports"
// @Success 200 {object} models.AppendResponse
// @Security SyncToken
// @Router /z-reports [post]
func (h *SyncHandler) AppendZReports(w http.ResponseWriter, r *http.Request) {
	h.appendWith(w, r, h.sync.AppendZReports)
}

type appendFunc func(ctx context.Context, items json.RawMessage) (*models.AppendResponse, error)

func (h *SyncHandler) appendWith(w http.ResponseWriter, r *http.Request, fn appendFunc) {
	items, err := decodeItems(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := fn(r.Context(), items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DrainTransactions returns and clears the pending transaction queue
// @Summary Drain pending transactions
// @Description Returns every queued transaction and clears the queue. There is no acknowledgement step.
// @Tags operations
// @Produce json
// @Success 200 {object} models.PendingResponse
// @Security SyncToken
// @Router /transactions/pending [get]
func (h *SyncHandler) DrainTransactions(w http.ResponseWriter, r *http.Request) {
	items, err := h.sync.DrainPending(r.Context(), services.QueueTransactions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.PendingResponse{Success: true, Items: items, Count: len(items)})
}

// OperationalStatus returns per-terminal activity counts
// @Summary Operational status
// @Tags operations
// @Produce json
// @Success 200 {object} models.OperationalStatusResponse
// @Security SyncToken
// @Router /operational-status [get]
func (h *SyncHandler) OperationalStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.status.OperationalStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReportError appends an entry to the bounded error log
// @Summary Report sync error
// @Tags operations
// @Accept json
// @Produce json
// @Param request body models.ReportErrorRequest true "Error entry"
// @Success 200 {object} models.MessageResponse
// @Failure 400 {object} models.ErrorResponse
// @Security SyncToken
// @Router /errors [post]
func (h *SyncHandler) ReportError(w http.ResponseWriter, r *http.Request) {
	var req models.ReportErrorRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.sync.ReportError(r.Context(), middleware.GetTerminalIDFromContext(r.Context()), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Error logged."})
}

// Errors returns the error log, oldest first
// @Summary Read error log
// @Tags operations
// @Produce json
// @Success 200 {object} models.ErrorLogResponse
// @Security SyncToken
// @Router /errors [get]
func (h *SyncHandler) Errors(w http.ResponseWriter, r *http.Request) {
	entries, err := h.sync.Errors(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ErrorLogResponse{Success: true, Errors: entries, Count: len(entries)})
}

// History returns everything one terminal has submitted
// @Summary Terminal history
// @Tags operations
// @Produce json
// @Param terminalId path string true "Terminal ID"
// @Success 200 {object} models.HistoryResponse
// @Security SyncToken
// @Router /history/{terminalId} [get]
func (h *SyncHandler) History(w http.ResponseWriter, r *http.Request) {
	resp, err := h.sync.History(r.Context(), chi.URLParam(r, "terminalId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Config returns the stored global configuration, {} when none is set
// @Summary Global config
// @Tags sync
// @Produce json
// @Success 200 {object} models.ConfigResponse
// @Security SyncToken
// @Router /config [get]
func (h *SyncHandler) Config(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.sync.Config(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ConfigResponse{Success: true, Config: cfg})
}
