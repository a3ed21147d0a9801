package handlers

import (
	"errors"
	"net/http"

	"github.com/tillsync/server/internal/middleware"
	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/services"
)

// AuthHandler handles terminal authentication endpoints
type AuthHandler struct {
	sessions    *services.SessionService
	tokenHeader string
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(sessions *services.SessionService, tokenHeader string) *AuthHandler {
	return &AuthHandler{sessions: sessions, tokenHeader: tokenHeader}
}

// Authenticate issues a sync token for a terminal
// @Summary Authenticate terminal
// @Description Registers the terminal (or refreshes it) and issues a new sync token. Earlier tokens stay valid.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.AuthRequest true "Terminal identity"
// @Success 200 {object} models.AuthResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /auth [post]
func (h *AuthHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req models.AuthRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.sessions.Authenticate(r.Context(), req, middleware.ClientIP(r))
	if err != nil {
		if errors.Is(err, models.ErrMissingTerminalID) {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Success: false, Message: err.Error()})
			return
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Logout revokes the presented token
// @Summary Revoke token
// @Tags auth
// @Produce json
// @Success 200 {object} models.MessageResponse
// @Failure 401 {object} models.ErrorResponse
// @Security SyncToken
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Revoke(r.Context(), r.Header.Get(h.tokenHeader)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Token revoked."})
}

// ListTerminals returns every registered terminal with its derived status
// @Summary List terminals
// @Tags terminals
// @Produce json
// @Success 200 {object} models.TerminalsResponse
// @Security SyncToken
// @Router /terminals [get]
func (h *AuthHandler) ListTerminals(w http.ResponseWriter, r *http.Request) {
	terminals, err := h.sessions.ListTerminals(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.TerminalsResponse{Success: true, Terminals: terminals})
}
