package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tillsync/server/internal/middleware"
	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
)

// maxBodyBytes bounds push and append bodies
const maxBodyBytes = 32 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observability.Warnf("Failed to encode response: %v", err)
	}
}

// statusFor maps an error classification to its HTTP status
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindAuth:
		return http.StatusUnauthorized
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {success:false, message}. Store failures are
// logged with the terminal and collection involved.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		observability.WithContext(r.Context()).WithFields(map[string]interface{}{
			"terminal_id": middleware.GetTerminalIDFromContext(r.Context()),
			"collection":  chi.URLParam(r, "collection"),
			"path":        r.URL.Path,
		}).Errorf("Sync request failed: %v", err)
	}
	writeJSON(w, status, models.ErrorResponse{Success: false, Message: err.Error()})
}

// decodeBody reads a JSON body into dest
func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return models.Validationf("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return models.Validationf("request body is required")
		}
		return models.Validationf("invalid request body")
	}
	return nil
}

// decodeItems returns the raw items array of a push or append body. Shape
// checks happen in the services.
func decodeItems(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	var req models.ItemsRequest
	if err := decodeBody(w, r, &req); err != nil {
		return nil, err
	}
	return req.Items, nil
}

func parseSinceVersion(r *http.Request) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("sinceVersion"))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, models.ErrInvalidVersion
	}
	return &v, nil
}
