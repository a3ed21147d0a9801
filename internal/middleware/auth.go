package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
)

type contextKey string

const TerminalContextKey contextKey = "terminal"

// ManagerPinHeader carries the manager PIN for destructive operations
const ManagerPinHeader = "X-Manager-Pin"

// TokenResolver maps a sync token to its terminal
type TokenResolver interface {
	Resolve(ctx context.Context, token, ipAddress string) (string, error)
}

// GetTerminalIDFromContext retrieves the authenticated terminal from request context
func GetTerminalIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(TerminalContextKey).(string); ok {
		return id
	}
	return ""
}

// WithTerminalID returns a context carrying an authenticated terminal id
func WithTerminalID(ctx context.Context, terminalID string) context.Context {
	return context.WithValue(ctx, TerminalContextKey, terminalID)
}

// SyncTokenAuth rejects requests without a valid sync token in headerName.
// Rejected requests never reach the store beyond the token lookup.
func SyncTokenAuth(resolver TokenResolver, headerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			terminalID, err := resolver.Resolve(r.Context(), r.Header.Get(headerName), ClientIP(r))
			if err != nil {
				status := http.StatusUnauthorized
				message := err.Error()
				if models.KindOf(err) != models.KindAuth {
					observability.WithContext(r.Context()).Errorf("Token lookup failed: %v", err)
					status = http.StatusInternalServerError
					message = "Internal server error."
				}
				writeError(w, status, message)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTerminalID(r.Context(), terminalID)))
		})
	}
}

// ManagerPin requires the X-Manager-Pin header to match pinHash. An empty
// pinHash disables the check.
func ManagerPin(pinHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if pinHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pin := r.Header.Get(ManagerPinHeader)
			if pin == "" || bcrypt.CompareHashAndPassword([]byte(pinHash), []byte(pin)) != nil {
				observability.WithContext(r.Context()).
					WithField("terminal_id", GetTerminalIDFromContext(r.Context())).
					Warn("Rejected manager PIN")
				writeError(w, http.StatusForbidden, models.ErrManagerPinInvalid.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the request's remote address without the port
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Success: false, Message: message})
}
