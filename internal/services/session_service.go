package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tillsync/server/internal/config"
	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/repository"
)

// SessionService issues and validates per-terminal sync tokens
type SessionService struct {
	store          *repository.Store
	clock          Clock
	livenessWindow time.Duration
	expiresIn      int // seconds, advertised only
	metrics        *observability.SyncMetrics
}

// NewSessionService creates a new SessionService
func NewSessionService(store *repository.Store, cfg config.Sync, clock Clock, metrics *observability.SyncMetrics) *SessionService {
	window := cfg.LivenessWindow()
	if window <= 0 {
		window = 120 * time.Second
	}
	expiresIn := cfg.TokenExpiresInSeconds
	if expiresIn <= 0 {
		expiresIn = 86400
	}
	return &SessionService{
		store:          store,
		clock:          clock,
		livenessWindow: window,
		expiresIn:      expiresIn,
		metrics:        metrics,
	}
}

// Authenticate issues a new token for the terminal and marks it ONLINE.
// Earlier tokens of the same terminal stay valid.
func (s *SessionService) Authenticate(ctx context.Context, req models.AuthRequest, ipAddress string) (*models.AuthResponse, error) {
	ctx, span := observability.StartServiceSpan(ctx, "SessionService", "Authenticate")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	terminal, err := models.NewTerminal(req.TerminalID, req.DeviceToken, ipAddress, s.clock.Now())
	if err != nil {
		s.metrics.RecordAuthAttempt(ctx, false)
		return nil, err
	}
	span.SetAttributes(observability.TerminalID(terminal.TerminalID))

	token, err := models.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	err = s.store.InTx(ctx, func(q *repository.Queries) error {
		if err := q.Terminals.Upsert(ctx, terminal); err != nil {
			return fmt.Errorf("register terminal: %w", err)
		}
		return q.Tokens.Create(ctx, &models.SyncToken{
			TokenHash:  models.HashToken(token),
			TerminalID: terminal.TerminalID,
			CreatedAt:  terminal.LastSeen,
		})
	})
	if err != nil {
		s.metrics.RecordAuthAttempt(ctx, false)
		return nil, err
	}

	s.metrics.RecordAuthAttempt(ctx, true)
	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"terminal_id": terminal.TerminalID,
		"ip":          ipAddress,
	}).Info("Terminal authenticated")

	return &models.AuthResponse{
		Success:    true,
		Token:      token,
		TerminalID: terminal.TerminalID,
		ExpiresIn:  s.expiresIn,
	}, nil
}

// Resolve returns the terminal bound to token and refreshes its liveness.
// Unknown tokens leave no trace.
func (s *SessionService) Resolve(ctx context.Context, token, ipAddress string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", models.ErrMissingToken
	}

	q := s.store.Queries()
	stored, err := q.Tokens.GetByHash(ctx, models.HashToken(token))
	if err != nil {
		return "", fmt.Errorf("resolve token: %w", err)
	}
	if stored == nil {
		return "", models.ErrInvalidToken
	}

	if err := q.Terminals.UpdateLastSeen(ctx, stored.TerminalID, ipAddress, s.clock.Now().UnixMilli()); err != nil {
		// A failed heartbeat must not block the sync call itself
		observability.WithContext(ctx).WithField("terminal_id", stored.TerminalID).
			Warnf("Failed to refresh lastSeen: %v", err)
	}
	return stored.TerminalID, nil
}

// Revoke invalidates one token
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	deleted, err := s.store.Queries().Tokens.Delete(ctx, models.HashToken(strings.TrimSpace(token)))
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if !deleted {
		return models.ErrInvalidToken
	}
	return nil
}

// ListTerminals returns every known terminal with its derived status
func (s *SessionService) ListTerminals(ctx context.Context) ([]models.TerminalResponse, error) {
	terminals, err := s.store.Queries().Terminals.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list terminals: %w", err)
	}

	now := s.clock.Now()
	out := make([]models.TerminalResponse, 0, len(terminals))
	for _, t := range terminals {
		out = append(out, t.ToResponse(now, s.livenessWindow))
	}
	return out, nil
}
