package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/repository"
)

// ResetAll addresses every terminal in a reset
const ResetAll = "ALL"

// resetCollections are wiped by a reset, filtered by terminal unless ALL
var resetCollections = []string{
	CollectionTransactions,
	CollectionInventoryLedger,
	CollectionZReports,
	CollectionCashMovements,
	CollectionReceptions,
}

// ResetNotifier tells connected terminals that their server-side data is gone
type ResetNotifier interface {
	TerminalReset(terminalID string, terminalRemoved bool)
}

// ResetService wipes operational data of one or all terminals
type ResetService struct {
	store    *repository.Store
	meta     *MetadataService
	clock    Clock
	notifier ResetNotifier
}

// NewResetService creates a new ResetService. notifier may be nil.
func NewResetService(store *repository.Store, meta *MetadataService, clock Clock, notifier ResetNotifier) *ResetService {
	return &ResetService{store: store, meta: meta, clock: clock, notifier: notifier}
}

// Reset deletes the operational records of terminalID, or of every terminal
// when terminalID is ALL. Stock balances are corrected so they keep matching
// the remaining ledger. With includeTerminal the terminal records and their
// tokens go too.
func (s *ResetService) Reset(ctx context.Context, terminalID string, includeTerminal bool) (*models.ResetResponse, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return nil, models.ErrMissingTerminalID
	}

	ctx, span := observability.StartServiceSpan(ctx, "ResetService", "Reset", observability.TerminalID(terminalID))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	filter := terminalID
	if terminalID == ResetAll {
		filter = ""
	}

	resp := &models.ResetResponse{
		Success:    true,
		TerminalID: terminalID,
		Deleted:    make(map[string]int64),
	}
	changes := make(map[string]models.SyncMetadata)

	err = s.store.InTx(ctx, func(q *repository.Queries) error {
		if err := s.revertStock(ctx, q, filter); err != nil {
			return err
		}

		for _, collection := range resetCollections {
			n, err := q.Collections.DeleteByTerminal(ctx, collection, filter)
			if err != nil {
				return fmt.Errorf("reset %s: %w", collection, err)
			}
			resp.Deleted[collection] = n
		}

		for _, queue := range []string{QueueTransactions, QueueMovements} {
			pq, err := newPendingQueue(q.Settings, queue)
			if err != nil {
				return err
			}
			n, err := pq.purge(ctx, filter)
			if err != nil {
				return fmt.Errorf("purge pending %s: %w", queue, err)
			}
			resp.Deleted["pending_"+queue] = int64(n)
		}

		n, err := s.purgeErrors(ctx, q, filter)
		if err != nil {
			return err
		}
		resp.Deleted["errors"] = int64(n)

		if includeTerminal {
			if _, err := q.Tokens.DeleteByTerminal(ctx, filter); err != nil {
				return fmt.Errorf("revoke tokens: %w", err)
			}
			removed, err := q.Terminals.Delete(ctx, filter)
			if err != nil {
				return fmt.Errorf("remove terminal: %w", err)
			}
			resp.TerminalRemoved = removed > 0
		}

		for _, collection := range resetCollections {
			count, err := q.Collections.Count(ctx, collection)
			if err != nil {
				return err
			}
			meta, err := s.meta.Bump(ctx, q, collection, count)
			if err != nil {
				return err
			}
			changes[collection] = meta
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.meta.Publish(changes)
	if s.notifier != nil {
		s.notifier.TerminalReset(terminalID, resp.TerminalRemoved)
	}
	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"terminal_id":      terminalID,
		"include_terminal": includeTerminal,
		"deleted":          resp.Deleted,
	}).Warn("Terminal data reset")
	return resp, nil
}

// revertStock undoes the balance effect of the ledger rows about to be deleted
func (s *ResetService) revertStock(ctx context.Context, q *repository.Queries, terminalID string) error {
	if terminalID == "" {
		if err := q.Stock.DeleteAll(ctx); err != nil {
			return fmt.Errorf("clear stock balances: %w", err)
		}
		return nil
	}

	movements, err := q.Collections.LoadWhere(ctx, CollectionInventoryLedger, "terminalId", terminalID)
	if err != nil {
		return fmt.Errorf("load ledger of %s: %w", terminalID, err)
	}

	now := s.clock.Now()
	for _, mv := range movements {
		delta, err := models.MovementDelta(mv)
		if err != nil {
			observability.WithField("movement_id", mv.ID()).Warnf("Ledger row has no stock effect: %v", err)
			continue
		}
		delta.Delta = delta.Delta.Neg()
		if err := q.Stock.AddDelta(ctx, delta, now); err != nil {
			return fmt.Errorf("revert movement %s: %w", mv.ID(), err)
		}
	}
	return nil
}

func (s *ResetService) purgeErrors(ctx context.Context, q *repository.Queries, terminalID string) (int, error) {
	var log []models.SyncErrorEntry
	found, err := q.Settings.GetJSON(ctx, repository.SettingsKeyErrorLog, &log)
	if err != nil {
		return 0, fmt.Errorf("read error log: %w", err)
	}
	if !found || len(log) == 0 {
		return 0, nil
	}

	kept := make([]models.SyncErrorEntry, 0, len(log))
	if terminalID != "" {
		for _, entry := range log {
			if entry.TerminalID != terminalID {
				kept = append(kept, entry)
			}
		}
	}
	removed := len(log) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, q.Settings.PutJSON(ctx, repository.SettingsKeyErrorLog, kept)
}
