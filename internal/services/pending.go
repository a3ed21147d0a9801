package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/repository"
)

// Pending queue names accepted by DrainPending
const (
	QueueTransactions = "transactions"
	QueueMovements    = "inventory_movements"
)

var queueKeys = map[string]string{
	QueueTransactions: repository.SettingsKeyPendingTx,
	QueueMovements:    repository.SettingsKeyPendingMovements,
}

// pendingQueue is an append-only buffer kept in the settings store. A drain
// reads and clears it in the caller's transaction; there is no acknowledgement.
type pendingQueue struct {
	store repository.SettingsStore
	key   string
}

func newPendingQueue(store repository.SettingsStore, queue string) (*pendingQueue, error) {
	key, ok := queueKeys[queue]
	if !ok {
		return nil, models.Validationf("unknown pending queue %q", queue)
	}
	return &pendingQueue{store: store, key: key}, nil
}

func (p *pendingQueue) items(ctx context.Context) ([]models.Record, error) {
	raw, ok, err := p.store.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.key, err)
	}
	if !ok {
		return []models.Record{}, nil
	}
	items, err := models.DecodeRecords(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.key, err)
	}
	return items, nil
}

func (p *pendingQueue) replace(ctx context.Context, items []models.Record) error {
	if items == nil {
		items = []models.Record{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return p.store.Put(ctx, p.key, data)
}

func (p *pendingQueue) append(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	items, err := p.items(ctx)
	if err != nil {
		return err
	}
	return p.replace(ctx, append(items, records...))
}

func (p *pendingQueue) drain(ctx context.Context) ([]models.Record, error) {
	items, err := p.items(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}
	return items, p.replace(ctx, nil)
}

// purge drops the items of terminalID, or all items when terminalID is empty
func (p *pendingQueue) purge(ctx context.Context, terminalID string) (int, error) {
	items, err := p.items(ctx)
	if err != nil {
		return 0, err
	}
	kept := []models.Record{}
	if terminalID != "" {
		kept, _ = models.FilterByTerminal(items, terminalID)
	}
	removed := len(items) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, p.replace(ctx, kept)
}
