package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/repository"
)

// InventoryService keeps the movement ledger and the stock balances derived
// from it
type InventoryService struct {
	store   *repository.Store
	meta    *MetadataService
	clock   Clock
	metrics *observability.SyncMetrics
}

// NewInventoryService creates a new InventoryService
func NewInventoryService(store *repository.Store, meta *MetadataService, clock Clock, metrics *observability.SyncMetrics) *InventoryService {
	return &InventoryService{store: store, meta: meta, clock: clock, metrics: metrics}
}

// PushMovements appends movements to the ledger. Only movements not already
// in the ledger change a balance; every submitted movement is queued.
func (s *InventoryService) PushMovements(ctx context.Context, rawItems json.RawMessage) (*models.AppendResponse, error) {
	ctx, span := observability.StartServiceSpan(ctx, "InventoryService", "PushMovements",
		observability.Collection(CollectionInventoryLedger))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	records, err := models.DecodeRecords(rawItems)
	if err != nil {
		return nil, err
	}

	if err = validateMovements(records); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var added int
	var meta models.SyncMetadata
	err = s.store.InTx(ctx, func(q *repository.Queries) error {
		inserted, err := q.Collections.Append(ctx, CollectionInventoryLedger, records)
		if err != nil {
			return err
		}
		added = len(inserted)

		for _, rec := range inserted {
			delta, err := models.MovementDelta(rec)
			if err != nil {
				return err
			}
			if err := q.Stock.AddDelta(ctx, delta, now); err != nil {
				return fmt.Errorf("apply movement %s: %w", rec.ID(), err)
			}
		}

		pq, err := newPendingQueue(q.Settings, QueueMovements)
		if err != nil {
			return err
		}
		if err := pq.append(ctx, records); err != nil {
			return err
		}

		count, err := q.Collections.Count(ctx, CollectionInventoryLedger)
		if err != nil {
			return err
		}
		meta, err = s.meta.Bump(ctx, q, CollectionInventoryLedger, count)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.meta.Publish(map[string]models.SyncMetadata{CollectionInventoryLedger: meta})
	s.metrics.RecordPush(ctx, CollectionInventoryLedger, "append", len(records), added)

	return &models.AppendResponse{
		Success:    true,
		AddedCount: added,
		Received:   len(records),
		Metadata:   meta,
	}, nil
}

// validateMovements checks a whole batch before the store is touched and
// fills in the default warehouse
func validateMovements(records []models.Record) error {
	for i, rec := range records {
		if rec.ID() == "" {
			return models.ErrMissingItemID
		}
		if _, err := models.MovementDelta(rec); err != nil {
			return models.Validationf("movement %d: %s", i, err.Error())
		}
		if rec.String("warehouseId") == "" {
			rec["warehouseId"] = models.DefaultWarehouse
		}
	}
	return nil
}

// upsertLedger writes movements with upsert semantics and moves the stock
// balances by the difference between each movement and the row it replaces
func upsertLedger(ctx context.Context, q *repository.Queries, records []models.Record, now time.Time) error {
	current := make(map[string]models.Record, len(records))
	for _, rec := range records {
		id := rec.ID()
		prev, seen := current[id]
		if !seen {
			rows, err := q.Collections.LoadWhere(ctx, CollectionInventoryLedger, "id", id)
			if err != nil {
				return fmt.Errorf("load movement %s: %w", id, err)
			}
			if len(rows) > 0 {
				prev = rows[0]
			}
		}

		if prev != nil {
			if old, err := models.MovementDelta(prev); err == nil {
				old.Delta = old.Delta.Neg()
				if err := q.Stock.AddDelta(ctx, old, now); err != nil {
					return fmt.Errorf("revert movement %s: %w", id, err)
				}
			} else {
				observability.WithField("movement_id", id).Warnf("Replaced ledger row had no stock effect: %v", err)
			}
		}

		delta, err := models.MovementDelta(rec)
		if err != nil {
			return err
		}
		if err := q.Stock.AddDelta(ctx, delta, now); err != nil {
			return fmt.Errorf("apply movement %s: %w", id, err)
		}
		current[id] = rec
	}

	return q.Collections.Write(ctx, CollectionInventoryLedger, records)
}

// DrainMovements returns and clears the pending movement queue
func (s *InventoryService) DrainMovements(ctx context.Context) ([]models.Record, error) {
	var items []models.Record
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		pq, err := newPendingQueue(q.Settings, QueueMovements)
		if err != nil {
			return err
		}
		items, err = pq.drain(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordDrain(ctx, QueueMovements, len(items))
	return items, nil
}

// StockBalances lists balances. Empty filters match everything.
func (s *InventoryService) StockBalances(ctx context.Context, productID, warehouseID string) ([]models.StockBalance, error) {
	balances, err := s.store.Queries().Stock.List(ctx, productID, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("list stock balances: %w", err)
	}
	return balances, nil
}

// Kardex returns the product's ledger in chronological order, each entry
// carrying the warehouse balance after it
func (s *InventoryService) Kardex(ctx context.Context, productID string) (*models.KardexResponse, error) {
	if productID == "" {
		return nil, models.ErrMissingProductID
	}

	movements, err := s.store.Queries().Collections.LoadWhere(ctx, CollectionInventoryLedger, "productId", productID)
	if err != nil {
		return nil, fmt.Errorf("load kardex of %s: %w", productID, err)
	}

	sort.SliceStable(movements, func(i, j int) bool {
		return movements[i].Millis("createdAt") < movements[j].Millis("createdAt")
	})

	resp := &models.KardexResponse{
		Success:   true,
		ProductID: productID,
		Entries:   make([]models.KardexEntry, 0, len(movements)),
		Balances:  make(map[string]decimal.Decimal),
	}
	for _, mv := range movements {
		delta, err := models.MovementDelta(mv)
		if err != nil {
			observability.WithFields(map[string]interface{}{
				"product_id":  productID,
				"movement_id": mv.ID(),
			}).Warnf("Skipping unreadable ledger row: %v", err)
			continue
		}
		balance := resp.Balances[delta.WarehouseID].Add(delta.Delta)
		resp.Balances[delta.WarehouseID] = balance
		resp.Entries = append(resp.Entries, models.KardexEntry{Movement: mv, Balance: balance})
	}
	return resp, nil
}
