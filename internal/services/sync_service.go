package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/repository"
)

// Collections with dedicated append endpoints
const (
	CollectionTransactions    = "transactions"
	CollectionCashMovements   = "cash_movements"
	CollectionZReports        = "z_reports"
	CollectionInventoryLedger = "inventory_ledger"
	CollectionReceptions      = "receptions"
)

// SyncService implements the pull, push and append side of the protocol
type SyncService struct {
	store         *repository.Store
	meta          *MetadataService
	clock         Clock
	errorLogLimit int
	metrics       *observability.SyncMetrics
}

// NewSyncService creates a new SyncService
func NewSyncService(store *repository.Store, meta *MetadataService, clock Clock, errorLogLimit int, metrics *observability.SyncMetrics) *SyncService {
	if errorLogLimit <= 0 {
		errorLogLimit = 100
	}
	return &SyncService{
		store:         store,
		meta:          meta,
		clock:         clock,
		errorLogLimit: errorLogLimit,
		metrics:       metrics,
	}
}

// Collections lists every resolvable collection and its storage kind
func (s *SyncService) Collections() []models.CollectionInfo {
	colls := s.store.Catalog().List()
	out := make([]models.CollectionInfo, 0, len(colls))
	for _, c := range colls {
		out = append(out, models.CollectionInfo{Name: c.Name, Kind: c.Kind.String()})
	}
	return out
}

// Metadata returns the collection's metadata, creating it on first access
func (s *SyncService) Metadata(ctx context.Context, collection string) (models.SyncMetadata, error) {
	if _, err := s.store.Catalog().Resolve(collection); err != nil {
		return models.SyncMetadata{}, err
	}
	return s.meta.Get(ctx, s.store.Queries(), collection)
}

// Pull returns the whole collection unless sinceVersion already covers the
// current version, in which case no items are read
func (s *SyncService) Pull(ctx context.Context, collection string, sinceVersion *int64) (*models.PullResponse, error) {
	ctx, span := observability.StartServiceSpan(ctx, "SyncService", "Pull", observability.Collection(collection))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	meta, err := s.Metadata(ctx, collection)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordPull(ctx, collection, "pull")

	if sinceVersion != nil && s.meta.IsUpToDate(meta, *sinceVersion) {
		return &models.PullResponse{
			Success:    true,
			Collection: collection,
			Items:      []models.Record{},
			Version:    meta.Version,
			UpToDate:   true,
		}, nil
	}

	return &models.PullResponse{
		Success:    true,
		Collection: collection,
		Items:      s.store.Queries().Collections.Read(ctx, collection),
		Version:    meta.Version,
		UpToDate:   false,
	}, nil
}

// Delta returns the items changed or tombstoned after since. An empty since
// returns everything.
func (s *SyncService) Delta(ctx context.Context, collection, since string) (*models.DeltaResponse, error) {
	if _, err := s.store.Catalog().Resolve(collection); err != nil {
		return nil, err
	}

	full := strings.TrimSpace(since) == ""
	var sinceMs int64
	if !full {
		var err error
		if sinceMs, err = models.ParseTimestamp(since); err != nil {
			return nil, err
		}
	}

	serverTime := s.clock.Now()
	records := s.store.Queries().Collections.Read(ctx, collection)
	s.metrics.RecordPull(ctx, collection, "delta")

	if full {
		return &models.DeltaResponse{
			Success:        true,
			Collection:     collection,
			Items:          records,
			IsFullDownload: true,
			ServerTime:     models.FormatMillis(serverTime.UnixMilli()),
		}, nil
	}

	return &models.DeltaResponse{
		Success:        true,
		Collection:     collection,
		Items:          FilterChangedSince(records, sinceMs),
		IsFullDownload: false,
		ServerTime:     models.FormatMillis(serverTime.UnixMilli()),
	}, nil
}

// FilterChangedSince keeps records updated (falling back to created) after
// since, plus records whose deletedAt is after since
func FilterChangedSince(records []models.Record, since int64) []models.Record {
	out := make([]models.Record, 0)
	for _, rec := range records {
		if rec.ChangedAt() > since || rec.Millis("deletedAt") > since {
			out = append(out, rec)
		}
	}
	return out
}

// Push writes a batch with the collection kind's replace semantics. The
// metadata item count is the batch size, not a recount of the table. Ledger
// pushes move stock balances in the same transaction.
func (s *SyncService) Push(ctx context.Context, collection string, rawItems json.RawMessage) (*models.PushResponse, error) {
	ctx, span := observability.StartServiceSpan(ctx, "SyncService", "Push", observability.Collection(collection))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	records, err := models.DecodeRecords(rawItems)
	if err != nil {
		return nil, err
	}
	if _, err = s.store.Catalog().Resolve(collection); err != nil {
		return nil, err
	}
	ledger := collection == CollectionInventoryLedger
	if ledger {
		if err = validateMovements(records); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	var meta models.SyncMetadata
	err = s.store.InTx(ctx, func(q *repository.Queries) error {
		write := q.Collections.Write
		if ledger {
			write = func(ctx context.Context, _ string, records []models.Record) error {
				return upsertLedger(ctx, q, records, now)
			}
		}
		if err := write(ctx, collection, records); err != nil {
			return err
		}
		var err error
		meta, err = s.meta.Bump(ctx, q, collection, len(records))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.meta.Publish(map[string]models.SyncMetadata{collection: meta})
	s.metrics.RecordPush(ctx, collection, "push", len(records), len(records))

	return &models.PushResponse{
		Success:    true,
		Collection: collection,
		Count:      len(records),
		Metadata:   meta,
	}, nil
}

// AppendTransactions stores new transactions and queues every submitted one,
// duplicates included, for downstream consumers
func (s *SyncService) AppendTransactions(ctx context.Context, rawItems json.RawMessage) (*models.AppendResponse, error) {
	return s.appendItems(ctx, CollectionTransactions, QueueTransactions, rawItems)
}

// AppendCashMovements stores new cash movements
func (s *SyncService) AppendCashMovements(ctx context.Context, rawItems json.RawMessage) (*models.AppendResponse, error) {
	return s.appendItems(ctx, CollectionCashMovements, "", rawItems)
}

// AppendZReports stores new Z-reports
func (s *SyncService) AppendZReports(ctx context.Context, rawItems json.RawMessage) (*models.AppendResponse, error) {
	return s.appendItems(ctx, CollectionZReports, "", rawItems)
}

func (s *SyncService) appendItems(ctx context.Context, collection, queue string, rawItems json.RawMessage) (*models.AppendResponse, error) {
	ctx, span := observability.StartServiceSpan(ctx, "SyncService", "Append", observability.Collection(collection))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	records, err := models.DecodeRecords(rawItems)
	if err != nil {
		return nil, err
	}

	var added int
	var meta models.SyncMetadata
	err = s.store.InTx(ctx, func(q *repository.Queries) error {
		inserted, err := q.Collections.Append(ctx, collection, records)
		if err != nil {
			return err
		}
		added = len(inserted)

		if queue != "" {
			pq, err := newPendingQueue(q.Settings, queue)
			if err != nil {
				return err
			}
			if err := pq.append(ctx, records); err != nil {
				return err
			}
		}

		count, err := q.Collections.Count(ctx, collection)
		if err != nil {
			return err
		}
		meta, err = s.meta.Bump(ctx, q, collection, count)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.meta.Publish(map[string]models.SyncMetadata{collection: meta})
	s.metrics.RecordPush(ctx, collection, "append", len(records), added)
	span.SetAttributes(observability.ItemCount(added))

	return &models.AppendResponse{
		Success:    true,
		AddedCount: added,
		Received:   len(records),
		Metadata:   meta,
	}, nil
}

// DrainPending returns and clears a pending queue in one transaction
func (s *SyncService) DrainPending(ctx context.Context, queue string) ([]models.Record, error) {
	var items []models.Record
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		pq, err := newPendingQueue(q.Settings, queue)
		if err != nil {
			return err
		}
		items, err = pq.drain(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordDrain(ctx, queue, len(items))
	return items, nil
}

// ReportError appends to the bounded error log. The reporting terminal is
// used when the entry names none.
func (s *SyncService) ReportError(ctx context.Context, reporter string, req models.ReportErrorRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	entry := models.SyncErrorEntry{
		TerminalID: req.TerminalID,
		Error:      req.Error,
		ItemType:   req.ItemType,
		ItemID:     req.ItemID,
		Timestamp:  models.FormatMillis(s.clock.Now().UnixMilli()),
	}
	if entry.TerminalID == "" {
		entry.TerminalID = reporter
	}

	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		var log []models.SyncErrorEntry
		if _, err := q.Settings.GetJSON(ctx, repository.SettingsKeyErrorLog, &log); err != nil {
			return fmt.Errorf("read error log: %w", err)
		}
		return q.Settings.PutJSON(ctx, repository.SettingsKeyErrorLog, models.AppendBounded(log, entry, s.errorLogLimit))
	})
	if err != nil {
		return err
	}

	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"terminal_id": entry.TerminalID,
		"item_type":   entry.ItemType,
		"item_id":     entry.ItemID,
	}).Warnf("Terminal reported sync error: %s", entry.Error)
	return nil
}

// Errors returns the error log, oldest first
func (s *SyncService) Errors(ctx context.Context) ([]models.SyncErrorEntry, error) {
	log := []models.SyncErrorEntry{}
	if _, err := s.store.Queries().Settings.GetJSON(ctx, repository.SettingsKeyErrorLog, &log); err != nil {
		return nil, fmt.Errorf("read error log: %w", err)
	}
	return log, nil
}

// Config returns the stored global configuration, or an empty object
func (s *SyncService) Config(ctx context.Context) (json.RawMessage, error) {
	raw, ok, err := s.store.Queries().Settings.Get(ctx, repository.SettingsKeyConfig)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if !ok {
		return json.RawMessage(`{}`), nil
	}
	return raw, nil
}

// History returns everything one terminal produced
func (s *SyncService) History(ctx context.Context, terminalID string) (*models.HistoryResponse, error) {
	if strings.TrimSpace(terminalID) == "" {
		return nil, models.ErrMissingTerminalID
	}

	q := s.store.Queries()
	load := func(collection string) ([]models.Record, error) {
		records, err := q.Collections.LoadWhere(ctx, collection, "terminalId", terminalID)
		if err != nil {
			return nil, fmt.Errorf("load %s history: %w", collection, err)
		}
		return records, nil
	}

	resp := &models.HistoryResponse{Success: true, TerminalID: terminalID}
	var err error
	if resp.Transactions, err = load(CollectionTransactions); err != nil {
		return nil, err
	}
	if resp.InventoryMovements, err = load(CollectionInventoryLedger); err != nil {
		return nil, err
	}
	if resp.ZReports, err = load(CollectionZReports); err != nil {
		return nil, err
	}
	if resp.CashMovements, err = load(CollectionCashMovements); err != nil {
		return nil, err
	}
	return resp, nil
}
