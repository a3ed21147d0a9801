package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/repository"
)

// StatusService builds the read-only rollups used by dashboards and terminals
type StatusService struct {
	store *repository.Store
	meta  *MetadataService
	clock Clock
}

// NewStatusService creates a new StatusService
func NewStatusService(store *repository.Store, meta *MetadataService, clock Clock) *StatusService {
	return &StatusService{store: store, meta: meta, clock: clock}
}

// Status returns the metadata of every known collection
func (s *StatusService) Status(ctx context.Context, terminalID string) (*models.StatusResponse, error) {
	resp := &models.StatusResponse{
		Success:     true,
		TerminalID:  terminalID,
		ServerTime:  models.FormatMillis(s.clock.Now().UnixMilli()),
		Collections: make(map[string]models.SyncMetadata),
	}

	q := s.store.Queries()
	for _, coll := range s.store.Catalog().List() {
		meta, err := s.meta.Get(ctx, q, coll.Name)
		if err != nil {
			return nil, err
		}
		resp.Collections[coll.Name] = meta
	}
	return resp, nil
}

type operationalSources struct {
	transactions []models.Record
	movements    []models.Record
	zReports     []models.Record
	pendingTx    []models.Record
	pendingMv    []models.Record
	errors       []models.SyncErrorEntry
}

// OperationalStatus groups activity by the terminal that produced it. Records
// without a terminal id land in the "Unknown" bucket.
func (s *StatusService) OperationalStatus(ctx context.Context) (*models.OperationalStatusResponse, error) {
	src, err := s.loadSources(ctx)
	if err != nil {
		return nil, err
	}

	terminals := make(map[string]*models.TerminalActivity)
	bucket := func(terminalID string) *models.TerminalActivity {
		id := models.BucketTerminal(terminalID)
		a, ok := terminals[id]
		if !ok {
			a = &models.TerminalActivity{}
			terminals[id] = a
		}
		return a
	}

	for _, rec := range src.transactions {
		a := bucket(rec.TerminalID())
		a.Transactions++
		a.Observe(rec.ActivityAt())
	}
	for _, rec := range src.movements {
		a := bucket(rec.TerminalID())
		a.Movements++
		a.Observe(rec.ActivityAt())
	}
	for _, rec := range src.zReports {
		a := bucket(rec.TerminalID())
		a.ZReports++
		a.Observe(rec.ActivityAt())
	}
	for _, rec := range append(src.pendingTx, src.pendingMv...) {
		a := bucket(rec.TerminalID())
		a.Pending++
		a.Observe(rec.ActivityAt())
	}
	for _, entry := range src.errors {
		a := bucket(entry.TerminalID)
		a.Errors++
		a.Observe(entry.Millis())
	}

	return &models.OperationalStatusResponse{Success: true, Terminals: terminals}, nil
}

// loadSources reads every input of the rollup concurrently
func (s *StatusService) loadSources(ctx context.Context) (*operationalSources, error) {
	var src operationalSources
	g, gctx := errgroup.WithContext(ctx)

	load := func(collection string, dest *[]models.Record) {
		g.Go(func() error {
			records, err := s.store.Queries().Collections.Load(gctx, collection)
			if err != nil {
				return fmt.Errorf("load %s: %w", collection, err)
			}
			*dest = records
			return nil
		})
	}
	peek := func(queue string, dest *[]models.Record) {
		g.Go(func() error {
			pq, err := newPendingQueue(s.store.Queries().Settings, queue)
			if err != nil {
				return err
			}
			items, err := pq.items(gctx)
			if err != nil {
				return err
			}
			*dest = items
			return nil
		})
	}

	load(CollectionTransactions, &src.transactions)
	load(CollectionInventoryLedger, &src.movements)
	load(CollectionZReports, &src.zReports)
	peek(QueueTransactions, &src.pendingTx)
	peek(QueueMovements, &src.pendingMv)
	g.Go(func() error {
		_, err := s.store.Queries().Settings.GetJSON(gctx, repository.SettingsKeyErrorLog, &src.errors)
		if err != nil {
			return fmt.Errorf("read error log: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &src, nil
}
