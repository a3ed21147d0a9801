package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tillsync/server/internal/config"
	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []string
	resets  []string
}

func (n *recordingNotifier) CollectionChanged(collection string, _ models.SyncMetadata) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, collection)
}

func (n *recordingNotifier) TerminalReset(terminalID string, _ bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, terminalID)
}

func (n *recordingNotifier) Resets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.resets...)
}

func (n *recordingNotifier) Changes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.changes...)
}

type testEnv struct {
	store     *repository.Store
	clock     *fakeClock
	notifier  *recordingNotifier
	meta      *MetadataService
	sync      *SyncService
	inventory *InventoryService
	status    *StatusService
	reset     *ResetService
	sessions  *SessionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := repository.OpenSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := newFakeClock()
	notifier := &recordingNotifier{}
	meta := NewMetadataService(clock, notifier)
	cfg := config.Default()

	return &testEnv{
		store:     store,
		clock:     clock,
		notifier:  notifier,
		meta:      meta,
		sync:      NewSyncService(store, meta, clock, 3, nil),
		inventory: NewInventoryService(store, meta, clock, nil),
		status:    NewStatusService(store, meta, clock),
		reset:     NewResetService(store, meta, clock, notifier),
		sessions:  NewSessionService(store, cfg.Sync, clock, nil),
	}
}

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}

func ids(records []models.Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.ID())
	}
	return out
}
