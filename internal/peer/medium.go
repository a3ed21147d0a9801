package peer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tillsync/server/internal/repository"
)

// Medium is the shared key/value space co-resident peers read and write.
// A missing key is reported with ok false and no error.
type Medium interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Put(ctx context.Context, key string, value json.RawMessage) error
}

// MemoryMedium keeps everything in process memory. It is shared by adapters
// in the same process and lost on exit.
type MemoryMedium struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewMemoryMedium creates an empty in-memory medium
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{values: make(map[string]json.RawMessage)}
}

func (m *MemoryMedium) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), v...), true, nil
}

func (m *MemoryMedium) Put(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append(json.RawMessage(nil), value...)
	return nil
}

// NewStoreMedium returns a medium backed by the settings table of store, so
// peer changes survive restarts of the same device
func NewStoreMedium(store *repository.Store) Medium {
	return store.Queries().Settings
}

var (
	_ Medium = (*MemoryMedium)(nil)
	_ Medium = (*repository.SettingsRepository)(nil)
)
