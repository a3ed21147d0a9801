package repository

import (
	"context"
	"encoding/json"
)

// SettingsStore is the key/value side table injected into the protocol
// services. Values are JSON documents.
type SettingsStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Put(ctx context.Context, key string, value json.RawMessage) error
}

var _ SettingsStore = (*SettingsRepository)(nil)
