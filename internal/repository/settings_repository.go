package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Keys of the internal settings rows. Collection names cannot contain dots,
// so none of these can be shadowed by a settings collection.
const (
	SettingsKeyConfig           = "sync.config"
	SettingsKeyMetaPrefix       = "sync.meta."
	SettingsKeyPendingTx        = "sync.pending.transactions"
	SettingsKeyPendingMovements = "sync.pending.inventory_movements"
	SettingsKeyErrorLog         = "sync.errors"
)

// SettingsRepository implements SettingsStore over the settings table
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the stored JSON for key and whether it exists
func (r *SettingsRepository) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT "value" FROM "settings" WHERE "key" = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(value), true, nil
}

// Put stores value under key, replacing any previous value
func (r *SettingsRepository) Put(ctx context.Context, key string, value json.RawMessage) error {
	query := `
		INSERT INTO "settings" ("key", "value", "updatedAt") VALUES ($1, $2, $3)
		ON CONFLICT ("key") DO UPDATE SET "value" = excluded."value", "updatedAt" = excluded."updatedAt"
	`
	_, err := r.db.ExecContext(ctx, query, key, string(value), time.Now().UTC().UnixMilli())
	return err
}

// Delete removes key
func (r *SettingsRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM "settings" WHERE "key" = $1`, key)
	return err
}

// GetJSON decodes the value of key into dest. It reports false when the key
// is absent, leaving dest untouched.
func (r *SettingsRepository) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// PutJSON encodes v and stores it under key
func (r *SettingsRepository) PutJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.Put(ctx, key, data)
}
