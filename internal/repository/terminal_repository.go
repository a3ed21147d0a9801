package repository

import (
	"context"
	"database/sql"

	"github.com/tillsync/server/internal/models"
)

// TerminalRepository implements TerminalRepo for PostgreSQL/SQLite
type TerminalRepository struct {
	db DBTX
}

// NewTerminalRepository creates a new TerminalRepository
func NewTerminalRepository(db DBTX) *TerminalRepository {
	return &TerminalRepository{db: db}
}

func (r *TerminalRepository) GetByID(ctx context.Context, terminalID string) (*models.Terminal, error) {
	query := `SELECT "terminalId", "ipAddress", "deviceToken", "lastSeen", "createdAt"
			  FROM "terminals" WHERE "terminalId" = $1`

	var t models.Terminal
	err := r.db.QueryRowContext(ctx, query, terminalID).Scan(
		&t.TerminalID, &t.IPAddress, &t.DeviceToken, &t.LastSeen, &t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TerminalRepository) GetAll(ctx context.Context) ([]*models.Terminal, error) {
	query := `SELECT "terminalId", "ipAddress", "deviceToken", "lastSeen", "createdAt"
			  FROM "terminals" ORDER BY "lastSeen" DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	terminals := make([]*models.Terminal, 0)
	for rows.Next() {
		var t models.Terminal
		if err := rows.Scan(&t.TerminalID, &t.IPAddress, &t.DeviceToken, &t.LastSeen, &t.CreatedAt); err != nil {
			return nil, err
		}
		terminals = append(terminals, &t)
	}
	return terminals, rows.Err()
}

// Upsert registers a terminal or refreshes its address, liveness and, when
// provided, its device token. createdAt is kept from the first registration.
func (r *TerminalRepository) Upsert(ctx context.Context, t *models.Terminal) error {
	query := `
		INSERT INTO "terminals" ("terminalId", "ipAddress", "deviceToken", "lastSeen", "createdAt")
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ("terminalId") DO UPDATE SET
			"ipAddress" = excluded."ipAddress",
			"lastSeen" = excluded."lastSeen",
			"deviceToken" = CASE WHEN excluded."deviceToken" = '' THEN "terminals"."deviceToken" ELSE excluded."deviceToken" END
	`
	_, err := r.db.ExecContext(ctx, query, t.TerminalID, t.IPAddress, t.DeviceToken, t.LastSeen, t.CreatedAt)
	return err
}

// UpdateLastSeen refreshes liveness and, when known, the network address
func (r *TerminalRepository) UpdateLastSeen(ctx context.Context, terminalID, ipAddress string, lastSeen int64) error {
	query := `UPDATE "terminals" SET "lastSeen" = $1,
			  "ipAddress" = CASE WHEN $2 = '' THEN "ipAddress" ELSE $2 END
			  WHERE "terminalId" = $3`
	_, err := r.db.ExecContext(ctx, query, lastSeen, ipAddress, terminalID)
	return err
}

// Delete removes one terminal, or every terminal when terminalID is empty
func (r *TerminalRepository) Delete(ctx context.Context, terminalID string) (int64, error) {
	var result sql.Result
	var err error
	if terminalID == "" {
		result, err = r.db.ExecContext(ctx, `DELETE FROM "terminals"`)
	} else {
		result, err = r.db.ExecContext(ctx, `DELETE FROM "terminals" WHERE "terminalId" = $1`, terminalID)
	}
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
