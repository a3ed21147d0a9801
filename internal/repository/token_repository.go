package repository

import (
	"context"
	"database/sql"

	"github.com/tillsync/server/internal/models"
)

// TokenRepository stores hashed sync tokens
type TokenRepository struct {
	db DBTX
}

// NewTokenRepository creates a new TokenRepository
func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Create(ctx context.Context, token *models.SyncToken) error {
	query := `INSERT INTO "sync_tokens" ("tokenHash", "terminalId", "createdAt") VALUES ($1, $2, $3)`
	_, err := r.db.ExecContext(ctx, query, token.TokenHash, token.TerminalID, token.CreatedAt)
	return err
}

func (r *TokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.SyncToken, error) {
	query := `SELECT "tokenHash", "terminalId", "createdAt" FROM "sync_tokens" WHERE "tokenHash" = $1`

	var token models.SyncToken
	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(&token.TokenHash, &token.TerminalID, &token.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *TokenRepository) Delete(ctx context.Context, tokenHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM "sync_tokens" WHERE "tokenHash" = $1`, tokenHash)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// DeleteByTerminal revokes every token of a terminal, or all tokens when
// terminalID is empty
func (r *TokenRepository) DeleteByTerminal(ctx context.Context, terminalID string) (int64, error) {
	var result sql.Result
	var err error
	if terminalID == "" {
		result, err = r.db.ExecContext(ctx, `DELETE FROM "sync_tokens"`)
	} else {
		result, err = r.db.ExecContext(ctx, `DELETE FROM "sync_tokens" WHERE "terminalId" = $1`, terminalID)
	}
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *TokenRepository) CountForTerminal(ctx context.Context, terminalID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "sync_tokens" WHERE "terminalId" = $1`, terminalID).Scan(&count)
	return count, err
}
