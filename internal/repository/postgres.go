package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tillsync/server/internal/observability"
)

const (
	postgresConnectAttempts = 5
	postgresConnectBackoff  = time.Second
)

// NewPostgresDB opens a pooled PostgreSQL connection. The first ping is
// retried with backoff since the database often starts alongside the server.
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Sync batches run inside single transactions; a small pool is enough
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	backoff := postgresConnectBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			return db, nil
		}
		if attempt == postgresConnectAttempts {
			db.Close()
			return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", attempt, err)
		}
		observability.Warnf("Postgres not ready (attempt %d/%d): %v", attempt, postgresConnectAttempts, err)
		time.Sleep(backoff)
		backoff *= 2
	}
}
