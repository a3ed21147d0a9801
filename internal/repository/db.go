package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tillsync/server/internal/observability"
)

// Dialect names the SQL backend behind a Store
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) system() string {
	if d == DialectPostgres {
		return "postgresql"
	}
	return "sqlite"
}

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX = observability.Querier

// Store owns the database handle and the collection catalog resolved at startup
type Store struct {
	db      *sql.DB
	dialect Dialect
	catalog *Catalog
	metrics *observability.DatabaseMetrics
}

// NewStore introspects the schema and returns a ready Store. Migrations must
// already have been applied.
func NewStore(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	catalog, err := LoadCatalog(ctx, db, dialect)
	if err != nil {
		return nil, fmt.Errorf("load collection catalog: %w", err)
	}

	metrics, err := observability.NewDatabaseMetrics()
	if err != nil {
		observability.Warnf("Database metrics unavailable: %v", err)
	}

	return &Store{db: db, dialect: dialect, catalog: catalog, metrics: metrics}, nil
}

// DB returns the underlying database connection
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL backend in use
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Catalog returns the collections resolved at startup
func (s *Store) Catalog() *Catalog {
	return s.catalog
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Queries returns repositories bound to the database outside any transaction
func (s *Store) Queries() *Queries {
	return s.bind(s.db)
}

// InTx runs fn inside one transaction. The transaction commits when fn returns
// nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(s.bind(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			observability.Errorf("Rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) bind(q DBTX) *Queries {
	traced := observability.NewTraceDB(q, s.dialect.system(), s.metrics)
	settings := NewSettingsRepository(traced)
	return &Queries{
		Collections: NewCollectionRepository(traced, s.dialect, s.catalog, settings),
		Settings:    settings,
		Terminals:   NewTerminalRepository(traced),
		Tokens:      NewTokenRepository(traced),
		Stock:       NewStockRepository(traced),
	}
}

// Queries groups the repositories sharing one connection or transaction
type Queries struct {
	Collections *CollectionRepository
	Settings    *SettingsRepository
	Terminals   *TerminalRepository
	Tokens      *TokenRepository
	Stock       *StockRepository
}

// OpenSQLiteStore opens a SQLite database, applies migrations and returns
// the Store. ":memory:" gives a private in-memory store.
func OpenSQLiteStore(ctx context.Context, path string) (*Store, error) {
	db, err := NewSQLiteDB(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return openStore(ctx, db, DialectSQLite)
}

// OpenPostgresStore connects to PostgreSQL, applies migrations and returns the Store
func OpenPostgresStore(ctx context.Context, connStr string) (*Store, error) {
	db, err := NewPostgresDB(connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return openStore(ctx, db, DialectPostgres)
}

func openStore(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if err := Migrate(db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	store, err := NewStore(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
