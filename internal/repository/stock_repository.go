package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tillsync/server/internal/models"
)

// StockRepository maintains running stock balances
type StockRepository struct {
	db DBTX
}

// NewStockRepository creates a new StockRepository
func NewStockRepository(db DBTX) *StockRepository {
	return &StockRepository{db: db}
}

// Get returns the balance of a product in a warehouse, or nil if none exists
func (r *StockRepository) Get(ctx context.Context, productID, warehouseID string) (*models.StockBalance, error) {
	query := `SELECT "productId", "warehouseId", "quantity", "updatedAt"
			  FROM "stock_balances" WHERE "productId" = $1 AND "warehouseId" = $2`

	balance, err := scanBalance(r.db.QueryRowContext(ctx, query, productID, warehouseID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return balance, err
}

// AddDelta adds delta to the balance of the pair, creating it at delta when
// absent. Quantities are stored as exact decimal text.
func (r *StockRepository) AddDelta(ctx context.Context, delta models.StockDelta, at time.Time) error {
	current, err := r.Get(ctx, delta.ProductID, delta.WarehouseID)
	if err != nil {
		return fmt.Errorf("read balance %s/%s: %w", delta.ProductID, delta.WarehouseID, err)
	}

	quantity := delta.Delta
	if current != nil {
		quantity = current.Quantity.Add(delta.Delta)
	}

	query := `
		INSERT INTO "stock_balances" ("productId", "warehouseId", "quantity", "updatedAt")
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ("productId", "warehouseId") DO UPDATE SET
			"quantity" = excluded."quantity", "updatedAt" = excluded."updatedAt"
	`
	_, err = r.db.ExecContext(ctx, query, delta.ProductID, delta.WarehouseID, quantity.String(), at.UTC().UnixMilli())
	return err
}

// List returns balances, optionally filtered by product and warehouse
func (r *StockRepository) List(ctx context.Context, productID, warehouseID string) ([]models.StockBalance, error) {
	query := `SELECT "productId", "warehouseId", "quantity", "updatedAt" FROM "stock_balances"`

	var conds []string
	var args []interface{}
	if productID != "" {
		args = append(args, productID)
		conds = append(conds, fmt.Sprintf(`"productId" = $%d`, len(args)))
	}
	if warehouseID != "" {
		args = append(args, warehouseID)
		conds = append(conds, fmt.Sprintf(`"warehouseId" = $%d`, len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY "productId", "warehouseId"`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make([]models.StockBalance, 0)
	for rows.Next() {
		balance, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *balance)
	}
	return balances, rows.Err()
}

// DeleteAll removes every balance
func (r *StockRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM "stock_balances"`)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBalance(row scanner) (*models.StockBalance, error) {
	var b models.StockBalance
	var quantity string
	var updatedAt int64
	if err := row.Scan(&b.ProductID, &b.WarehouseID, &quantity, &updatedAt); err != nil {
		return nil, err
	}

	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return nil, fmt.Errorf("balance %s/%s holds invalid quantity %q: %w", b.ProductID, b.WarehouseID, quantity, err)
	}
	b.Quantity = q
	b.UpdatedAt = models.FormatMillis(updatedAt)
	return &b, nil
}
