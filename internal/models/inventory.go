package models

import "github.com/shopspring/decimal"

// DefaultWarehouse is used for movements that name no warehouse
const DefaultWarehouse = "default"

// StockBalance is the running quantity of one product in one warehouse
type StockBalance struct {
	ProductID   string          `json:"productId"`
	WarehouseID string          `json:"warehouseId"`
	Quantity    decimal.Decimal `json:"quantity"`
	UpdatedAt   string          `json:"updatedAt"`
}

// StockDelta is the net effect of one movement on a balance
type StockDelta struct {
	ProductID   string
	WarehouseID string
	Delta       decimal.Decimal
}

// KardexEntry is a ledger row with the balance after it was applied
type KardexEntry struct {
	Movement Record          `json:"movement"`
	Balance  decimal.Decimal `json:"balance"`
}

// StockBalancesResponse for GET /inventory/stock-balances
type StockBalancesResponse struct {
	Success  bool           `json:"success"`
	Balances []StockBalance `json:"balances"`
}

// KardexResponse for GET /inventory/kardex/{productId}
type KardexResponse struct {
	Success   bool                       `json:"success"`
	ProductID string                     `json:"productId"`
	Entries   []KardexEntry              `json:"entries"`
	Balances  map[string]decimal.Decimal `json:"balances"`
}

// MovementDelta extracts the stock effect of an inventory movement record
func MovementDelta(movement Record) (StockDelta, error) {
	productID := movement.String("productId")
	if productID == "" {
		return StockDelta{}, ErrMissingProductID
	}
	warehouseID := movement.String("warehouseId")
	if warehouseID == "" {
		warehouseID = DefaultWarehouse
	}

	qtyIn, err := movement.Decimal("qtyIn")
	if err != nil {
		return StockDelta{}, ErrInvalidQuantity
	}
	qtyOut, err := movement.Decimal("qtyOut")
	if err != nil {
		return StockDelta{}, ErrInvalidQuantity
	}

	return StockDelta{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Delta:       qtyIn.Sub(qtyOut),
	}, nil
}
