package repository

import "slices"

// FieldSet lists the columns of a structured collection that need encoding
// on write and decoding on read. Both directions consult the same entry.
type FieldSet struct {
	JSON []string
	Bool []string
}

func (f FieldSet) isJSON(column string) bool {
	return slices.Contains(f.JSON, column)
}

func (f FieldSet) isBool(column string) bool {
	return slices.Contains(f.Bool, column)
}

// collectionFields is the single declarative schema for encoded columns
var collectionFields = map[string]FieldSet{
	"products": {
		JSON: []string{"modifiers", "variants", "tags"},
		Bool: []string{"isActive", "trackInventory"},
	},
	"customers": {
		JSON: []string{"tags", "addresses"},
		Bool: []string{"isActive", "acceptsMarketing"},
	},
	"transactions": {
		JSON: []string{"items", "payments", "discounts"},
		Bool: []string{"isRefund"},
	},
	"z_reports": {
		JSON: []string{"totals", "payments"},
		Bool: []string{"isClosed"},
	},
	"receptions": {
		JSON: []string{"items"},
	},
	"cash_movements":   {},
	"inventory_ledger": {},
}

// settingsCollections are advertised even before anything was pushed to them
var settingsCollections = []string{"campaigns", "coupons", "loyalty_tiers"}

// internalTables never resolve as collections
var internalTables = map[string]bool{
	"terminals":         true,
	"sync_tokens":       true,
	"settings":          true,
	"stock_balances":    true,
	"schema_migrations": true,
}
