package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/server/internal/models"
)

func balanceOf(t *testing.T, env *testEnv, productID, warehouseID string) decimal.Decimal {
	t.Helper()
	balance, err := env.store.Queries().Stock.Get(context.Background(), productID, warehouseID)
	require.NoError(t, err)
	if balance == nil {
		return decimal.Zero
	}
	return balance.Quantity
}

func TestInventoryService_PushMovements(t *testing.T) {
	ctx := context.Background()

	t.Run("only new movements change balances", func(t *testing.T) {
		env := newTestEnv(t)

		resp, err := env.inventory.PushMovements(ctx, raw(`[
			{"id":"m1","terminalId":"T1","productId":"P1","warehouseId":"W1","qtyIn":10},
			{"id":"m2","terminalId":"T1","productId":"P1","warehouseId":"W1","qtyOut":3}
		]`))
		require.NoError(t, err)
		assert.Equal(t, 2, resp.AddedCount)
		assert.True(t, balanceOf(t, env, "P1", "W1").Equal(decimal.NewFromInt(7)))

		resp, err = env.inventory.PushMovements(ctx, raw(`[
			{"id":"m2","terminalId":"T1","productId":"P1","warehouseId":"W1","qtyOut":3},
			{"id":"m3","terminalId":"T2","productId":"P1","warehouseId":"W1","qtyOut":0.5}
		]`))
		require.NoError(t, err)
		assert.Equal(t, 1, resp.AddedCount)
		assert.Equal(t, 2, resp.Received)
		assert.Equal(t, 3, resp.Metadata.ItemCount)
		assert.True(t, balanceOf(t, env, "P1", "W1").Equal(decimal.RequireFromString("6.5")))
	})

	t.Run("balance equals the ledger sum", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.inventory.PushMovements(ctx, raw(`[
			{"id":"a","productId":"P1","qtyIn":"0.1"},
			{"id":"b","productId":"P1","qtyIn":"0.2"},
			{"id":"c","productId":"P1","qtyOut":"0.3"},
			{"id":"d","productId":"P2","warehouseId":"W2","qtyIn":5}
		]`))
		require.NoError(t, err)

		ledger, err := env.store.Queries().Collections.Load(ctx, CollectionInventoryLedger)
		require.NoError(t, err)
		sums := map[string]decimal.Decimal{}
		for _, mv := range ledger {
			delta, err := models.MovementDelta(mv)
			require.NoError(t, err)
			key := delta.ProductID + "/" + delta.WarehouseID
			sums[key] = sums[key].Add(delta.Delta)
		}

		balances, err := env.inventory.StockBalances(ctx, "", "")
		require.NoError(t, err)
		require.Len(t, balances, 2)
		for _, b := range balances {
			assert.True(t, sums[b.ProductID+"/"+b.WarehouseID].Equal(b.Quantity), b.ProductID)
		}
		assert.True(t, balanceOf(t, env, "P1", models.DefaultWarehouse).IsZero(), "0.1+0.2-0.3 is exactly zero")
	})

	t.Run("invalid batch is rejected before any write", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.inventory.PushMovements(ctx, raw(`[
			{"id":"ok","productId":"P1","qtyIn":1},
			{"id":"bad","qtyIn":1}
		]`))
		assert.Equal(t, models.KindValidation, models.KindOf(err))

		_, err = env.inventory.PushMovements(ctx, raw(`[{"productId":"P1","qtyIn":1}]`))
		assert.ErrorIs(t, err, models.ErrMissingItemID)

		count, err := env.store.Queries().Collections.Count(ctx, CollectionInventoryLedger)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.True(t, balanceOf(t, env, "P1", models.DefaultWarehouse).IsZero())
	})

	t.Run("all submitted movements are queued", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.inventory.PushMovements(ctx, raw(`[{"id":"m1","productId":"P1","qtyIn":1}]`))
		require.NoError(t, err)
		_, err = env.inventory.PushMovements(ctx, raw(`[{"id":"m1","productId":"P1","qtyIn":1}]`))
		require.NoError(t, err)

		drained, err := env.inventory.DrainMovements(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m1"}, ids(drained))
		assert.Equal(t, models.DefaultWarehouse, drained[0].String("warehouseId"))

		drained, err = env.inventory.DrainMovements(ctx)
		require.NoError(t, err)
		assert.Empty(t, drained)
	})
}

func TestInventoryService_StockBalances(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.inventory.PushMovements(ctx, raw(`[
		{"id":"m1","productId":"P1","warehouseId":"W1","qtyIn":1},
		{"id":"m2","productId":"P1","warehouseId":"W2","qtyIn":2},
		{"id":"m3","productId":"P2","warehouseId":"W1","qtyIn":3}
	]`))
	require.NoError(t, err)

	tests := []struct {
		name      string
		product   string
		warehouse string
		want      int
	}{
		{"all", "", "", 3},
		{"by product", "P1", "", 2},
		{"by warehouse", "", "W1", 2},
		{"by pair", "P1", "W2", 1},
		{"no match", "P9", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balances, err := env.inventory.StockBalances(ctx, tt.product, tt.warehouse)
			require.NoError(t, err)
			assert.Len(t, balances, tt.want)
		})
	}
}

func TestInventoryService_Kardex(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.inventory.PushMovements(ctx, raw(`[
		{"id":"m3","productId":"P1","warehouseId":"W1","qtyOut":4,"createdAt":"2024-03-03T00:00:00Z"},
		{"id":"m1","productId":"P1","warehouseId":"W1","qtyIn":10,"createdAt":"2024-03-01T00:00:00Z"},
		{"id":"m2","productId":"P1","warehouseId":"W2","qtyIn":2,"createdAt":"2024-03-02T00:00:00Z"},
		{"id":"x1","productId":"P2","warehouseId":"W1","qtyIn":99,"createdAt":"2024-03-01T00:00:00Z"}
	]`))
	require.NoError(t, err)

	kardex, err := env.inventory.Kardex(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, kardex.Entries, 3)

	assert.Equal(t, "m1", kardex.Entries[0].Movement.ID())
	assert.True(t, kardex.Entries[0].Balance.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "m2", kardex.Entries[1].Movement.ID())
	assert.True(t, kardex.Entries[1].Balance.Equal(decimal.NewFromInt(2)), "running balance is per warehouse")
	assert.Equal(t, "m3", kardex.Entries[2].Movement.ID())
	assert.True(t, kardex.Entries[2].Balance.Equal(decimal.NewFromInt(6)))

	assert.True(t, kardex.Balances["W1"].Equal(balanceOf(t, env, "P1", "W1")))
	assert.True(t, kardex.Balances["W2"].Equal(balanceOf(t, env, "P1", "W2")))

	_, err = env.inventory.Kardex(ctx, "")
	assert.ErrorIs(t, err, models.ErrMissingProductID)
}

func ledgerSum(t *testing.T, env *testEnv, productID, warehouseID string) decimal.Decimal {
	t.Helper()
	ledger, err := env.store.Queries().Collections.Load(context.Background(), CollectionInventoryLedger)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, mv := range ledger {
		delta, err := models.MovementDelta(mv)
		require.NoError(t, err)
		if delta.ProductID == productID && delta.WarehouseID == warehouseID {
			sum = sum.Add(delta.Delta)
		}
	}
	return sum
}

func TestSyncService_PushInventoryLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("replaced movements move balances by the difference", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.inventory.PushMovements(ctx, raw(`[{"id":"m1","terminalId":"T1","productId":"P1","qtyIn":10}]`))
		require.NoError(t, err)

		_, err = env.sync.Push(ctx, CollectionInventoryLedger, raw(`[
			{"id":"m1","terminalId":"T1","productId":"P1","qtyIn":3},
			{"id":"m2","terminalId":"T1","productId":"P1","qtyIn":5}
		]`))
		require.NoError(t, err)

		balance := balanceOf(t, env, "P1", models.DefaultWarehouse)
		assert.True(t, balance.Equal(decimal.NewFromInt(8)), balance.String())
		assert.True(t, balance.Equal(ledgerSum(t, env, "P1", models.DefaultWarehouse)))

		_, err = env.reset.Reset(ctx, "T1", false)
		require.NoError(t, err)
		assert.True(t, balanceOf(t, env, "P1", models.DefaultWarehouse).IsZero())
		assert.True(t, ledgerSum(t, env, "P1", models.DefaultWarehouse).IsZero())
	})

	t.Run("the same id twice in one batch counts once", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.sync.Push(ctx, CollectionInventoryLedger, raw(`[
			{"id":"m1","productId":"P1","warehouseId":"W1","qtyIn":4},
			{"id":"m1","productId":"P1","warehouseId":"W1","qtyIn":6}
		]`))
		require.NoError(t, err)
		assert.True(t, balanceOf(t, env, "P1", "W1").Equal(decimal.NewFromInt(6)))
		assert.True(t, balanceOf(t, env, "P1", "W1").Equal(ledgerSum(t, env, "P1", "W1")))
	})

	t.Run("moving a movement to another warehouse moves its stock", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.sync.Push(ctx, CollectionInventoryLedger, raw(`[{"id":"m1","productId":"P1","warehouseId":"W1","qtyIn":4}]`))
		require.NoError(t, err)
		_, err = env.sync.Push(ctx, CollectionInventoryLedger, raw(`[{"id":"m1","productId":"P1","warehouseId":"W2","qtyIn":4}]`))
		require.NoError(t, err)

		assert.True(t, balanceOf(t, env, "P1", "W1").IsZero())
		assert.True(t, balanceOf(t, env, "P1", "W2").Equal(decimal.NewFromInt(4)))
	})

	t.Run("invalid movements are rejected", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.sync.Push(ctx, CollectionInventoryLedger, raw(`[{"id":"m1","qtyIn":4}]`))
		assert.Equal(t, models.KindValidation, models.KindOf(err))

		count, err := env.store.Queries().Collections.Count(ctx, CollectionInventoryLedger)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}
