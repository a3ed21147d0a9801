package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/server/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func decodeRecords(t *testing.T, raw string) []models.Record {
	t.Helper()
	records, err := models.DecodeRecords(json.RawMessage(raw))
	require.NoError(t, err)
	return records
}

func TestCatalog(t *testing.T) {
	store := newTestStore(t)
	catalog := store.Catalog()

	tests := []struct {
		name string
		kind Kind
	}{
		{"products", KindStructured},
		{"transactions", KindStructured},
		{"inventory_ledger", KindStructured},
		{"categories", KindDataBag},
		{"warehouses", KindDataBag},
		{"campaigns", KindSettings},
		{"gift_cards", KindSettings},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coll, err := catalog.Resolve(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, coll.Kind)
		})
	}

	t.Run("structured collections carry columns and field sets", func(t *testing.T) {
		coll, err := catalog.Resolve("products")
		require.NoError(t, err)
		assert.Equal(t, "id", coll.Columns[0])
		assert.True(t, coll.HasColumn("deletedAt"))
		assert.True(t, coll.Fields.isJSON("modifiers"))
		assert.True(t, coll.Fields.isBool("isActive"))
	})

	t.Run("rejects invalid and internal names", func(t *testing.T) {
		for _, name := range []string{"", "Products", "../etc", "sync.meta.products", "settings", "sync_tokens", "terminals"} {
			_, err := catalog.Resolve(name)
			assert.ErrorIs(t, err, models.ErrInvalidCollection, name)
		}
	})

	t.Run("internal settings keys are not collection names", func(t *testing.T) {
		for _, key := range []string{SettingsKeyConfig, SettingsKeyMetaPrefix + "products", SettingsKeyPendingTx, SettingsKeyPendingMovements, SettingsKeyErrorLog} {
			assert.False(t, ValidCollectionName(key), key)
		}
	})

	t.Run("lists built-in settings collections", func(t *testing.T) {
		names := map[string]string{}
		for _, coll := range catalog.List() {
			names[coll.Name] = coll.Kind.String()
		}
		assert.Equal(t, "settings", names["coupons"])
		assert.Equal(t, "databag", names["categories"])
		assert.Equal(t, "structured", names["z_reports"])
		assert.NotContains(t, names, "settings")
	})
}

func TestCollectionRepository_Structured(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Queries().Collections

	t.Run("round trips json and boolean fields", func(t *testing.T) {
		records := decodeRecords(t, `[{"id":"p1","name":"Latte","price":3.5,"tags":["hot","milk"],"modifiers":[{"name":"Oat"}],"isActive":true,"trackInventory":false}]`)
		require.NoError(t, repo.Write(ctx, "products", records))

		got, err := repo.Load(ctx, "products")
		require.NoError(t, err)
		require.Len(t, got, 1)

		assert.Equal(t, "Latte", got[0]["name"])
		assert.Equal(t, 3.5, got[0]["price"])
		assert.Equal(t, []interface{}{"hot", "milk"}, got[0]["tags"])
		assert.Equal(t, true, got[0]["isActive"])
		assert.Equal(t, false, got[0]["trackInventory"])
		assert.Nil(t, got[0]["variants"])
	})

	t.Run("upsert replaces one row and keeps siblings", func(t *testing.T) {
		require.NoError(t, repo.Write(ctx, "products", decodeRecords(t, `[{"id":"p2","name":"Mocha"}]`)))
		require.NoError(t, repo.Write(ctx, "products", decodeRecords(t, `[{"id":"p1","name":"Flat white","price":4}]`)))

		got, err := repo.Load(ctx, "products")
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, "p1", got[0].ID())
		assert.Equal(t, "Flat white", got[0]["name"])
		assert.Nil(t, got[0]["isActive"], "fields absent from the push are cleared")
		assert.Equal(t, "Mocha", got[1]["name"])
	})

	t.Run("undecodable json field becomes empty array", func(t *testing.T) {
		_, err := store.DB().Exec(`INSERT INTO "products" ("id", "name", "tags") VALUES ('p3', 'Broken', '{not json')`)
		require.NoError(t, err)

		got, err := repo.LoadWhere(ctx, "products", "id", "p3")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, []interface{}{}, got[0]["tags"])
		assert.Equal(t, "Broken", got[0]["name"])
	})

	t.Run("append ignores existing ids", func(t *testing.T) {
		first, err := repo.Append(ctx, "transactions", decodeRecords(t, `[{"id":"tx-1","terminalId":"T1","total":10},{"id":"tx-2","terminalId":"T2","total":5}]`))
		require.NoError(t, err)
		assert.Len(t, first, 2)

		again, err := repo.Append(ctx, "transactions", decodeRecords(t, `[{"id":"tx-1","terminalId":"T1","total":99},{"id":"tx-3","terminalId":"T1"}]`))
		require.NoError(t, err)
		require.Len(t, again, 1)
		assert.Equal(t, "tx-3", again[0].ID())

		got, err := repo.LoadWhere(ctx, "transactions", "id", "tx-1")
		require.NoError(t, err)
		assert.Equal(t, float64(10), got[0]["total"])

		count, err := repo.Count(ctx, "transactions")
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("delete by terminal", func(t *testing.T) {
		removed, err := repo.DeleteByTerminal(ctx, "transactions", "T1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		left, err := repo.Load(ctx, "transactions")
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, "T2", left[0].TerminalID())
	})

	t.Run("rejects items without id", func(t *testing.T) {
		err := repo.Write(ctx, "products", decodeRecords(t, `[{"name":"nameless"}]`))
		assert.ErrorIs(t, err, models.ErrMissingItemID)
	})

	t.Run("filters on unknown column fail validation", func(t *testing.T) {
		_, err := repo.LoadWhere(ctx, "products", "nope", "x")
		assert.Equal(t, models.KindValidation, models.KindOf(err))
	})
}

func TestCollectionRepository_DataBag(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Queries().Collections

	require.NoError(t, repo.Write(ctx, "categories", decodeRecords(t, `[{"id":"c1","name":"Drinks","order":1},{"id":"c2","name":"Food"}]`)))
	require.NoError(t, repo.Write(ctx, "categories", decodeRecords(t, `[{"id":"c3","name":"Desserts"}]`)))

	got, err := repo.Load(ctx, "categories")
	require.NoError(t, err)
	require.Len(t, got, 1, "push replaces the whole data bag")
	assert.Equal(t, "c3", got[0].ID())
	assert.Equal(t, "Desserts", got[0]["name"])

	added, err := repo.Append(ctx, "categories", decodeRecords(t, `[{"id":"c3","name":"Other"},{"id":"c4","name":"Snacks","order":2}]`))
	require.NoError(t, err)
	assert.Len(t, added, 1)

	got, err = repo.Load(ctx, "categories")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, json.Number("2"), got[1]["order"])
}

func TestCollectionRepository_Settings(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Queries().Collections

	t.Run("absent collection reads empty", func(t *testing.T) {
		got, err := repo.Load(ctx, "campaigns")
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NotNil(t, got)
	})

	t.Run("push overwrites", func(t *testing.T) {
		require.NoError(t, repo.Write(ctx, "campaigns", decodeRecords(t, `[{"id":"a"},{"id":"b"}]`)))
		require.NoError(t, repo.Write(ctx, "campaigns", decodeRecords(t, `[{"id":"c"}]`)))

		got, err := repo.Load(ctx, "campaigns")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c", got[0].ID())
	})

	t.Run("append dedupes by id", func(t *testing.T) {
		added, err := repo.Append(ctx, "campaigns", decodeRecords(t, `[{"id":"c"},{"id":"d","terminalId":"T1"}]`))
		require.NoError(t, err)
		assert.Len(t, added, 1)

		count, err := repo.Count(ctx, "campaigns")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("delete by terminal filters the array", func(t *testing.T) {
		removed, err := repo.DeleteByTerminal(ctx, "campaigns", "T1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		count, err := repo.Count(ctx, "campaigns")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("read degrades to empty on invalid name", func(t *testing.T) {
		assert.Empty(t, repo.Read(ctx, "Not A Collection"))
	})
}

func TestStore_InTx(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	boom := errors.New("boom")
	err := store.InTx(ctx, func(q *Queries) error {
		if _, err := q.Collections.Append(ctx, "transactions", decodeRecords(t, `[{"id":"tx-1"},{"id":"tx-2"}]`)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	count, err := store.Queries().Collections.Count(ctx, "transactions")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "a failed batch leaves the collection unchanged")

	require.NoError(t, store.InTx(ctx, func(q *Queries) error {
		_, err := q.Collections.Append(ctx, "transactions", decodeRecords(t, `[{"id":"tx-1"}]`))
		return err
	}))
	count, err = store.Queries().Collections.Count(ctx, "transactions")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSettingsRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t).Queries().Settings

	_, ok, err := repo.Get(ctx, SettingsKeyConfig)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Put(ctx, SettingsKeyConfig, json.RawMessage(`{"currency":"EUR"}`)))
	require.NoError(t, repo.Put(ctx, SettingsKeyConfig, json.RawMessage(`{"currency":"USD"}`)))

	raw, ok, err := repo.Get(ctx, SettingsKeyConfig)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"currency":"USD"}`, string(raw))

	var meta models.SyncMetadata
	require.NoError(t, repo.PutJSON(ctx, SettingsKeyMetaPrefix+"products", models.SyncMetadata{Version: 42, ItemCount: 3}))
	found, err := repo.GetJSON(ctx, SettingsKeyMetaPrefix+"products", &meta)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), meta.Version)

	require.NoError(t, repo.Delete(ctx, SettingsKeyConfig))
	_, ok, err = repo.Get(ctx, SettingsKeyConfig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTerminalAndTokenRepositories(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t).Queries()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	term, err := models.NewTerminal("T-9", "push-1", "10.0.0.9", now)
	require.NoError(t, err)
	require.NoError(t, q.Terminals.Upsert(ctx, term))

	t.Run("re-registration keeps createdAt and device token", func(t *testing.T) {
		again, err := models.NewTerminal("T-9", "", "10.0.0.10", now.Add(time.Minute))
		require.NoError(t, err)
		require.NoError(t, q.Terminals.Upsert(ctx, again))

		got, err := q.Terminals.GetByID(ctx, "T-9")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "10.0.0.10", got.IPAddress)
		assert.Equal(t, "push-1", got.DeviceToken)
		assert.Equal(t, now.UnixMilli(), got.CreatedAt)
		assert.Equal(t, now.Add(time.Minute).UnixMilli(), got.LastSeen)
	})

	t.Run("update last seen keeps address when unknown", func(t *testing.T) {
		require.NoError(t, q.Terminals.UpdateLastSeen(ctx, "T-9", "", now.Add(time.Hour).UnixMilli()))

		got, err := q.Terminals.GetByID(ctx, "T-9")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.10", got.IPAddress)
		assert.Equal(t, now.Add(time.Hour).UnixMilli(), got.LastSeen)
	})

	t.Run("missing terminal is nil", func(t *testing.T) {
		got, err := q.Terminals.GetByID(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("tokens resolve, revoke and purge", func(t *testing.T) {
		require.NoError(t, q.Tokens.Create(ctx, &models.SyncToken{TokenHash: "h1", TerminalID: "T-9", CreatedAt: now.UnixMilli()}))
		require.NoError(t, q.Tokens.Create(ctx, &models.SyncToken{TokenHash: "h2", TerminalID: "T-9", CreatedAt: now.UnixMilli()}))

		tok, err := q.Tokens.GetByHash(ctx, "h1")
		require.NoError(t, err)
		require.NotNil(t, tok)
		assert.Equal(t, "T-9", tok.TerminalID)

		deleted, err := q.Tokens.Delete(ctx, "h1")
		require.NoError(t, err)
		assert.True(t, deleted)

		tok, err = q.Tokens.GetByHash(ctx, "h1")
		require.NoError(t, err)
		assert.Nil(t, tok)

		n, err := q.Tokens.DeleteByTerminal(ctx, "T-9")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("delete terminal", func(t *testing.T) {
		n, err := q.Terminals.Delete(ctx, "T-9")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		all, err := q.Terminals.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestStockRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t).Queries().Stock
	now := time.Now()

	deltas := []models.StockDelta{
		{ProductID: "p1", WarehouseID: "w1", Delta: decimal.RequireFromString("0.1")},
		{ProductID: "p1", WarehouseID: "w1", Delta: decimal.RequireFromString("0.2")},
		{ProductID: "p1", WarehouseID: "w2", Delta: decimal.NewFromInt(5)},
		{ProductID: "p2", WarehouseID: "w1", Delta: decimal.NewFromInt(-3)},
	}
	for _, d := range deltas {
		require.NoError(t, repo.AddDelta(ctx, d, now))
	}

	balance, err := repo.Get(ctx, "p1", "w1")
	require.NoError(t, err)
	require.NotNil(t, balance)
	assert.True(t, balance.Quantity.Equal(decimal.RequireFromString("0.3")), "decimal arithmetic is exact: %s", balance.Quantity)

	all, err := repo.List(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byProduct, err := repo.List(ctx, "p1", "")
	require.NoError(t, err)
	assert.Len(t, byProduct, 2)

	byBoth, err := repo.List(ctx, "p2", "w1")
	require.NoError(t, err)
	require.Len(t, byBoth, 1)
	assert.True(t, byBoth[0].Quantity.Equal(decimal.NewFromInt(-3)))

	require.NoError(t, repo.DeleteAll(ctx))
	all, err = repo.List(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCollectionRepository_ReadOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite reads in insertion order across updates", func(t *testing.T) {
		repo := newTestStore(t).Queries().Collections
		require.NoError(t, repo.Write(ctx, "products", decodeRecords(t, `[{"id":"p3"},{"id":"p1"},{"id":"p2"}]`)))
		require.NoError(t, repo.Write(ctx, "products", decodeRecords(t, `[{"id":"p1","name":"Flat white"}]`)))

		for i := 0; i < 3; i++ {
			got, err := repo.Load(ctx, "products")
			require.NoError(t, err)
			ids := make([]string, len(got))
			for j, rec := range got {
				ids[j] = rec.ID()
			}
			assert.Equal(t, []string{"p3", "p1", "p2"}, ids)
		}
	})

	tests := []struct {
		dialect Dialect
		want    string
	}{
		{DialectSQLite, ` ORDER BY rowid`},
		{DialectPostgres, ` ORDER BY "id"`},
	}
	for _, tt := range tests {
		t.Run("order clause for "+string(tt.dialect), func(t *testing.T) {
			repo := NewCollectionRepository(nil, tt.dialect, nil, nil)
			assert.Equal(t, tt.want, repo.orderClause())
		})
	}
}
