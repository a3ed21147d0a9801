package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{"epoch millis", "1700000000123", 1700000000123, false},
		{"rfc3339 utc", "2023-11-14T22:13:20Z", 1700000000000, false},
		{"rfc3339 with millis", "2023-11-14T22:13:20.123Z", 1700000000123, false},
		{"rfc3339 with offset", "2023-11-14T23:13:20+01:00", 1700000000000, false},
		{"date only", "2023-11-14", 1699920000000, false},
		{"empty", "", 0, true},
		{"garbage", "yesterday", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSince)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordTimestamps(t *testing.T) {
	t.Run("changedAt prefers updatedAt", func(t *testing.T) {
		rec := Record{"createdAt": json.Number("100"), "updatedAt": "1970-01-01T00:00:00.200Z"}
		assert.Equal(t, int64(200), rec.ChangedAt())
	})

	t.Run("changedAt falls back to createdAt", func(t *testing.T) {
		rec := Record{"createdAt": float64(150)}
		assert.Equal(t, int64(150), rec.ChangedAt())
	})

	t.Run("changedAt is zero without timestamps", func(t *testing.T) {
		assert.Equal(t, int64(0), Record{"id": "a"}.ChangedAt())
	})

	t.Run("activityAt takes the latest", func(t *testing.T) {
		rec := Record{"createdAt": json.Number("300"), "updatedAt": json.Number("200")}
		assert.Equal(t, int64(300), rec.ActivityAt())
	})
}

func TestRecordString(t *testing.T) {
	rec := Record{"id": json.Number("42"), "name": "Coffee", "price": 3.5}

	assert.Equal(t, "42", rec.ID())
	assert.Equal(t, "Coffee", rec.String("name"))
	assert.Equal(t, "3.5", rec.String("price"))
	assert.Equal(t, "", rec.TerminalID())
}

func TestRecordDecimal(t *testing.T) {
	rec := Record{"a": json.Number("1.10"), "b": "2.20", "c": nil, "d": true}

	a, err := rec.Decimal("a")
	require.NoError(t, err)
	assert.True(t, a.Equal(decimal.RequireFromString("1.1")))

	b, err := rec.Decimal("b")
	require.NoError(t, err)
	assert.True(t, a.Add(b).Equal(decimal.RequireFromString("3.3")))

	c, err := rec.Decimal("c")
	require.NoError(t, err)
	assert.True(t, c.IsZero())

	_, err = rec.Decimal("d")
	assert.Error(t, err)
}

func TestDecodeRecords(t *testing.T) {
	t.Run("decodes objects keeping numbers exact", func(t *testing.T) {
		records, err := DecodeRecords(json.RawMessage(`[{"id":"tx-1","total":12.30},{"id":2}]`))
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, json.Number("12.30"), records[0]["total"])
		assert.Equal(t, "2", records[1].ID())
	})

	t.Run("accepts empty array", func(t *testing.T) {
		records, err := DecodeRecords(json.RawMessage(`[]`))
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("rejects non array", func(t *testing.T) {
		for _, raw := range []string{``, `null`, `{"id":"a"}`, `"items"`} {
			_, err := DecodeRecords(json.RawMessage(raw))
			assert.ErrorIs(t, err, ErrItemsNotArray, raw)
		}
	})

	t.Run("rejects non object items", func(t *testing.T) {
		_, err := DecodeRecords(json.RawMessage(`[{"id":"a"}, 3]`))
		assert.ErrorIs(t, err, ErrItemNotObject)
	})
}

func TestFilterByTerminal(t *testing.T) {
	records := []Record{
		{"id": "1", "terminalId": "T1"},
		{"id": "2", "terminalId": "T2"},
		{"id": "3"},
		{"id": "4", "terminalId": "T1"},
	}

	kept, removed := FilterByTerminal(records, "T1")

	assert.Len(t, kept, 2)
	assert.Len(t, removed, 2)
	assert.Equal(t, "2", kept[0].ID())
	assert.Equal(t, "3", kept[1].ID())
}
