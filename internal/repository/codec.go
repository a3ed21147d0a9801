package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
)

// encodeColumn converts a record value to its column representation. JSON
// columns become text, boolean columns become 0/1.
func encodeColumn(fields FieldSet, column string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch {
	case fields.isJSON(column):
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", column, err)
		}
		return string(data), nil
	case fields.isBool(column):
		if truthy(v) {
			return int64(1), nil
		}
		return int64(0), nil
	}

	switch t := v.(type) {
	case json.Number:
		return t.String(), nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", column, err)
		}
		return string(data), nil
	default:
		return v, nil
	}
}

// decodeColumn reverses encodeColumn. A JSON column that fails to parse is
// logged and replaced with an empty array.
func decodeColumn(fields FieldSet, collection, column string, raw interface{}) interface{} {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	if raw == nil {
		return nil
	}

	switch {
	case fields.isJSON(column):
		text, ok := raw.(string)
		if !ok || strings.TrimSpace(text) == "" {
			return []interface{}{}
		}
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		var out interface{}
		if err := dec.Decode(&out); err != nil {
			observability.WithFields(map[string]interface{}{
				"collection": collection,
				"field":      column,
			}).Warnf("Undecodable JSON field, substituting empty array: %v", err)
			return []interface{}{}
		}
		return out
	case fields.isBool(column):
		return truthy(raw)
	default:
		return raw
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err == nil {
			return b
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return err == nil && n != 0
	default:
		return false
	}
}

// encodeDataBag stores everything but the id in the data column
func encodeDataBag(rec models.Record) (string, error) {
	body := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		if k != "id" {
			body[k] = v
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeDataBag(collection, id string, data interface{}) models.Record {
	if b, ok := data.([]byte); ok {
		data = string(b)
	}

	rec := models.Record{}
	if text, ok := data.(string); ok && text != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(text)))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			observability.WithFields(map[string]interface{}{
				"collection": collection,
				"id":         id,
			}).Warnf("Undecodable data bag row: %v", err)
			rec = models.Record{}
		}
	}
	rec["id"] = id
	return rec
}
