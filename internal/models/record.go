package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UnknownTerminal buckets records that carry no terminal id
const UnknownTerminal = "Unknown"

// Record is one row of a collection as exchanged with terminals
type Record map[string]interface{}

// ID returns the record's primary id rendered as a string
func (r Record) ID() string {
	return r.String("id")
}

// TerminalID returns the terminal that produced the record, if any
func (r Record) TerminalID() string {
	return r.String("terminalId")
}

// String returns a field rendered as a string, or "" if absent
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

// Millis returns a timestamp field in epoch milliseconds, or 0 when absent or unparseable
func (r Record) Millis(field string) int64 {
	ms, _ := toMillis(r[field])
	return ms
}

// ChangedAt is updatedAt, falling back to createdAt, falling back to zero
func (r Record) ChangedAt() int64 {
	if ms := r.Millis("updatedAt"); ms > 0 {
		return ms
	}
	return r.Millis("createdAt")
}

// ActivityAt is the latest of createdAt and updatedAt
func (r Record) ActivityAt() int64 {
	created := r.Millis("createdAt")
	if updated := r.Millis("updatedAt"); updated > created {
		return updated
	}
	return created
}

// Decimal returns a numeric field as an exact decimal; absent fields are zero
func (r Record) Decimal(field string) (decimal.Decimal, error) {
	switch v := r[field].(type) {
	case nil:
		return decimal.Zero, nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		if strings.TrimSpace(v) == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	default:
		return decimal.Zero, fmt.Errorf("field %s is not numeric", field)
	}
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ParseTimestamp accepts epoch milliseconds or an ISO-8601 timestamp
func ParseTimestamp(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidSince
	}
	ms, ok := toMillis(raw)
	if !ok {
		return 0, ErrInvalidSince
	}
	return ms, nil
}

// FormatMillis renders epoch milliseconds as an RFC 3339 UTC timestamp
func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toMillis(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		f, err := t.Float64()
		return int64(f), err == nil
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case time.Time:
		return t.UnixMilli(), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UnixMilli(), true
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

// DecodeRecords parses a JSON array of objects, keeping numbers exact
func DecodeRecords(raw json.RawMessage) ([]Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrItemsNotArray
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, ErrItemsNotArray
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return nil, ErrItemNotObject
		}
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, ErrItemNotObject
		}
		records = append(records, rec)
	}
	return records, nil
}

// FilterByTerminal splits records into those produced by terminalID and the rest
func FilterByTerminal(records []Record, terminalID string) (kept, removed []Record) {
	kept = make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.TerminalID() == terminalID {
			removed = append(removed, rec)
			continue
		}
		kept = append(kept, rec)
	}
	return kept, removed
}
