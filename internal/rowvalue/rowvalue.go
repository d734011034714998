// Package rowvalue holds the raw-payload representation for staging rows.
//
// Spreadsheet rows are staged exactly as parsed, so the type has to keep the
// original column order (a plain map would not) and every value has to be
// representable in JSON: missing cells become null, times become ISO-8601
// strings, decimals become plain numbers, nested containers are scrubbed
// recursively.
package rowvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Cell is one key/value pair of a raw row.
type Cell struct {
	Key   string
	Value any
}

// Row is a raw spreadsheet row in original column order.
type Row []Cell

// Get returns the value for key, or (nil, false) when absent.
func (r Row) Get(key string) (any, bool) {
	for _, c := range r {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the row as a JSON object preserving cell order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(Clean(c.Value))
		if err != nil {
			return nil, fmt.Errorf("marshal cell %q: %w", c.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Clean converts v into a JSON-safe value. NaN and infinities become nil,
// times become RFC 3339 strings, decimals become float64, containers are
// cleaned recursively, and anything unrecognized is stringified rather than
// dropped.
func Clean(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string, bool, int, int32, int64:
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case float32:
		return Clean(float64(t))
	case *float64:
		if t == nil {
			return nil
		}
		return Clean(*t)
	case time.Time:
		return t.Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.Format(time.RFC3339)
	case decimal.Decimal:
		f, _ := t.Float64()
		return f
	case Row:
		out := make(map[string]any, len(t))
		for _, c := range t {
			out[c.Key] = Clean(c.Value)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clean(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clean(val)
		}
		return out
	default:
		return fmt.Sprint(t)
	}
}
