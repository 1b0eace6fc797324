// README: Tagged decode of loosely typed record fields (legacy string numbers, etc).
package store

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind tags the shape a raw field value arrived in.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindList
	KindOther
)

// Classify tags a raw value. Every Fields accessor switches on this tag so the
// fallback order for each target type is written down in exactly one place.
func Classify(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return KindNumber
	case bool:
		return KindBool
	case map[string]any:
		return KindObject
	case []any:
		return KindList
	}
	return KindOther
}

// Fields is a decoded object node.
type Fields map[string]any

func (f Fields) Has(key string) bool {
	v, ok := f[key]
	return ok && v != nil
}

// String: string as-is; number formatted without a trailing ".0"; bool as
// "true"/"false"; anything else "".
func (f Fields) String(key string) string {
	v := f[key]
	switch Classify(v) {
	case KindString:
		return v.(string)
	case KindNumber:
		n, _ := toFloat(v)
		return strconv.FormatFloat(n, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.(bool))
	}
	return ""
}

// Float: native number; numeric string (legacy records) after trimming;
// otherwise not ok.
func (f Fields) Float(key string) (float64, bool) {
	v := f[key]
	switch Classify(v) {
	case KindNumber:
		return toFloat(v)
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.(string)), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// FloatOr returns def when the field is missing or garbled.
func (f Fields) FloatOr(key string, def float64) float64 {
	if n, ok := f.Float(key); ok {
		return n
	}
	return def
}

// Int64: integer string parsed exactly; otherwise Float truncated.
func (f Fields) Int64(key string) (int64, bool) {
	if s, ok := f[key].(string); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n, true
		}
	}
	n, ok := f.Float(key)
	if !ok {
		return 0, false
	}
	return int64(n), true
}

// Bool: native bool; "true"/"false" strings (case-insensitive); numbers are
// true when non-zero.
func (f Fields) Bool(key string) (bool, bool) {
	v := f[key]
	switch Classify(v) {
	case KindBool:
		return v.(bool), true
	case KindString:
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v.(string))))
		if err != nil {
			return false, false
		}
		return b, true
	case KindNumber:
		n, _ := toFloat(v)
		return n != 0, true
	}
	return false, false
}

// Flag is Bool with false for missing or garbled values.
func (f Fields) Flag(key string) bool {
	b, _ := f.Bool(key)
	return b
}

func (f Fields) Object(key string) Fields {
	m, ok := f[key].(map[string]any)
	if !ok {
		return nil
	}
	return Fields(m)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
