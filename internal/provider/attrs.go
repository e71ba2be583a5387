package provider

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Dig walks nested objects by key and returns nil when any step is missing.
func Dig(v any, keys ...string) any {
	cur := v
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}

// String renders a scalar as trimmed text. Objects, arrays and nil give "".
func String(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "1"
		}
		return ""
	default:
		return ""
	}
}

// FirstString returns the first non-empty scalar among the given key paths.
func FirstString(item Item, paths ...[]string) string {
	for _, p := range paths {
		if s := String(Dig(item, p...)); s != "" {
			return s
		}
	}
	return ""
}

// Float reads a numeric scalar.
func Float(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// Object returns v as an object or nil.
func Object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// List returns v as an array or nil.
func List(v any) []any {
	l, _ := v.([]any)
	return l
}
