package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Metadata is an open key/value map attached to entities and edges. Values
// that have been through JSON come back as float64 and []any, so the typed
// accessors accept both native and decoded shapes.
type Metadata map[string]any

// Clone returns a shallow copy that is safe to add keys to.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns the value at key as a string, or "".
func (m Metadata) String(key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the value at key as an int, or 0.
func (m Metadata) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// Strings returns the value at key as a string slice.
func (m Metadata) Strings(key string) []string {
	switch v := m[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// AppendUnique adds s to the string set at key if it is not already present.
// Returns true if the set changed.
func (m Metadata) AppendUnique(key, s string) bool {
	existing := m.Strings(key)
	for _, e := range existing {
		if e == s {
			m[key] = existing
			return false
		}
	}
	m[key] = append(existing, s)
	return true
}

// Merge copies every key of other into m, overwriting.
func (m Metadata) Merge(other Metadata) {
	for k, v := range other {
		m[k] = v
	}
}
