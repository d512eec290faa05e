// Package jsonutil implements comparisons and copies over parsed JSON values
// (map[string]any, []any, string, float64, bool, nil). Numeric comparisons
// are value-based so that int and float64 forms of the same number are equal,
// which matters because values flow in both from encoding/json (float64) and
// from Go literals in tests and mock configurations (int).
package jsonutil

import (
	"encoding/json"
	"fmt"
)

// NumericValue returns the float64 form of any Go numeric type.
func NumericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// DeepEqual compares two JSON values structurally.
func DeepEqual(a, b any) bool {
	if an, ok := NumericValue(a); ok {
		bn, ok := NumericValue(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			ov, exists := bv[k]
			if !exists || !DeepEqual(v, ov) {
				return false
			}
		}
		return true
	default:
		// Uncommon shapes (structs, typed slices) go through a JSON
		// round-trip comparison.
		return marshalString(a) == marshalString(b)
	}
}

// IsSubset reports whether every key in expected deep-matches the
// corresponding key in actual. The subset rule applies to objects only:
// arrays and scalars must match exactly.
func IsSubset(expected, actual any) bool {
	if em, ok := expected.(map[string]any); ok {
		am, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, ev := range em {
			av, exists := am[k]
			if !exists || !IsSubset(ev, av) {
				return false
			}
		}
		return true
	}
	if es, ok := expected.([]any); ok {
		as, ok := actual.([]any)
		if !ok || len(es) != len(as) {
			return false
		}
		for i := range es {
			if !IsSubset(es[i], as[i]) {
				return false
			}
		}
		return true
	}
	return DeepEqual(expected, actual)
}

// DeepCopy returns an independent copy of a JSON value. Mutating the copy
// never affects the original, which is what isolates Parallel branches and
// Map iterations from each other.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = DeepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepCopy(item)
		}
		return out
	case nil, bool, string, float64, int, int64:
		return val
	default:
		// Fall back to a JSON round trip for uncommon shapes.
		data, err := json.Marshal(val)
		if err != nil {
			return val
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return val
		}
		return out
	}
}

// CopyMap returns a deep copy of a string-keyed map, preserving nil as nil.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepCopy(v)
	}
	return out
}

// MarshalIndent pretty-prints a JSON value for diffs and log output.
func MarshalIndent(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func marshalString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
