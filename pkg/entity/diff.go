package entity

import "sort"

// Diff compares two consecutive snapshots of the same entity and returns
// whether the state string changed and the sorted set of attribute keys
// whose values differ by deep value equality. The key set is the union of
// both snapshots' attribute keys, so added and removed attributes count as
// changed.
func Diff(previous, current Entity) (stateChanged bool, changedAttrs []string) {
	stateChanged = previous.State != current.State

	seen := make(map[string]struct{}, len(previous.Attributes)+len(current.Attributes))

	for k := range previous.Attributes {
		seen[k] = struct{}{}
	}
	for k := range current.Attributes {
		seen[k] = struct{}{}
	}

	for k := range seen {
		pv, pok := previous.Attributes[k]
		cv, cok := current.Attributes[k]

		if pok != cok || !ValueEqual(pv, cv) {
			changedAttrs = append(changedAttrs, k)
		}
	}

	sort.Strings(changedAttrs)

	return stateChanged, changedAttrs
}

// ValueEqual reports deep value equality between two attribute values as
// JSON decoding produces them. Numbers are compared by numeric value so that
// an int written by a test compares equal to the float64 the decoder yields.
func ValueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, ok := bv[k]
			if !ok || !ValueEqual(v, bval) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, v := range av {
			if !ValueEqual(v, bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func asFloat(v any) (float64, bool) {
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
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
