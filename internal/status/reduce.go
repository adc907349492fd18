// Package status computes minimal status merge patches.
//
// A JSON merge patch replaces arrays wholesale, so a patch that only names the
// Ready condition would delete every other condition on the object. Reduce
// rebuilds the conditions array so untouched entries survive.
package status

import (
	"kblocks/internal/api"
)

const conditionsKey = "conditions"

// Reduce returns the patch that moves current toward delta. Both arguments are
// status documents. Reduce does not modify its inputs.
//
//   - every key of delta other than "conditions" is copied unchanged;
//   - keys absent from delta are never cleared;
//   - conditions are keyed by type: delta entries replace same-type entries and
//     all other current entries are carried verbatim after them;
//   - without "conditions" in delta the patch has no "conditions" key.
func Reduce(current, delta map[string]interface{}) map[string]interface{} {
	patch := make(map[string]interface{}, len(delta))
	for k, v := range delta {
		if k == conditionsKey {
			continue
		}
		patch[k] = copyValue(v)
	}

	deltaConds, ok := delta[conditionsKey]
	if !ok {
		return patch
	}

	updated := conditionList(deltaConds)
	seen := make(map[string]bool, len(updated))
	merged := make([]interface{}, 0, len(updated))
	for _, c := range updated {
		t := conditionType(c)
		if seen[t] {
			// a later entry of the same type wins
			for i, prev := range merged {
				if conditionType(prev) == t {
					merged[i] = copyValue(c)
				}
			}
			continue
		}
		seen[t] = true
		merged = append(merged, copyValue(c))
	}

	for _, c := range conditionList(current[conditionsKey]) {
		if seen[conditionType(c)] {
			continue
		}
		merged = append(merged, copyValue(c))
	}

	patch[conditionsKey] = merged
	return patch
}

// WithConditions returns a status delta carrying outputs and the given
// conditions.
func WithConditions(outputs map[string]interface{}, conds ...api.Condition) map[string]interface{} {
	delta := make(map[string]interface{}, len(outputs)+1)
	for k, v := range outputs {
		if k == conditionsKey {
			continue
		}
		delta[k] = v
	}
	if len(conds) > 0 {
		list := make([]interface{}, 0, len(conds))
		for _, c := range conds {
			list = append(list, c.ToMap())
		}
		delta[conditionsKey] = list
	}
	return delta
}

func conditionList(v interface{}) []interface{} {
	list, _ := v.([]interface{})
	return list
}

func conditionType(c interface{}) string {
	m, ok := c.(map[string]interface{})
	if !ok {
		return ""
	}
	t, _ := m["type"].(string)
	return t
}

// copyValue deep-copies maps and slices of a JSON-like document. Scalars are
// returned as-is, so engine outputs holding Go ints do not need normalizing.
func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
