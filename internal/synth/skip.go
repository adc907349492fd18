package synth

import (
	"encoding/json"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const statusSubresource = "status"

// statusOnlyWrite reports whether the most recent managed-fields entry of obj
// touched nothing but status. Such writes come from status patches, ours
// included, and must not trigger another pass.
func statusOnlyWrite(obj *unstructured.Unstructured) bool {
	entries := obj.GetManagedFields()
	if len(entries) == 0 {
		return false
	}

	latest := entries[len(entries)-1]
	for _, e := range entries {
		if e.Time != nil && (latest.Time == nil || e.Time.After(latest.Time.Time)) {
			latest = e
		}
	}

	if latest.Subresource == statusSubresource {
		return true
	}
	return onlyStatusFields(latest)
}

// onlyStatusFields checks a FieldsV1 set for a single top-level f:status key.
func onlyStatusFields(e metav1.ManagedFieldsEntry) bool {
	if e.FieldsV1 == nil || len(e.FieldsV1.Raw) == 0 {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.FieldsV1.Raw, &fields); err != nil {
		return false
	}
	seen := false
	for k := range fields {
		switch k {
		case "f:status":
			seen = true
		case ".":
		default:
			return false
		}
	}
	return seen
}
