package engine

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// NoopAdapter provisions nothing and reports no outputs.
type NoopAdapter struct{}

// Apply implements Adapter.
func (NoopAdapter) Apply(context.Context, *unstructured.Unstructured, bool) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

// Read implements Reader.
func (NoopAdapter) Read(context.Context, *unstructured.Unstructured) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}
