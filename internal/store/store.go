// Package store is the narrow view of the cluster API used by the runtime:
// get, create, merge-patch, status patch, delete and list of block objects,
// plus lookup of referenced objects by their kubectl-style resource name.
//
// Missing objects are reported with k8s.io/apimachinery NotFound errors, so
// callers use apierrors.IsNotFound for every implementation.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"kblocks/pkg/objuri"
)

// Store is the resource store the pipeline and control channel write through.
type Store interface {
	// Get returns the object addressed by id.
	Get(ctx context.Context, id objuri.Identity) (*unstructured.Unstructured, error)

	// Create stores a new object at id.
	Create(ctx context.Context, id objuri.Identity, obj *unstructured.Unstructured) error

	// MergePatch applies an RFC 7386 merge patch to the object's main resource.
	MergePatch(ctx context.Context, id objuri.Identity, patch map[string]interface{}) (*unstructured.Unstructured, error)

	// PatchStatus merge-patches the status subresource with {"status": patch}.
	PatchStatus(ctx context.Context, id objuri.Identity, patch map[string]interface{}) error

	// Delete removes the object.
	Delete(ctx context.Context, id objuri.Identity) error

	// List returns every object of the channel's resource type.
	List(ctx context.Context, c objuri.Channel) ([]unstructured.Unstructured, error)

	// Lookup fetches a referenced object by group resource (e.g. queues.acme.com)
	// using the preferred served version.
	Lookup(ctx context.Context, gr schema.GroupResource, namespace, name string) (*unstructured.Unstructured, error)
}

// marshalPatch encodes a merge patch document.
func marshalPatch(patch map[string]interface{}) ([]byte, error) {
	data, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merge patch: %w", err)
	}
	return data, nil
}

// statusPatch wraps a status delta into an object-level merge patch.
func statusPatch(patch map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"status": patch}
}
