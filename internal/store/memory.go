package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"kblocks/pkg/objuri"
)

// Operation names recorded by MemoryStore.
const (
	OpCreate      = "create"
	OpMergePatch  = "mergePatch"
	OpPatchStatus = "patchStatus"
	OpDelete      = "delete"
)

// Call is one recorded mutation on a MemoryStore.
type Call struct {
	Op    string
	ID    objuri.Identity
	Patch map[string]interface{}
}

// MemoryStore is an in-process Store. It backs local runs without a cluster
// and the package tests of every consumer.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[memoryKey]*unstructured.Unstructured
	calls   []Call
	events  []RecordedEvent
}

type memoryKey struct {
	group     string
	resource  string
	namespace string
	name      string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[memoryKey]*unstructured.Unstructured)}
}

func keyFor(id objuri.Identity) memoryKey {
	return memoryKey{group: id.Group, resource: id.Plural, namespace: id.Namespace, name: id.Name}
}

func notFound(id objuri.Identity) error {
	return apierrors.NewNotFound(schema.GroupResource{Group: id.Group, Resource: id.Plural}, id.Name)
}

// Put stores obj at id without recording a call. Tests use it to seed state.
func (m *MemoryStore) Put(id objuri.Identity, obj *unstructured.Unstructured) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[keyFor(id)] = obj.DeepCopy()
}

// Calls returns the recorded mutations in order.
func (m *MemoryStore) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Call(nil), m.calls...)
}

func (m *MemoryStore) record(op string, id objuri.Identity, patch map[string]interface{}) {
	m.calls = append(m.calls, Call{Op: op, ID: id, Patch: patch})
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id objuri.Identity) (*unstructured.Unstructured, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[keyFor(id)]
	if !ok {
		return nil, notFound(id)
	}
	return obj.DeepCopy(), nil
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, id objuri.Identity, obj *unstructured.Unstructured) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(id)
	if _, exists := m.objects[k]; exists {
		return apierrors.NewAlreadyExists(schema.GroupResource{Group: id.Group, Resource: id.Plural}, id.Name)
	}
	cp := obj.DeepCopy()
	cp.SetName(id.Name)
	cp.SetNamespace(id.Namespace)
	m.objects[k] = cp
	m.record(OpCreate, id, nil)
	return nil
}

// MergePatch implements Store.
func (m *MemoryStore) MergePatch(_ context.Context, id objuri.Identity, patch map[string]interface{}) (*unstructured.Unstructured, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, err := m.applyLocked(id, patch)
	if err != nil {
		return nil, err
	}
	m.record(OpMergePatch, id, patch)
	return obj.DeepCopy(), nil
}

// PatchStatus implements Store.
func (m *MemoryStore) PatchStatus(_ context.Context, id objuri.Identity, patch map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.applyLocked(id, statusPatch(patch)); err != nil {
		return err
	}
	m.record(OpPatchStatus, id, patch)
	return nil
}

func (m *MemoryStore) applyLocked(id objuri.Identity, patch map[string]interface{}) (*unstructured.Unstructured, error) {
	k := keyFor(id)
	obj, ok := m.objects[k]
	if !ok {
		return nil, notFound(id)
	}

	doc, err := json.Marshal(obj.Object)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", id, err)
	}
	p, err := marshalPatch(patch)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(doc, p)
	if err != nil {
		return nil, fmt.Errorf("failed to apply merge patch to %s: %w", id, err)
	}

	var patched map[string]interface{}
	if err := json.Unmarshal(merged, &patched); err != nil {
		return nil, fmt.Errorf("failed to decode patched %s: %w", id, err)
	}
	out := &unstructured.Unstructured{Object: patched}
	m.objects[k] = out
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id objuri.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(id)
	if _, ok := m.objects[k]; !ok {
		return notFound(id)
	}
	delete(m.objects, k)
	m.record(OpDelete, id, nil)
	return nil
}

// List implements Store. Objects are returned sorted by namespace and name.
func (m *MemoryStore) List(_ context.Context, c objuri.Channel) ([]unstructured.Unstructured, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []unstructured.Unstructured
	for k, obj := range m.objects {
		if k.group == c.Group && k.resource == c.Plural {
			out = append(out, *obj.DeepCopy())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GetNamespace() != out[j].GetNamespace() {
			return out[i].GetNamespace() < out[j].GetNamespace()
		}
		return out[i].GetName() < out[j].GetName()
	})
	return out, nil
}

// Lookup implements Store.
func (m *MemoryStore) Lookup(_ context.Context, gr schema.GroupResource, namespace, name string) (*unstructured.Unstructured, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[memoryKey{group: gr.Group, resource: gr.Resource, namespace: namespace, name: name}]
	if !ok {
		return nil, apierrors.NewNotFound(gr, name)
	}
	return obj.DeepCopy(), nil
}
