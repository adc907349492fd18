package store

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"kblocks/pkg/logging"
	"kblocks/pkg/objuri"
)

// KubernetesStore implements Store on a controller-runtime client working with
// unstructured objects, so no Go types are needed for block CRDs.
type KubernetesStore struct {
	client client.Client
	mapper meta.RESTMapper

	// namespace restricts List; empty lists across all namespaces.
	namespace string
}

// NewKubernetesStore creates a store for the cluster behind restConfig.
func NewKubernetesStore(restConfig *rest.Config, namespace string) (*KubernetesStore, error) {
	c, err := client.New(restConfig, client.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	return NewKubernetesStoreFromClient(c, namespace), nil
}

// NewKubernetesStoreFromClient wraps an existing client.
func NewKubernetesStoreFromClient(c client.Client, namespace string) *KubernetesStore {
	return &KubernetesStore{client: c, mapper: c.RESTMapper(), namespace: namespace}
}

// mapping resolves kind and scope for a resource.
func (k *KubernetesStore) mapping(gvr schema.GroupVersionResource) (*meta.RESTMapping, error) {
	gvk, err := k.mapper.KindFor(gvr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve kind for %s: %w", gvr, err)
	}
	m, err := k.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mapping for %s: %w", gvk, err)
	}
	return m, nil
}

// emptyObject returns a typed shell addressing id.
func (k *KubernetesStore) emptyObject(id objuri.Identity) (*unstructured.Unstructured, error) {
	m, err := k.mapping(id.GroupVersionResource())
	if err != nil {
		return nil, err
	}
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(m.GroupVersionKind)
	u.SetName(id.Name)
	if m.Scope.Name() == meta.RESTScopeNameNamespace {
		u.SetNamespace(id.Namespace)
	}
	return u, nil
}

// Get implements Store.
func (k *KubernetesStore) Get(ctx context.Context, id objuri.Identity) (*unstructured.Unstructured, error) {
	u, err := k.emptyObject(id)
	if err != nil {
		return nil, err
	}
	if err := k.client.Get(ctx, client.ObjectKeyFromObject(u), u); err != nil {
		return nil, err
	}
	return u, nil
}

// Create implements Store.
func (k *KubernetesStore) Create(ctx context.Context, id objuri.Identity, obj *unstructured.Unstructured) error {
	shell, err := k.emptyObject(id)
	if err != nil {
		return err
	}
	u := obj.DeepCopy()
	u.SetGroupVersionKind(shell.GroupVersionKind())
	u.SetName(shell.GetName())
	u.SetNamespace(shell.GetNamespace())
	u.SetResourceVersion("")

	if err := k.client.Create(ctx, u); err != nil {
		return err
	}
	logging.Debug("Store", "Created %s", id)
	return nil
}

// MergePatch implements Store.
func (k *KubernetesStore) MergePatch(ctx context.Context, id objuri.Identity, patch map[string]interface{}) (*unstructured.Unstructured, error) {
	u, err := k.emptyObject(id)
	if err != nil {
		return nil, err
	}
	data, err := marshalPatch(patch)
	if err != nil {
		return nil, err
	}
	if err := k.client.Patch(ctx, u, client.RawPatch(types.MergePatchType, data)); err != nil {
		return nil, err
	}
	return u, nil
}

// PatchStatus implements Store.
func (k *KubernetesStore) PatchStatus(ctx context.Context, id objuri.Identity, patch map[string]interface{}) error {
	u, err := k.emptyObject(id)
	if err != nil {
		return err
	}
	data, err := marshalPatch(statusPatch(patch))
	if err != nil {
		return err
	}
	return k.client.Status().Patch(ctx, u, client.RawPatch(types.MergePatchType, data))
}

// Delete implements Store.
func (k *KubernetesStore) Delete(ctx context.Context, id objuri.Identity) error {
	u, err := k.emptyObject(id)
	if err != nil {
		return err
	}
	return k.client.Delete(ctx, u)
}

// List implements Store.
func (k *KubernetesStore) List(ctx context.Context, c objuri.Channel) ([]unstructured.Unstructured, error) {
	m, err := k.mapping(c.GroupVersionResource())
	if err != nil {
		return nil, err
	}

	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(m.GroupVersionKind.GroupVersion().WithKind(m.GroupVersionKind.Kind + "List"))

	var opts []client.ListOption
	if k.namespace != "" && m.Scope.Name() == meta.RESTScopeNameNamespace {
		opts = append(opts, client.InNamespace(k.namespace))
	}
	if err := k.client.List(ctx, list, opts...); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.GroupVersionResource(), err)
	}
	return list.Items, nil
}

// Lookup implements Store.
func (k *KubernetesStore) Lookup(ctx context.Context, gr schema.GroupResource, namespace, name string) (*unstructured.Unstructured, error) {
	gvk, err := k.mapper.KindFor(gr.WithVersion(""))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve kind for %s: %w", gr, err)
	}
	m, err := k.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mapping for %s: %w", gvk, err)
	}

	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(m.GroupVersionKind)
	key := client.ObjectKey{Name: name}
	if m.Scope.Name() == meta.RESTScopeNameNamespace {
		key.Namespace = namespace
	}
	if err := k.client.Get(ctx, key, u); err != nil {
		return nil, err
	}
	return u, nil
}
