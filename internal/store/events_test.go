package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	kstrings "kblocks/pkg/strings"
)

var queueGVK = schema.GroupVersionKind{Group: "acme.com", Version: "v1", Kind: "Queue"}

func fakeKubernetesStore(t *testing.T, objs ...client.Object) (*KubernetesStore, client.Client) {
	t.Helper()

	scheme := runtime.NewScheme()
	require.NoError(t, corev1.AddToScheme(scheme))
	scheme.AddKnownTypeWithName(queueGVK, &unstructured.Unstructured{})
	scheme.AddKnownTypeWithName(queueGVK.GroupVersion().WithKind("QueueList"), &unstructured.UnstructuredList{})

	mapper := meta.NewDefaultRESTMapper(nil)
	mapper.Add(queueGVK, meta.RESTScopeNamespace)
	mapper.Add(corev1.SchemeGroupVersion.WithKind("Event"), meta.RESTScopeNamespace)

	c := fake.NewClientBuilder().WithScheme(scheme).WithRESTMapper(mapper).WithObjects(objs...).Build()
	return NewKubernetesStoreFromClient(c, ""), c
}

func TestKubernetesStore_RecordEvent(t *testing.T) {
	ctx := context.Background()
	s, c := fakeKubernetesStore(t, queue("orders"))
	id := channel.Identity("default", "orders")

	long := strings.Repeat("x", kstrings.MaxConditionMessageLen+100)
	require.NoError(t, s.RecordEvent(ctx, id, corev1.EventTypeWarning, "UpdateFailed", long))

	var list corev1.EventList
	require.NoError(t, c.List(ctx, &list, client.InNamespace("default")))
	require.Len(t, list.Items, 1)

	e := list.Items[0]
	assert.Equal(t, "Queue", e.InvolvedObject.Kind)
	assert.Equal(t, "acme.com/v1", e.InvolvedObject.APIVersion)
	assert.Equal(t, "orders", e.InvolvedObject.Name)
	assert.Equal(t, "default", e.InvolvedObject.Namespace)
	assert.Equal(t, corev1.EventTypeWarning, e.Type)
	assert.Equal(t, "UpdateFailed", e.Reason)
	assert.Equal(t, EventSource, e.Source.Component)
	assert.Equal(t, int32(1), e.Count)
	assert.LessOrEqual(t, len(e.Message), kstrings.MaxConditionMessageLen)
}

func TestKubernetesStore_RecordEventForMissingObject(t *testing.T) {
	ctx := context.Background()
	s, c := fakeKubernetesStore(t)

	err := s.RecordEvent(ctx, channel.Identity("default", "gone"), corev1.EventTypeNormal, "Resolved", "ok")
	assert.True(t, apierrors.IsNotFound(err))

	var list corev1.EventList
	require.NoError(t, c.List(ctx, &list))
	assert.Empty(t, list.Items)
}

func TestMemoryStore_RecordEvent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := channel.Identity("default", "orders")

	assert.True(t, apierrors.IsNotFound(s.RecordEvent(ctx, id, "Normal", "Resolved", "ok")))

	require.NoError(t, s.Create(ctx, id, queue("orders")))
	require.NoError(t, s.RecordEvent(ctx, id, "Normal", "Resolved", "ok"))

	assert.Equal(t, []RecordedEvent{{ID: id, Type: "Normal", Reason: "Resolved", Message: "ok"}}, s.Events())
	assert.Len(t, s.Calls(), 1)
}
