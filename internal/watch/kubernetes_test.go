package watch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	toolscache "k8s.io/client-go/tools/cache"

	"kblocks/internal/api"
	"kblocks/pkg/objuri"
)

var queues = objuri.Channel{Group: "acme.com", Version: "v1", Plural: "queues", System: "test"}

func queueObject(name, resourceVersion string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "acme.com/v1",
		"kind":       "Queue",
	}}
	obj.SetNamespace("default")
	obj.SetName(name)
	obj.SetResourceVersion(resourceVersion)
	return obj
}

// runningDetector returns a detector whose handlers are live without a cluster.
func runningDetector(t *testing.T, d Dispatcher) *KubernetesDetector {
	t.Helper()
	det, err := NewKubernetesDetector(KubernetesOptions{Channel: queues, Kind: "Queue", Dispatcher: d})
	require.NoError(t, err)
	det.policy = fastPolicy()
	det.ctx, det.cancelFunc = context.WithCancel(context.Background())
	det.running = true
	t.Cleanup(func() { det.Stop() })
	return det
}

func TestNewKubernetesDetector_Validation(t *testing.T) {
	_, err := NewKubernetesDetector(KubernetesOptions{Channel: queues, Kind: "Queue"})
	assert.Error(t, err)

	_, err = NewKubernetesDetector(KubernetesOptions{Channel: queues, Dispatcher: &fakeDispatcher{}})
	assert.Error(t, err)
}

func TestKubernetesDetector_Prototype(t *testing.T) {
	det, err := NewKubernetesDetector(KubernetesOptions{Channel: queues, Kind: "Queue", Dispatcher: &fakeDispatcher{}})
	require.NoError(t, err)

	gvk := det.prototype().GroupVersionKind()
	assert.Equal(t, "acme.com", gvk.Group)
	assert.Equal(t, "v1", gvk.Version)
	assert.Equal(t, "Queue", gvk.Kind)
	assert.Equal(t, SourceKubernetes, det.Source())
}

func TestKubernetesDetector_Handlers(t *testing.T) {
	d := &fakeDispatcher{}
	h := runningDetector(t, d).handler()

	h.OnAdd(queueObject("orders", "1"), false)
	h.OnUpdate(queueObject("orders", "1"), queueObject("orders", "2"))
	h.OnUpdate(queueObject("orders", "2"), queueObject("orders", "2"))
	h.OnDelete(toolscache.DeletedFinalStateUnknown{Key: "default/orders", Obj: queueObject("orders", "2")})

	evs := d.Events()
	require.Len(t, evs, 4)
	assert.Equal(t, api.WatchAdded, evs[0].WatchKind)
	assert.Equal(t, api.WatchModified, evs[1].WatchKind)
	assert.Equal(t, api.WatchSync, evs[2].WatchKind)
	assert.Equal(t, api.WatchDeleted, evs[3].WatchKind)
	for _, ev := range evs {
		assert.Equal(t, "orders", ev.Object.GetName())
		assert.NotEmpty(t, ev.RequestID)
	}
}

func TestKubernetesDetector_RetriesRouting(t *testing.T) {
	d := &fakeDispatcher{failures: 2}
	h := runningDetector(t, d).handler()

	h.OnAdd(queueObject("orders", "1"), false)
	require.Len(t, d.Events(), 1)
}

func TestKubernetesDetector_StoppedIgnoresEvents(t *testing.T) {
	d := &fakeDispatcher{}
	det := runningDetector(t, d)
	require.NoError(t, det.Stop())

	det.handler().OnAdd(queueObject("orders", "1"), false)
	assert.Empty(t, d.Events())
}

func TestKubernetesDetector_StopWithoutStart(t *testing.T) {
	det, err := NewKubernetesDetector(KubernetesOptions{Channel: queues, Kind: "Queue", Dispatcher: &fakeDispatcher{}})
	require.NoError(t, err)
	assert.NoError(t, det.Stop())
}
