package watch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kblocks/internal/api"
)

func TestParseBatch_JSON(t *testing.T) {
	data := `[
		{"watchEvent":"Added","object":{"apiVersion":"acme.com/v1","kind":"Queue","metadata":{"name":"orders","namespace":"prod"},"spec":{"replicas":3}}},
		{"type":"Event","watchEvent":"Deleted","object":{"metadata":{"name":"assets"}}}
	]`

	evs, err := ParseBatch([]byte(data))
	require.NoError(t, err)
	require.Len(t, evs, 2)

	assert.Equal(t, api.WatchAdded, evs[0].WatchKind)
	assert.Equal(t, "prod", evs[0].Object.GetNamespace())
	assert.Equal(t, "orders", evs[0].Object.GetName())
	replicas, ok := evs[0].Object.Object["spec"].(map[string]interface{})["replicas"].(int64)
	require.True(t, ok, "whole numbers decode as int64")
	assert.Equal(t, int64(3), replicas)

	assert.Equal(t, api.WatchDeleted, evs[1].WatchKind)
	assert.Equal(t, "assets", evs[1].Object.GetName())

	assert.NotEmpty(t, evs[0].RequestID)
	assert.NotEqual(t, evs[0].RequestID, evs[1].RequestID)
}

func TestParseBatch_YAML(t *testing.T) {
	data := `
- watchEvent: Modified
  object:
    apiVersion: acme.com/v1
    kind: Queue
    metadata:
      name: orders
    spec:
      fifo: true
`
	evs, err := ParseBatch([]byte(data))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, api.WatchModified, evs[0].WatchKind)
	assert.Equal(t, true, evs[0].Object.Object["spec"].(map[string]interface{})["fifo"])
}

func TestParseBatch_SynchronizationExpands(t *testing.T) {
	data := `[{
		"type": "Synchronization",
		"objects": [
			{"object": {"metadata": {"name": "a"}}},
			{"object": {"metadata": {"name": "b", "namespace": "prod"}}}
		]
	}]`

	evs, err := ParseBatch([]byte(data))
	require.NoError(t, err)
	require.Len(t, evs, 2)
	for _, ev := range evs {
		assert.Equal(t, api.WatchSync, ev.WatchKind)
	}
	assert.Equal(t, "a", evs[0].Object.GetName())
	assert.Equal(t, "b", evs[1].Object.GetName())
}

func TestParseBatch_EmptySynchronization(t *testing.T) {
	evs, err := ParseBatch([]byte(`[{"type":"Synchronization","objects":[]}]`))
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestParseBatch_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not an array", `{"watchEvent":"Added"}`},
		{"malformed", `[{"watchEvent":`},
		{"unknown watch event", `[{"watchEvent":"Exploded","object":{"metadata":{"name":"a"}}}]`},
		{"missing object", `[{"watchEvent":"Added"}]`},
		{"missing name", `[{"watchEvent":"Added","object":{"spec":{}}}]`},
		{"unsupported type", `[{"type":"Schedule"}]`},
		{"sync object without name", `[{"type":"Synchronization","objects":[{"object":{"spec":{}}}]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBatch([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, api.IsProtocolError(err), "got %v", err)
		})
	}
}

func TestIngest(t *testing.T) {
	d := &fakeDispatcher{}
	n, err := Ingest(context.Background(), d, []byte(`[
		{"watchEvent":"Added","object":{"metadata":{"name":"a"}}},
		{"watchEvent":"Modified","object":{"metadata":{"name":"b"}}}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	evs := d.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, "a", evs[0].Object.GetName())
	assert.Equal(t, "b", evs[1].Object.GetName())
}

func TestIngest_RoutingFailureIsReturned(t *testing.T) {
	d := &fakeDispatcher{failures: 1}
	n, err := Ingest(context.Background(), d, []byte(`[{"watchEvent":"Added","object":{"metadata":{"name":"a"}}}]`))
	require.Error(t, err)
	assert.True(t, api.IsPartitionRouteError(err))
	assert.Equal(t, 0, n)
	assert.Empty(t, d.Events())
}
