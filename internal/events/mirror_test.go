package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"kblocks/internal/api"
	"kblocks/pkg/objuri"
)

type objectEvent struct {
	id                      objuri.Identity
	eventType, reason, text string
}

type fakeObjectRecorder struct {
	mu      sync.Mutex
	events  []objectEvent
	err     error
	release chan struct{}
}

func (f *fakeObjectRecorder) RecordEvent(ctx context.Context, id objuri.Identity, eventType, reason, message string) error {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, objectEvent{id: id, eventType: eventType, reason: reason, text: message})
	return f.err
}

func (f *fakeObjectRecorder) recorded() []objectEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]objectEvent(nil), f.events...)
}

func TestLifecycleMirror_RecordsLifecycleEventsOnTheObject(t *testing.T) {
	next := &Recorder{}
	rec := &fakeObjectRecorder{}
	m := NewLifecycleMirror(next, rec)

	m.Emit(api.NewLifecycleEvent(testID, "req-1", "Normal", "Resolving", "Resolving references"))
	m.Emit(api.NewLogEvent(testID, "req-1", api.LogLevelInfo, "planning"))
	m.Emit(api.NewLifecycleEvent(testID, "req-1", "Warning", "Error", "quota exceeded"))
	require.NoError(t, m.Close(context.Background()))

	assert.Len(t, next.Events(), 3)

	got := rec.recorded()
	require.Len(t, got, 2)
	reasons := map[string]objectEvent{}
	for _, e := range got {
		assert.Equal(t, testID, e.id)
		reasons[e.reason] = e
	}
	assert.Equal(t, "Normal", reasons["Resolving"].eventType)
	assert.Equal(t, "Warning", reasons["Error"].eventType)
	assert.Equal(t, "quota exceeded", reasons["Error"].text)
}

func TestLifecycleMirror_RecorderFailuresDoNotReachTheStream(t *testing.T) {
	next := &Recorder{}
	gone := apierrors.NewNotFound(schema.GroupResource{Group: "acme.com", Resource: "queues"}, "orders")

	for name, err := range map[string]error{"missing object": gone, "api failure": errors.New("connection refused")} {
		t.Run(name, func(t *testing.T) {
			m := NewLifecycleMirror(next, &fakeObjectRecorder{err: err})
			m.Emit(api.NewLifecycleEvent(testID, "req-1", "Normal", "Created", "done"))
			require.NoError(t, m.Close(context.Background()))
		})
	}
	assert.Len(t, next.OfType(api.EventLifecycle), 2)
	assert.Empty(t, next.OfType(api.EventError))
}

func TestLifecycleMirror_SkipsUnparseableURIs(t *testing.T) {
	next := &Recorder{}
	rec := &fakeObjectRecorder{}
	m := NewLifecycleMirror(next, rec)

	e := api.NewLifecycleEvent(testID, "req-1", "Normal", "Created", "done")
	e.ObjURI = "kblocks://acme.com/v1/queues"
	m.Emit(e)
	require.NoError(t, m.Close(context.Background()))

	assert.Len(t, next.Events(), 1)
	assert.Empty(t, rec.recorded())
}

func TestLifecycleMirror_CloseHonorsContext(t *testing.T) {
	rec := &fakeObjectRecorder{release: make(chan struct{})}
	m := NewLifecycleMirror(&Recorder{}, rec)
	m.Emit(api.NewLifecycleEvent(testID, "req-1", "Normal", "Created", "done"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(rec.release)
	require.NoError(t, m.Close(context.Background()))
	assert.Len(t, rec.recorded(), 1)
}
