package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"kblocks/internal/api"
	"kblocks/pkg/logging"
	"kblocks/pkg/objuri"
)

// DefaultRecordTimeout bounds a single object event write.
const DefaultRecordTimeout = 10 * time.Second

// ObjectEventRecorder writes an event onto the resource it is about.
type ObjectEventRecorder interface {
	RecordEvent(ctx context.Context, id objuri.Identity, eventType, reason, message string) error
}

// LifecycleMirror passes every event to the next emitter and also records
// LIFECYCLE events on the resource itself. Recording is asynchronous and its
// failures are logged only.
type LifecycleMirror struct {
	next     Emitter
	recorder ObjectEventRecorder
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewLifecycleMirror wraps next.
func NewLifecycleMirror(next Emitter, recorder ObjectEventRecorder) *LifecycleMirror {
	return &LifecycleMirror{next: next, recorder: recorder, timeout: DefaultRecordTimeout}
}

// Emit implements Emitter.
func (m *LifecycleMirror) Emit(e api.Event) {
	m.next.Emit(e)
	if e.Type != api.EventLifecycle || e.Lifecycle == nil {
		return
	}

	id, err := objuri.Parse(e.ObjURI)
	if err != nil {
		logging.Warn("Events", "Not recording %s on %s: %v", e.Lifecycle.Reason, e.ObjURI, err)
		return
	}
	detail := *e.Lifecycle

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		err := m.recorder.RecordEvent(ctx, id, detail.Type, detail.Reason, detail.Message)
		switch {
		case err == nil:
		case apierrors.IsNotFound(err):
			logging.Debug("Events", "%s is gone, %s not recorded", id, detail.Reason)
		default:
			logging.Warn("Events", "Failed to record %s on %s: %v", detail.Reason, id, err)
		}
	}()
}

// Close waits for pending recordings, then closes the next emitter.
func (m *LifecycleMirror) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for object events: %w", ctx.Err())
	}
	return m.next.Close(ctx)
}
