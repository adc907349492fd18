package events

import (
	"context"
	"encoding/json"
	"sync"

	"kblocks/internal/api"
	"kblocks/pkg/logging"
)

// LogEmitter writes events to the process log. It is used when no event sink
// is configured.
type LogEmitter struct{}

// Emit implements Emitter.
func (LogEmitter) Emit(e api.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logging.Error("Events", err, "Failed to encode %s event for %s", e.Type, e.ObjURI)
		return
	}
	logging.Debug("Events", "%s", data)
}

// Close implements Emitter.
func (LogEmitter) Close(context.Context) error { return nil }

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []api.Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(e api.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Close implements Emitter.
func (r *Recorder) Close(context.Context) error { return nil }

// Events returns a copy of the recorded events in emission order.
func (r *Recorder) Events() []api.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t api.EventType) []api.Event {
	var out []api.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
