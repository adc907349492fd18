package watch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utiljson "k8s.io/apimachinery/pkg/util/json"
	"sigs.k8s.io/yaml"

	"kblocks/internal/api"
)

// Binding context types.
const (
	TypeEvent           = "Event"
	TypeSynchronization = "Synchronization"
)

// Binding is one record of a watch batch.
type Binding struct {
	Type       string                 `json:"type,omitempty"`
	WatchEvent string                 `json:"watchEvent,omitempty"`
	Object     map[string]interface{} `json:"object,omitempty"`
	Objects    []BindingObject        `json:"objects,omitempty"`
}

// BindingObject is an entry of a Synchronization binding.
type BindingObject struct {
	Object map[string]interface{} `json:"object"`
}

// ParseBatch decodes a JSON or YAML array of binding contexts into change
// events. Every event gets a fresh request id.
func ParseBatch(data []byte) ([]api.ChangeEvent, error) {
	raw, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, &api.ProtocolError{Reason: "malformed binding batch", Err: err}
	}

	var bindings []Binding
	if err := utiljson.Unmarshal(raw, &bindings); err != nil {
		return nil, &api.ProtocolError{Reason: "binding batch is not an array of binding contexts", Err: err}
	}

	var out []api.ChangeEvent
	for i, b := range bindings {
		evs, err := b.changeEvents()
		if err != nil {
			return nil, fmt.Errorf("binding %d: %w", i, err)
		}
		out = append(out, evs...)
	}
	return out, nil
}

func (b Binding) changeEvents() ([]api.ChangeEvent, error) {
	if b.Type == TypeSynchronization {
		out := make([]api.ChangeEvent, 0, len(b.Objects))
		for _, o := range b.Objects {
			obj, err := toObject(o.Object)
			if err != nil {
				return nil, err
			}
			out = append(out, api.ChangeEvent{WatchKind: api.WatchSync, Object: obj, RequestID: uuid.NewString()})
		}
		return out, nil
	}

	if b.Type != "" && b.Type != TypeEvent {
		return nil, &api.ProtocolError{Reason: fmt.Sprintf("unsupported binding type %q", b.Type)}
	}
	kind, err := api.ParseWatchKind(b.WatchEvent)
	if err != nil {
		return nil, err
	}
	obj, err := toObject(b.Object)
	if err != nil {
		return nil, err
	}
	return []api.ChangeEvent{{WatchKind: kind, Object: obj, RequestID: uuid.NewString()}}, nil
}

func toObject(m map[string]interface{}) (*unstructured.Unstructured, error) {
	if len(m) == 0 {
		return nil, &api.ProtocolError{Reason: "binding has no object"}
	}
	obj := &unstructured.Unstructured{Object: m}
	if obj.GetName() == "" {
		return nil, &api.ProtocolError{Reason: "binding object has no metadata.name"}
	}
	return obj, nil
}

// Ingest parses a batch and dispatches every event in order. It stops at the
// first routing failure and reports how many events were accepted; the
// caller owns the retry.
func Ingest(ctx context.Context, d Dispatcher, data []byte) (int, error) {
	evs, err := ParseBatch(data)
	if err != nil {
		return 0, err
	}
	for i, ev := range evs {
		if _, err := d.Dispatch(ctx, ev); err != nil {
			return i, err
		}
	}
	return len(evs), nil
}
