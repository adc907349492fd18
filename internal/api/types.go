package api

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utiljson "k8s.io/apimachinery/pkg/util/json"
)

// WatchKind describes why a change event was produced.
type WatchKind string

const (
	// WatchAdded is emitted when a resource appears.
	WatchAdded WatchKind = "Added"

	// WatchModified is emitted when a resource's stored document changes.
	WatchModified WatchKind = "Modified"

	// WatchDeleted is emitted when a resource is removed; the pipeline tears it down.
	WatchDeleted WatchKind = "Deleted"

	// WatchRead asks the pipeline for a read-only engine call.
	WatchRead WatchKind = "Read"

	// WatchSync is emitted for every object of a synchronization batch.
	WatchSync WatchKind = "Sync"
)

// ParseWatchKind accepts the watch event names used by binding contexts.
func ParseWatchKind(s string) (WatchKind, error) {
	switch WatchKind(s) {
	case WatchAdded, WatchModified, WatchDeleted, WatchRead, WatchSync:
		return WatchKind(s), nil
	case "Synchronization":
		return WatchSync, nil
	default:
		return "", &ProtocolError{Reason: fmt.Sprintf("unknown watch event %q", s)}
	}
}

// ChangeEvent is a single notification that a resource was added, modified,
// deleted, or should be read or synced. It is consumed exactly once by a
// worker and never persisted beyond the partition queue.
type ChangeEvent struct {
	WatchKind WatchKind                  `json:"watchEvent"`
	Object    *unstructured.Unstructured `json:"object"`
	RequestID string                     `json:"requestId,omitempty"`
}

// changeEventWire is the queue encoding of a ChangeEvent.
type changeEventWire struct {
	WatchKind WatchKind              `json:"watchEvent"`
	Object    map[string]interface{} `json:"object"`
	RequestID string                 `json:"requestId,omitempty"`
}

// MarshalJSON encodes the event with the object as a plain document.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	w := changeEventWire{WatchKind: e.WatchKind, RequestID: e.RequestID}
	if e.Object != nil {
		w.Object = e.Object.Object
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an event written by MarshalJSON. Whole numbers in the
// object are decoded as int64, as the apimachinery decoders do.
func (e *ChangeEvent) UnmarshalJSON(data []byte) error {
	var w struct {
		WatchKind WatchKind       `json:"watchEvent"`
		Object    json.RawMessage `json:"object"`
		RequestID string          `json:"requestId,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.WatchKind = w.WatchKind
	e.RequestID = w.RequestID
	e.Object = nil

	var obj map[string]interface{}
	if len(w.Object) > 0 {
		if err := utiljson.Unmarshal(w.Object, &obj); err != nil {
			return err
		}
	}
	if obj != nil {
		e.Object = &unstructured.Unstructured{Object: obj}
	}
	return nil
}

// Condition types and statuses written by the pipeline.
const (
	ConditionReady = "Ready"

	ConditionTrue    = "True"
	ConditionFalse   = "False"
	ConditionUnknown = "Unknown"
)

// Condition is a named health fact attached to a resource. A resource's
// status.conditions holds at most one entry per Type.
type Condition struct {
	Type               string `json:"type"`
	Status             string `json:"status"`
	LastTransitionTime string `json:"lastTransitionTime,omitempty"`
	LastProbeTime      string `json:"lastProbeTime,omitempty"`
	Reason             string `json:"reason,omitempty"`
	Message            string `json:"message,omitempty"`
}

// ToMap converts the condition into the unstructured form stored in status.
func (c Condition) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"type":   c.Type,
		"status": c.Status,
	}
	if c.LastTransitionTime != "" {
		m["lastTransitionTime"] = c.LastTransitionTime
	}
	if c.LastProbeTime != "" {
		m["lastProbeTime"] = c.LastProbeTime
	}
	if c.Reason != "" {
		m["reason"] = c.Reason
	}
	if c.Message != "" {
		m["message"] = c.Message
	}
	return m
}
