package api

import (
	"encoding/json"
	"time"

	"kblocks/pkg/objuri"
)

// EventType is the envelope type understood by the event sink.
type EventType string

const (
	EventObject    EventType = "OBJECT"
	EventPatch     EventType = "PATCH"
	EventLog       EventType = "LOG"
	EventLifecycle EventType = "LIFECYCLE"
	EventError     EventType = "ERROR"
)

// ObjectReason says why an OBJECT event was emitted.
type ObjectReason string

const (
	ReasonCreate ObjectReason = "CREATE"
	ReasonUpdate ObjectReason = "UPDATE"
	ReasonDelete ObjectReason = "DELETE"
	ReasonSync   ObjectReason = "SYNC"
	ReasonRead   ObjectReason = "READ"
)

// Lifecycle reasons emitted by the reconciliation pipeline.
const (
	LifecycleUpdateStarted   = "UpdateStarted"
	LifecycleUpdateSucceeded = "UpdateSucceeded"
	LifecycleUpdateFailed    = "UpdateFailed"
	LifecycleResolving       = "Resolving"
	LifecycleResolved        = "Resolved"

	LifecycleNormal  = "Normal"
	LifecycleWarning = "Warning"
)

// LogLevel values carried by LOG events.
const (
	LogLevelDebug = "DEBUG"
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARNING"
	LogLevelError = "ERROR"
)

// LifecycleDetail describes a LIFECYCLE event.
type LifecycleDetail struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Event is a single envelope posted to the event sink. Which payload fields are
// set depends on Type.
type Event struct {
	Type      EventType
	ObjURI    string
	ObjType   string
	Timestamp time.Time
	RequestID string

	// OBJECT
	Object map[string]interface{}
	Reason ObjectReason

	// PATCH
	Patch map[string]interface{}

	// LOG
	Level   string
	Message string

	// LIFECYCLE
	Lifecycle *LifecycleDetail

	// ERROR (Message is shared with LOG)
	Stack string
}

// MarshalJSON writes the envelope. OBJECT events always carry an "object"
// key, so a deleted or missing resource is sent as an empty object.
func (e Event) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"type":      e.Type,
		"objUri":    e.ObjURI,
		"objType":   e.ObjType,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.RequestID != "" {
		m["requestId"] = e.RequestID
	}

	switch e.Type {
	case EventObject:
		obj := e.Object
		if obj == nil {
			obj = map[string]interface{}{}
		}
		m["object"] = obj
		m["reason"] = e.Reason
	case EventPatch:
		m["patch"] = e.Patch
	case EventLog:
		m["level"] = e.Level
		m["message"] = e.Message
	case EventLifecycle:
		m["event"] = e.Lifecycle
	case EventError:
		m["message"] = e.Message
		if e.Stack != "" {
			m["stack"] = e.Stack
		}
	}
	return json.Marshal(m)
}

func newEvent(t EventType, id objuri.Identity, requestID string, now time.Time) Event {
	return Event{
		Type:      t,
		ObjURI:    id.String(),
		ObjType:   id.Type(),
		Timestamp: now,
		RequestID: requestID,
	}
}

// NewObjectEvent reports the current document of a resource. A nil object
// means the resource is gone.
func NewObjectEvent(id objuri.Identity, requestID string, obj map[string]interface{}, reason ObjectReason) Event {
	e := newEvent(EventObject, id, requestID, time.Now())
	e.Object = obj
	e.Reason = reason
	return e
}

// NewPatchEvent reports a status patch sent to the store.
func NewPatchEvent(id objuri.Identity, requestID string, patch map[string]interface{}) Event {
	e := newEvent(EventPatch, id, requestID, time.Now())
	e.Patch = patch
	return e
}

// NewLogEvent carries a free-text log line for a resource.
func NewLogEvent(id objuri.Identity, requestID, level, message string) Event {
	e := newEvent(EventLog, id, requestID, time.Now())
	e.Level = level
	e.Message = message
	return e
}

// NewLifecycleEvent reports a lifecycle transition.
func NewLifecycleEvent(id objuri.Identity, requestID, eventType, reason, message string) Event {
	e := newEvent(EventLifecycle, id, requestID, time.Now())
	e.Lifecycle = &LifecycleDetail{Type: eventType, Reason: reason, Message: message}
	return e
}

// NewErrorEvent reports a failure with an optional stack trace.
func NewErrorEvent(id objuri.Identity, requestID string, err error, stack string) Event {
	e := newEvent(EventError, id, requestID, time.Now())
	if err != nil {
		e.Message = err.Error()
	}
	e.Stack = stack
	return e
}
