// Package api holds the types shared by every kblocks component.
//
// It has no dependencies on other internal packages, so the partition queue,
// the synthesis pipeline, the control channel and the watch detectors can all
// exchange data through it without importing each other.
//
// # Change events
//
// A ChangeEvent is what ingress produces and what a worker consumes. Its
// WatchKind says why it exists: Added, Modified, Deleted and Sync come from
// the watch layer, Read comes from a control-channel READ command.
//
// # Outbound events
//
// Event is the message posted to the event sink. The constructors
// NewObjectEvent, NewPatchEvent, NewLogEvent, NewLifecycleEvent and
// NewErrorEvent build each variant with its type tag set.
//
// # Errors
//
// The error kinds (ReferenceTimeout, EngineError, ProtocolError,
// PartitionRouteError and friends) are matched with the Is* helpers, which
// use errors.As and therefore see through wrapping.
package api
