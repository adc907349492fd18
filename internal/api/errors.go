package api

import (
	"errors"
	"fmt"
	"time"
)

// ReferenceTimeout reports that a referenced resource did not become ready
// before the expression's timeout elapsed.
type ReferenceTimeout struct {
	// Expression is the full ${ref://...} placeholder being resolved.
	Expression string

	// Timeout is the wait budget that elapsed.
	Timeout time.Duration
}

func (e *ReferenceTimeout) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s to become ready", e.Timeout, e.Expression)
}

// ReferenceResolutionError reports that a reference could not be looked up,
// for example because the named status field does not exist.
type ReferenceResolutionError struct {
	Expression string
	Err        error
}

func (e *ReferenceResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s: %v", e.Expression, e.Err)
}

func (e *ReferenceResolutionError) Unwrap() error { return e.Err }

// EngineError wraps a failure reported by an engine adapter, or the absence of
// an adapter for the requested engine identifier.
type EngineError struct {
	Engine string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %q: %v", e.Engine, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// DeliveryError reports that an event could not be delivered to the sink after
// all retry attempts. It is logged, never propagated into the pipeline.
type DeliveryError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("event delivery to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed control command, binding context or URI.
// It rejects only the offending message.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// PartitionRouteError reports that an event could not be appended to its
// partition queue. The ingress that produced the event must retry.
type PartitionRouteError struct {
	Partition int
	Err       error
}

func (e *PartitionRouteError) Error() string {
	return fmt.Sprintf("failed to enqueue into partition %d: %v", e.Partition, e.Err)
}

func (e *PartitionRouteError) Unwrap() error { return e.Err }

// IsReferenceTimeout checks if an error is or wraps a ReferenceTimeout.
func IsReferenceTimeout(err error) bool {
	var target *ReferenceTimeout
	return errors.As(err, &target)
}

// IsReferenceResolutionError checks if an error is or wraps a ReferenceResolutionError.
func IsReferenceResolutionError(err error) bool {
	var target *ReferenceResolutionError
	return errors.As(err, &target)
}

// IsEngineError checks if an error is or wraps an EngineError.
func IsEngineError(err error) bool {
	var target *EngineError
	return errors.As(err, &target)
}

// IsProtocolError checks if an error is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

// IsPartitionRouteError checks if an error is or wraps a PartitionRouteError.
func IsPartitionRouteError(err error) bool {
	var target *PartitionRouteError
	return errors.As(err, &target)
}
