// Package events delivers runtime events to the external event sink.
//
// Every event is an api.Event envelope POSTed as JSON. Delivery runs in the
// background: Emit never blocks on the network and never fails the caller.
// Each delivery is retried under retry.DeliveryPolicy; when the attempts are
// exhausted the event is dropped and an api.DeliveryError is logged.
//
// When no sink URL is configured, LogEmitter writes events to the process log
// instead. Recorder keeps events in memory for tests.
package events
