// Package app wires the kblocks runtime together.
//
// InitializeServices builds the components a command needs from the loaded
// configuration: the partition queue and router for every mode, the resource
// store and event emitter for the control channel, and the engine registry,
// reference resolver, notifier and reconciliation pipeline for workers.
// Nothing is global; Services.Close releases what was opened.
//
// The Run* functions implement the long-running modes:
//
//   - RunWorker drains partitions, optionally serving /metrics and hosting the
//     control channel and watch source in the same process
//   - RunControl keeps the control-plane channel connected
//   - RunWatch feeds change notifications into the router
package app
