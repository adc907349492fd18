// Package watch turns external change notifications into change events and
// hands them to the partition router.
//
// Notifications arrive as batches of binding contexts, either piped to the
// ingest command, dropped as files into an inbox directory watched by the
// FilesystemDetector, or produced directly from a cluster informer by the
// KubernetesDetector. A binding context of type Synchronization expands into
// one Sync event per listed object.
package watch
