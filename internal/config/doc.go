// Package config loads the kblocks runtime configuration.
//
// Configuration lives in a single directory, ~/.config/kblocks by default or
// the directory given with --config-path, and is read from its config.yaml.
// A missing file yields the defaults; a malformed file is an error.
//
// # Sections
//
//   - block: the resource type this runtime serves and its engine
//   - watch: where change notifications come from
//   - queue: the partition queue and worker leases
//   - events: the event sink
//   - control: the control-plane channel
//   - references: reference resolution timeouts
//   - notifications: the optional webhook
//   - metrics and tracing
//   - engines: command adapters keyed by engine identifier
//
// # Environment
//
// KBLOCKS_SYSTEM_ID, KBLOCKS_EVENTS_URL and KBLOCKS_CONTROL_URL override
// block.system, events.url and control.url after the file is read.
//
// Example:
//
//	block:
//	  group: acme.com
//	  version: v1
//	  plural: queues
//	  kind: Queue
//	  engine: custom
//	  system: prod
//	  workers: 4
//	engines:
//	  custom:
//	    command: /opt/engines/queue
//	    args: ["--region", "eu-west-1"]
package config
