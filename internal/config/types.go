package config

import (
	"time"

	"kblocks/pkg/objuri"
)

// Config is the top-level configuration of a kblocks runtime.
type Config struct {
	Block         BlockConfig             `yaml:"block"`
	Watch         WatchConfig             `yaml:"watch"`
	Queue         QueueConfig             `yaml:"queue"`
	Events        EventsConfig            `yaml:"events"`
	Control       ControlConfig           `yaml:"control"`
	References    ReferencesConfig        `yaml:"references"`
	Notifications NotificationsConfig     `yaml:"notifications"`
	Metrics       MetricsConfig           `yaml:"metrics"`
	Tracing       TracingConfig           `yaml:"tracing"`
	Engines       map[string]EngineConfig `yaml:"engines,omitempty"`
}

// BlockConfig describes the custom resource served by this runtime.
type BlockConfig struct {
	Group   string `yaml:"group"`
	Version string `yaml:"version"`
	Plural  string `yaml:"plural"`
	Kind    string `yaml:"kind"`

	// Engine selects the adapter, e.g. "helm", "wing/k8s" or "custom".
	Engine string `yaml:"engine"`

	// System identifies the installation in object URIs.
	System string `yaml:"system"`

	// Namespace restricts the watch and is the default for namespace-less
	// objects. Empty means all namespaces.
	Namespace string `yaml:"namespace,omitempty"`

	// Workers is the number of partitions.
	Workers int `yaml:"workers"`
}

// Channel returns the control channel tuple of the block.
func (b BlockConfig) Channel() objuri.Channel {
	return objuri.Channel{Group: b.Group, Version: b.Version, Plural: b.Plural, System: b.System}
}

// Watch sources.
const (
	WatchSourceKubernetes = "kubernetes"
	WatchSourceFilesystem = "filesystem"
)

// WatchConfig selects where change notifications come from.
type WatchConfig struct {
	Source string `yaml:"source"`

	// Inbox is the directory polled for binding-context files.
	Inbox    string        `yaml:"inbox,omitempty"`
	Debounce time.Duration `yaml:"debounce,omitempty"`

	// ResyncPeriod replays every object as a Sync event.
	ResyncPeriod time.Duration `yaml:"resyncPeriod,omitempty"`
}

// QueueConfig configures the partition queue.
type QueueConfig struct {
	// Path of the SQLite database. Empty keeps the queue in memory, which
	// only works when ingress and workers share a process.
	Path         string        `yaml:"path,omitempty"`
	PollInterval time.Duration `yaml:"pollInterval"`
	LeaseTTL     time.Duration `yaml:"leaseTTL"`
}

// EventsConfig configures event delivery.
type EventsConfig struct {
	// URL of the event sink. Empty logs events instead.
	URL          string        `yaml:"url,omitempty"`
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	Multiplier   float64       `yaml:"multiplier"`

	// KubernetesEvents mirrors lifecycle events onto the block object as
	// core/v1 Events.
	KubernetesEvents bool `yaml:"kubernetesEvents"`
}

// ControlConfig configures the control-plane channel.
type ControlConfig struct {
	// URL of the control plane. Empty disables the channel.
	URL          string        `yaml:"url,omitempty"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	PingInterval time.Duration `yaml:"pingInterval"`
	MaxBackoff   time.Duration `yaml:"maxBackoff"`
}

// ReferencesConfig configures reference resolution.
type ReferencesConfig struct {
	DefaultTimeout time.Duration `yaml:"defaultTimeout"`
	PollInterval   time.Duration `yaml:"pollInterval"`
}

// NotificationsConfig configures the optional webhook notifier.
type NotificationsConfig struct {
	WebhookURL string `yaml:"webhookURL,omitempty"`

	// Template overrides the default message template.
	Template string `yaml:"template,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Address to serve /metrics on. Empty disables the endpoint.
	Address string `yaml:"address,omitempty"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// EngineConfig registers an executable as the adapter for an engine key.
type EngineConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	Dir     string   `yaml:"dir,omitempty"`
}
