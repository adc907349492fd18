package config

import "time"

const (
	DefaultWorkers      = 4
	DefaultPollInterval = time.Second
	DefaultLeaseTTL     = 30 * time.Second
	DefaultDebounce     = 200 * time.Millisecond
)

// GetDefaultConfig returns the configuration used when no file is present.
func GetDefaultConfig() Config {
	return Config{
		Block: BlockConfig{
			Engine:  "noop",
			Workers: DefaultWorkers,
		},
		Watch: WatchConfig{
			Source:   WatchSourceKubernetes,
			Debounce: DefaultDebounce,
		},
		Queue: QueueConfig{
			PollInterval: DefaultPollInterval,
			LeaseTTL:     DefaultLeaseTTL,
		},
		Events: EventsConfig{
			Attempts:     5,
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   1.5,

			KubernetesEvents: true,
		},
		Control: ControlConfig{
			DialTimeout:  4 * time.Second,
			PingInterval: 30 * time.Second,
			MaxBackoff:   30 * time.Second,
		},
		References: ReferencesConfig{
			DefaultTimeout: 5 * time.Minute,
			PollInterval:   2 * time.Second,
		},
	}
}
