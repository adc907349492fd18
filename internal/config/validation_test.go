package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := GetDefaultConfig()
	cfg.Block = BlockConfig{
		Group:   "acme.com",
		Version: "v1",
		Plural:  "queues",
		Kind:    "Queue",
		Engine:  "noop",
		System:  "test",
		Workers: 2,
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Config)
		wantFields []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:       "empty block",
			mutate:     func(c *Config) { c.Block = BlockConfig{Workers: 1} },
			wantFields: []string{"block.group", "block.version", "block.plural", "block.kind", "block.system", "block.engine"},
		},
		{
			name:       "no workers",
			mutate:     func(c *Config) { c.Block.Workers = 0 },
			wantFields: []string{"block.workers"},
		},
		{
			name:       "system with a slash",
			mutate:     func(c *Config) { c.Block.System = "a/b" },
			wantFields: []string{"block.system"},
		},
		{
			name:       "engine without adapter",
			mutate:     func(c *Config) { c.Block.Engine = "helm" },
			wantFields: []string{"block.engine"},
		},
		{
			name: "engine with adapter",
			mutate: func(c *Config) {
				c.Block.Engine = "wing/k8s"
				c.Engines = map[string]EngineConfig{"wing": {Command: "wing-engine"}}
			},
		},
		{
			name: "engine without command",
			mutate: func(c *Config) {
				c.Engines = map[string]EngineConfig{"helm": {}}
			},
			wantFields: []string{"engines.helm.command"},
		},
		{
			name:       "unknown watch source",
			mutate:     func(c *Config) { c.Watch.Source = "carrier-pigeon" },
			wantFields: []string{"watch.source"},
		},
		{
			name:       "filesystem watch without inbox",
			mutate:     func(c *Config) { c.Watch.Source = WatchSourceFilesystem },
			wantFields: []string{"watch.inbox"},
		},
		{
			name:       "bad events url",
			mutate:     func(c *Config) { c.Events.URL = "sink:8080" },
			wantFields: []string{"events.url"},
		},
		{
			name:       "control url scheme",
			mutate:     func(c *Config) { c.Control.URL = "ftp://control" },
			wantFields: []string{"control.url scheme"},
		},
		{
			name: "retry settings",
			mutate: func(c *Config) {
				c.Events.Attempts = 0
				c.Events.Multiplier = 0.5
			},
			wantFields: []string{"events.attempts", "events.multiplier"},
		},
		{
			name: "durations",
			mutate: func(c *Config) {
				c.Queue.LeaseTTL = 0
				c.References.PollInterval = 0
			},
			wantFields: []string{"queue.leaseTTL", "references.pollInterval"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			var errs ValidationErrors
			require.ErrorAs(t, err, &errs)
			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.ElementsMatch(t, tt.wantFields, fields)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("block.group", "is required")
	assert.Equal(t, "field 'block.group': is required", errs.Error())

	errs.Add("block.kind", "is required")
	assert.Equal(t, "validation failed: field 'block.group': is required; field 'block.kind': is required", errs.Error())
}
