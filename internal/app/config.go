package app

import (
	"fmt"

	"kblocks/internal/config"
)

// Config holds the options shared by every command.
type Config struct {
	// ConfigPath is the configuration directory.
	ConfigPath string

	// Runtime is the loaded configuration.
	Runtime config.Config
}

// LoadConfig reads and validates the configuration in configPath.
func LoadConfig(configPath string) (*Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}
	return &Config{ConfigPath: configPath, Runtime: cfg}, nil
}
