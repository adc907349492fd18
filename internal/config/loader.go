package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"kblocks/pkg/logging"
)

const (
	userConfigDir  = ".config/kblocks"
	configFileName = "config.yaml"
)

// Environment variables that override file settings.
const (
	EnvSystemID   = "KBLOCKS_SYSTEM_ID"
	EnvEventsURL  = "KBLOCKS_EVENTS_URL"
	EnvControlURL = "KBLOCKS_CONTROL_URL"
)

// lookupEnv is replaced in tests.
var lookupEnv = os.LookupEnv

// GetDefaultConfigPathOrPanic returns ~/.config/kblocks.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig reads config.yaml from configPath over the defaults and applies
// the environment overrides. The result is not validated.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, NewConfigurationError(configFilePath, ErrorTypeIO, err.Error())
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, NewConfigurationError(configFilePath, ErrorTypeParse, err.Error())
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	applyEnv(&config)
	return config, nil
}

func applyEnv(config *Config) {
	overrides := []struct {
		name   string
		target *string
	}{
		{EnvSystemID, &config.Block.System},
		{EnvEventsURL, &config.Events.URL},
		{EnvControlURL, &config.Control.URL},
	}
	for _, o := range overrides {
		if v, ok := lookupEnv(o.name); ok && v != "" {
			logging.Debug("ConfigLoader", "Using %s from the environment", o.name)
			*o.target = v
		}
	}
}
