package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents a profile's config.toml.
type Config struct {
	OrganizationID string        `toml:"organization_id"`
	AgentID        string        `toml:"agent_id"`
	DefaultProfile string        `toml:"default_profile"`
	Gateway        GatewayConfig `toml:"gateway"`
	Sync           SyncConfig    `toml:"sync"`
	Media          MediaConfig   `toml:"media"`
}

// GatewayConfig holds the remote sync gateway endpoint settings.
type GatewayConfig struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SyncConfig holds drain-cycle and retry tunables.
type SyncConfig struct {
	IntervalSeconds     int `toml:"interval_seconds"`
	BatchSize           int `toml:"batch_size"`
	MaxInFlight         int `toml:"max_in_flight"`
	MaxAttempts         int `toml:"max_attempts"`
	BackoffBaseMillis   int `toml:"backoff_base_ms"`
	BackoffCapMillis    int `toml:"backoff_cap_ms"`
	CycleTimeoutSeconds int `toml:"cycle_timeout_seconds"`
}

// MediaConfig holds the photo compression parameters.
type MediaConfig struct {
	MaxWidth         int `toml:"max_width"`
	MaxHeight        int `toml:"max_height"`
	Quality          int `toml:"quality"`
	ThumbnailSize    int `toml:"thumbnail_size"`
	ThumbnailQuality int `toml:"thumbnail_quality"`
}

// Default returns a config with working defaults for everything except the
// identity and gateway fields, which the operator must fill in.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			TimeoutSeconds: 30,
		},
		Sync: SyncConfig{
			IntervalSeconds:     300,
			BatchSize:           25,
			MaxInFlight:         4,
			MaxAttempts:         5,
			BackoffBaseMillis:   2000,
			BackoffCapMillis:    3600_000,
			CycleTimeoutSeconds: 120,
		},
		Media: MediaConfig{
			MaxWidth:         1600,
			MaxHeight:        1600,
			Quality:          80,
			ThumbnailSize:    240,
			ThumbnailQuality: 60,
		},
	}
}

// Load reads config from the given path. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
