// Package config loads the engine's configuration file and environment
// overrides. Flags beat environment, environment beats file, file beats
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration document (strand.yaml).
type Config struct {
	// Database is the SQLite database path.
	Database string `yaml:"database"`

	// Listen is the control API bind address.
	Listen string `yaml:"listen"`

	Worker WorkerConfig `yaml:"worker"`
}

// WorkerConfig tunes the scheduler.
type WorkerConfig struct {
	// Count is the number of worker loops per process.
	Count int `yaml:"count"`

	// LeaseMS is the instance lease duration in milliseconds.
	LeaseMS int `yaml:"lease_ms"`

	// MaxAttempts is the retry budget per step.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBaseMS is the base of the exponential retry backoff.
	BackoffBaseMS int `yaml:"backoff_base_ms"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: "strand.db",
		Listen:   ":8080",
		Worker: WorkerConfig{
			Count:         1,
			LeaseMS:       30_000,
			MaxAttempts:   3,
			BackoffBaseMS: 1_000,
		},
	}
}

// Load reads the config file at path, if it exists, and applies
// environment overrides. A missing file is not an error; a malformed
// one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if db := os.Getenv("STRAND_DB"); db != "" {
		cfg.Database = db
	}
	if listen := os.Getenv("STRAND_LISTEN"); listen != "" {
		cfg.Listen = listen
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Database == "" {
		return fmt.Errorf("config: database path is empty")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("config: worker count must be >= 1, got %d", c.Worker.Count)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be >= 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.LeaseMS <= 0 {
		return fmt.Errorf("config: lease_ms must be > 0, got %d", c.Worker.LeaseMS)
	}
	if c.Worker.BackoffBaseMS <= 0 {
		return fmt.Errorf("config: backoff_base_ms must be > 0, got %d", c.Worker.BackoffBaseMS)
	}
	return nil
}

// Lease returns the lease duration.
func (c WorkerConfig) Lease() time.Duration {
	return time.Duration(c.LeaseMS) * time.Millisecond
}

// BackoffBase returns the backoff base duration.
func (c WorkerConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}
