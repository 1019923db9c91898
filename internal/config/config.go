// Package config provides configuration for the relay. Values come from
// three layers: built-in defaults, an optional YAML file, then command-line
// flags (applied by cmd/relay).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full relay configuration.
type Config struct {
	// Port and Bind select the listen address.
	Port int    `yaml:"port"`
	Bind string `yaml:"bind"`

	// Console echoes every stored entry to stdout; LogFile additionally
	// appends each entry as a JSON line when non-empty.
	Console bool   `yaml:"console"`
	LogFile string `yaml:"log_file"`

	// Secret gates every mutating call via the X-Relay-Secret header and
	// signs exchange scripts. Empty disables both.
	Secret string `yaml:"secret"`

	// MaxEntries bounds the in-memory log store (oldest evicted first).
	MaxEntries int `yaml:"max_entries"`

	// ExchangeDir is where pending scripts are written for the loader.
	ExchangeDir string `yaml:"exchange_dir"`

	// StorageDir holds persistent game scan data.
	StorageDir string `yaml:"storage_dir"`

	// StaleAfter is the heartbeat staleness window; SweepInterval is how
	// often the registry checks for it.
	StaleAfter    time.Duration `yaml:"stale_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:          3111,
		Bind:          "127.0.0.1",
		MaxEntries:    10_000,
		ExchangeDir:   "./exchange",
		StorageDir:    "./storage",
		StaleAfter:    15 * time.Second,
		SweepInterval: 5 * time.Second,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the relay cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max_entries must be positive, got %d", c.MaxEntries)
	}
	if c.StaleAfter <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("stale_after and sweep_interval must be positive")
	}
	return nil
}
