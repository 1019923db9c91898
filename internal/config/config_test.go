package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 3111 || cfg.Bind != "127.0.0.1" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxEntries != 10_000 {
		t.Errorf("expected max_entries=10000, got %d", cfg.MaxEntries)
	}
	if cfg.StaleAfter != 15*time.Second || cfg.SweepInterval != 5*time.Second {
		t.Errorf("unexpected staleness defaults: %+v", cfg)
	}
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := []byte("port: 8080\nsecret: hunter2\nstale_after: 30s\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.Secret != "hunter2" {
		t.Errorf("expected secret from file, got %q", cfg.Secret)
	}
	if cfg.StaleAfter != 30*time.Second {
		t.Errorf("expected stale_after 30s, got %v", cfg.StaleAfter)
	}
	// Untouched keys keep their defaults.
	if cfg.Bind != "127.0.0.1" || cfg.MaxEntries != 10_000 {
		t.Errorf("defaults clobbered: %+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/relay.yaml"); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero port", func(c *Config) { c.Port = 0 }, false},
		{"port too high", func(c *Config) { c.Port = 70000 }, false},
		{"zero max entries", func(c *Config) { c.MaxEntries = 0 }, false},
		{"zero stale window", func(c *Config) { c.StaleAfter = 0 }, false},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }, false},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}
