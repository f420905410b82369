package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Policy.ItemsPerDay != 3 || cfg.Policy.Oversample != 4 || cfg.Push.ChunkSize != 90 {
		t.Errorf("unexpected defaults: %+v", cfg.Policy)
	}
	if cfg.Database.Driver != "sqlite" || cfg.DSN() != "./stashloop.db" {
		t.Errorf("unexpected database defaults: %+v", cfg.Database)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  path: /tmp/x.db
policy:
  items_per_day: 5
  timezone: Europe/Berlin
scrape:
  timeout: 3s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/x.db" || cfg.Policy.ItemsPerDay != 5 || cfg.Policy.Timezone != "Europe/Berlin" {
		t.Errorf("yaml not applied: %+v %+v", cfg.Database, cfg.Policy)
	}
	if cfg.Scrape.Timeout != 3*time.Second {
		t.Errorf("timeout = %v", cfg.Scrape.Timeout)
	}
	// untouched keys keep their defaults
	if cfg.Policy.ReminderHour != 9 {
		t.Errorf("reminder hour = %d", cfg.Policy.ReminderHour)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[database]
driver = "postgres"
dsn = "postgres://localhost/stashloop"

[push]
chunk_size = 50
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Driver != "postgres" || cfg.DSN() != "postgres://localhost/stashloop" {
		t.Errorf("toml database: %+v", cfg.Database)
	}
	if cfg.Push.ChunkSize != 50 {
		t.Errorf("chunk size = %d", cfg.Push.ChunkSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STASHLOOP_POLICY_ITEMS_PER_DAY", "7")
	t.Setenv("STASHLOOP_AUTH_CRON_SECRET", "from-env")
	t.Setenv("STASHLOOP_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Policy.ItemsPerDay != 7 {
		t.Errorf("items per day = %d", cfg.Policy.ItemsPerDay)
	}
	if cfg.Auth.CronSecret != "from-env" || cfg.Log.Level != "debug" {
		t.Errorf("env not applied: %+v %+v", cfg.Auth, cfg.Log)
	}
	// no env var: default kept
	if cfg.Push.ChunkSize != 90 {
		t.Errorf("chunk size = %d", cfg.Push.ChunkSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"items per day", func(c *Config) { c.Policy.ItemsPerDay = 0 }, "items_per_day"},
		{"reminder hour", func(c *Config) { c.Policy.ReminderHour = 24 }, "reminder_hour"},
		{"timezone", func(c *Config) { c.Policy.Timezone = "Nowhere/Land" }, "timezone"},
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }, "driver"},
		{"postgres dsn", func(c *Config) { c.Database.Driver = "postgres" }, "dsn"},
		{"chunk size", func(c *Config) { c.Push.ChunkSize = 0 }, "chunk_size"},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: expected error mentioning %q, got %v", tt.name, tt.want, err)
		}
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Policy.ItemsPerDay = 6
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Policy.ItemsPerDay != 6 || loaded.Push.Title != cfg.Push.Title {
		t.Errorf("round trip lost values: %+v", loaded.Policy)
	}
}
