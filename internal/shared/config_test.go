package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./cmdarr.db" {
			t.Errorf("expected database path ./cmdarr.db, got %s", config.Database.Path)
		}

		if config.Executor.MaxParallel != 1 {
			t.Errorf("expected max_parallel 1, got %d", config.Executor.MaxParallel)
		}

		if config.Scheduler.CheckInterval != time.Minute {
			t.Errorf("expected check interval 1m, got %s", config.Scheduler.CheckInterval)
		}

		if config.Executor.ShutdownGrace != 300*time.Second {
			t.Errorf("expected shutdown grace 300s, got %s", config.Executor.ShutdownGrace)
		}

		if config.Matcher.Threshold != 120 {
			t.Errorf("expected matcher threshold 120, got %d", config.Matcher.Threshold)
		}

		if err := config.Validate(); err != nil {
			t.Errorf("embedded defaults should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Library.TTL != DefaultConfig().Library.TTL {
			t.Errorf("created config library ttl doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig keeps defaults for missing keys", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		testConfig := `[database]
path = "/custom/path.db"

[executor]
max_parallel = 3
default_timeout = "10m"

[credentials.plex]
url = "http://plex.local:32400"
token = "abc"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}
		if config.Executor.DefaultTimeout != 10*time.Minute {
			t.Errorf("expected default timeout 10m, got %s", config.Executor.DefaultTimeout)
		}
		if config.Library.MemoryCeilingMB != 512 {
			t.Errorf("expected default memory ceiling 512, got %d", config.Library.MemoryCeilingMB)
		}
		if config.Credentials.Plex.URL != "http://plex.local:32400" {
			t.Errorf("unexpected plex url %s", config.Credentials.Plex.URL)
		}
	})

	t.Run("LoadConfig missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
		if !errors.Is(err, ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tc := []struct {
			name    string
			mutate  func(*Config)
			wantErr bool
		}{
			{name: "defaults", mutate: func(*Config) {}},
			{name: "zero parallelism", mutate: func(c *Config) { c.Executor.MaxParallel = 0 }, wantErr: true},
			{name: "missing cron", mutate: func(c *Config) { c.Scheduler.DefaultCron = "" }, wantErr: true},
			{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
			{name: "disabled server ignores port", mutate: func(c *Config) { c.Server.Enabled = false; c.Server.Port = 0 }},
			{name: "zero threshold takes default", mutate: func(c *Config) { c.Matcher.Threshold = 0 }},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				c := DefaultConfig()
				tt.mutate(c)
				err := c.Validate()
				if (err != nil) != tt.wantErr {
					t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				}
				if err != nil && !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			})
		}
	})

	t.Run("ApplyEnv timezone priority", func(t *testing.T) {
		env := map[string]string{"TZ": "Europe/Berlin", "SCHEDULER_TIMEZONE": "America/Chicago", "MAX_PARALLEL_COMMANDS": "4"}
		lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

		c := DefaultConfig()
		c.ApplyEnv(lookup)
		if c.Scheduler.Timezone != "Europe/Berlin" {
			t.Errorf("TZ should win, got %s", c.Scheduler.Timezone)
		}
		if c.Executor.MaxParallel != 4 {
			t.Errorf("expected max parallel 4, got %d", c.Executor.MaxParallel)
		}

		delete(env, "TZ")
		c = DefaultConfig()
		c.ApplyEnv(lookup)
		if c.Scheduler.Timezone != "America/Chicago" {
			t.Errorf("SCHEDULER_TIMEZONE should apply without TZ, got %s", c.Scheduler.Timezone)
		}
	})
}
