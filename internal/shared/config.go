package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Log         LogConfig         `toml:"log"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Executor    ExecutorConfig    `toml:"executor"`
	Library     LibraryConfig     `toml:"library"`
	Matcher     MatcherConfig     `toml:"matcher"`
	Discovery   DiscoveryConfig   `toml:"discovery"`
	HTTP        HTTPConfig        `toml:"http"`
	Credentials CredentialsConfig `toml:"credentials"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains the status HTTP server settings.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// SchedulerConfig controls cron evaluation.
type SchedulerConfig struct {
	DefaultCron        string        `toml:"default_cron"`
	Timezone           string        `toml:"timezone"`
	CheckInterval      time.Duration `toml:"check_interval"`
	MaintenanceCommand string        `toml:"maintenance_command"`
	MaintenanceWindow  time.Duration `toml:"maintenance_window"`
}

// ExecutorConfig controls the execution coordinator.
type ExecutorConfig struct {
	MaxParallel    int           `toml:"max_parallel"`
	DefaultTimeout time.Duration `toml:"default_timeout"`
	RestartRetry   bool          `toml:"restart_retry"`
	RetryDelay     time.Duration `toml:"retry_delay"`
	ShutdownGrace  time.Duration `toml:"shutdown_grace"`
	StuckAfter     time.Duration `toml:"stuck_after"`
	KeepExecutions int           `toml:"keep_executions"`
}

// LibraryConfig controls library snapshots.
type LibraryConfig struct {
	TTL             time.Duration `toml:"ttl"`
	MemoryCeilingMB int           `toml:"memory_ceiling_mb"`
	KeepInMemory    bool          `toml:"keep_in_memory"`
}

type MatcherConfig struct {
	Threshold int `toml:"threshold"`
}

// DiscoveryConfig controls artist discovery output.
type DiscoveryConfig struct {
	ImportListPath string `toml:"import_list_path"`
	MaxAgeDays     int    `toml:"max_age_days"`
}

// HTTPConfig applies to every upstream service client.
type HTTPConfig struct {
	Timeout           time.Duration `toml:"timeout"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
	MaxRetries        int           `toml:"max_retries"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify      SpotifyConfig      `toml:"spotify"`
	ListenBrainz ListenBrainzConfig `toml:"listenbrainz"`
	Plex         PlexConfig         `toml:"plex"`
	Jellyfin     JellyfinConfig     `toml:"jellyfin"`
}

// SpotifyConfig contains Spotify API credentials (client-credentials grant).
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

type ListenBrainzConfig struct {
	BaseURL  string `toml:"base_url"`
	Username string `toml:"username"`
	Token    string `toml:"token"`
}

type PlexConfig struct {
	URL     string `toml:"url"`
	Token   string `toml:"token"`
	Section string `toml:"section"`
}

type JellyfinConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
	UserID string `toml:"user_id"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingConfig, err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrInvalidConfig, err)
	}

	config.ApplyEnv(os.LookupEnv)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides selected values from the environment.
//
// The scheduler timezone resolves TZ first, then SCHEDULER_TIMEZONE, then the file value.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("CMDARR_DB_PATH"); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup("SCHEDULER_TIMEZONE"); ok && v != "" {
		c.Scheduler.Timezone = v
	}
	if v, ok := lookup("TZ"); ok && v != "" {
		c.Scheduler.Timezone = v
	}
	if v, ok := lookup("MAX_PARALLEL_COMMANDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Executor.MaxParallel = n
		}
	}
	if v, ok := lookup("PLEX_TOKEN"); ok && v != "" {
		c.Credentials.Plex.Token = v
	}
	if v, ok := lookup("JELLYFIN_API_KEY"); ok && v != "" {
		c.Credentials.Jellyfin.APIKey = v
	}
	if v, ok := lookup("LISTENBRAINZ_TOKEN"); ok && v != "" {
		c.Credentials.ListenBrainz.Token = v
	}
}

// Validate fills zero values with defaults and rejects settings that cannot work.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 1
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 1
	}
	if c.Scheduler.DefaultCron == "" {
		return fmt.Errorf("%w: scheduler.default_cron is required", ErrInvalidConfig)
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}
	if c.Scheduler.CheckInterval <= 0 {
		c.Scheduler.CheckInterval = time.Minute
	}
	if c.Scheduler.MaintenanceWindow <= 0 {
		c.Scheduler.MaintenanceWindow = 24 * time.Hour
	}
	if c.Executor.MaxParallel < 1 {
		return fmt.Errorf("%w: executor.max_parallel must be at least 1, got %d", ErrInvalidConfig, c.Executor.MaxParallel)
	}
	if c.Executor.DefaultTimeout <= 0 {
		c.Executor.DefaultTimeout = 30 * time.Minute
	}
	if c.Executor.ShutdownGrace <= 0 {
		c.Executor.ShutdownGrace = 300 * time.Second
	}
	if c.Executor.StuckAfter <= 0 {
		c.Executor.StuckAfter = 2 * time.Hour
	}
	if c.Library.TTL <= 0 {
		c.Library.TTL = 24 * time.Hour
	}
	if c.Library.MemoryCeilingMB < 0 {
		return fmt.Errorf("%w: library.memory_ceiling_mb cannot be negative", ErrInvalidConfig)
	}
	if c.Matcher.Threshold <= 0 {
		c.Matcher.Threshold = 120
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.RequestsPerSecond <= 0 {
		c.HTTP.RequestsPerSecond = 5
	}
	if c.HTTP.Burst <= 0 {
		c.HTTP.Burst = 1
	}
	if c.HTTP.MaxRetries < 0 {
		c.HTTP.MaxRetries = 0
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	return nil
}

// Addr returns the host:port the status server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
