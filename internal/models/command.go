package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/cmdarr/internal/shared"
)

// CommandKind names the work a command performs.
type CommandKind string

const (
	KindPlaylistSync         CommandKind = "playlist_sync"
	KindLibraryCacheBuild    CommandKind = "library_cache_build"
	KindDiscoveryMaintenance CommandKind = "discovery_maintenance"
)

// Known reports whether k is a kind the runner can dispatch.
func (k CommandKind) Known() bool {
	switch k {
	case KindPlaylistSync, KindLibraryCacheBuild, KindDiscoveryMaintenance:
		return true
	}
	return false
}

// SyncMode controls whether playlist sync may remove tracks from the target.
type SyncMode string

const (
	SyncFull     SyncMode = "full"
	SyncAdditive SyncMode = "additive"
)

// CommandDefinition is a named, schedulable unit of work.
//
// ScheduleCron overrides the global default cron when set. Config holds the
// kind-specific options as JSON and is decoded through the typed accessors.
type CommandDefinition struct {
	ID           string
	Kind         CommandKind
	Enabled      bool
	ScheduleCron string
	Timezone     string
	Timeout      time.Duration
	Config       json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EffectiveCron returns the command's own schedule or the global default.
func (c CommandDefinition) EffectiveCron(defaultCron string) string {
	if s := strings.TrimSpace(c.ScheduleCron); s != "" {
		return s
	}
	return defaultCron
}

// EffectiveTimeout returns the command's own timeout or the global default.
func (c CommandDefinition) EffectiveTimeout(fallback time.Duration) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return fallback
}

func (c CommandDefinition) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: command id is required", shared.ErrInvalidInput)
	}
	if !c.Kind.Known() {
		return fmt.Errorf("%w: command %s has unknown kind %q", shared.ErrInvalidInput, c.ID, c.Kind)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: command %s has a negative timeout", shared.ErrInvalidInput, c.ID)
	}
	if _, err := c.DecodeConfig(); err != nil {
		return fmt.Errorf("command %s: %w", c.ID, err)
	}
	return nil
}

// DecodeConfig decodes Config into the typed options for the command's kind,
// rejecting options the kind does not declare and filling defaults.
func (c CommandDefinition) DecodeConfig() (any, error) {
	switch c.Kind {
	case KindPlaylistSync:
		return c.PlaylistSync()
	case KindLibraryCacheBuild:
		return c.LibraryCache()
	case KindDiscoveryMaintenance:
		return c.Maintenance()
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", shared.ErrInvalidInput, c.Kind)
	}
}

// PlaylistSyncConfig holds the options of a playlist_sync command.
type PlaylistSyncConfig struct {
	Source          string   `json:"source"`
	Target          string   `json:"target"`
	Playlist        string   `json:"playlist"`
	Category        string   `json:"category,omitempty"`
	NamePrefix      string   `json:"name_prefix,omitempty"`
	SyncMode        SyncMode `json:"sync_mode,omitempty"`
	Retention       int      `json:"retention,omitempty"`
	RemoveEmpty     bool     `json:"remove_empty,omitempty"`
	ArtistDiscovery bool     `json:"artist_discovery,omitempty"`
}

func (c CommandDefinition) PlaylistSync() (PlaylistSyncConfig, error) {
	var cfg PlaylistSyncConfig
	if err := decodeStrict(c.Config, &cfg); err != nil {
		return cfg, err
	}
	if cfg.SyncMode == "" {
		cfg.SyncMode = SyncFull
	}
	if cfg.NamePrefix == "" && cfg.Source != "" {
		cfg.NamePrefix = DefaultNamePrefix(cfg.Source)
	}

	switch {
	case cfg.Source == "":
		return cfg, fmt.Errorf("%w: playlist_sync requires source", shared.ErrInvalidInput)
	case cfg.Target == "":
		return cfg, fmt.Errorf("%w: playlist_sync requires target", shared.ErrInvalidInput)
	case cfg.Playlist == "":
		return cfg, fmt.Errorf("%w: playlist_sync requires playlist", shared.ErrInvalidInput)
	case cfg.SyncMode != SyncFull && cfg.SyncMode != SyncAdditive:
		return cfg, fmt.Errorf("%w: sync_mode %q", shared.ErrInvalidInput, cfg.SyncMode)
	case cfg.Retention < 0:
		return cfg, fmt.Errorf("%w: retention cannot be negative", shared.ErrInvalidInput)
	}
	return cfg, nil
}

// DefaultNamePrefix is the playlist name prefix used when a command does not set one.
func DefaultNamePrefix(source string) string {
	switch strings.ToLower(source) {
	case "listenbrainz":
		return "[LB]"
	case "spotify":
		return "[Spotify]"
	default:
		return "[" + source + "]"
	}
}

// LibraryCacheConfig holds the options of a library_cache_build command.
type LibraryCacheConfig struct {
	Targets []string `json:"targets"`
	Force   bool     `json:"force,omitempty"`
}

func (c CommandDefinition) LibraryCache() (LibraryCacheConfig, error) {
	var cfg LibraryCacheConfig
	if err := decodeStrict(c.Config, &cfg); err != nil {
		return cfg, err
	}
	if len(cfg.Targets) == 0 {
		return cfg, fmt.Errorf("%w: library_cache_build requires at least one target", shared.ErrInvalidInput)
	}
	return cfg, nil
}

// MaintenanceConfig holds the options of a discovery_maintenance command.
type MaintenanceConfig struct {
	MaxAgeDays      int  `json:"max_age_days,omitempty"`
	PruneExecutions bool `json:"prune_executions,omitempty"`
}

func (c CommandDefinition) Maintenance() (MaintenanceConfig, error) {
	var cfg MaintenanceConfig
	if err := decodeStrict(c.Config, &cfg); err != nil {
		return cfg, err
	}
	if cfg.MaxAgeDays < 0 {
		return cfg, fmt.Errorf("%w: max_age_days cannot be negative", shared.ErrInvalidInput)
	}
	return cfg, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if strings.Contains(err.Error(), "unknown field") {
			return fmt.Errorf("%w: %s", shared.ErrUnknownOption, strings.TrimPrefix(err.Error(), "json: "))
		}
		return fmt.Errorf("%w: config: %w", shared.ErrInvalidInput, err)
	}
	return nil
}
