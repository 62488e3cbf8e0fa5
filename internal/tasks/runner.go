package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cmdarr/internal/library"
	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/services"
	"github.com/desertthunder/cmdarr/internal/shared"
)

const defaultMaxAgeDays = 30

// ExecutionPruner trims old execution history.
type ExecutionPruner interface {
	Prune(ctx context.Context, keep int) (int64, error)
}

// StuckCleaner times out executions that have been running too long.
type StuckCleaner interface {
	CleanupStuck(ctx context.Context, now time.Time) (int, error)
}

// RunnerOptions configure a [CommandRunner].
type RunnerOptions struct {
	ImportListPath string
	MaxAgeDays     int // discovery_maintenance default when the command sets none
	KeepExecutions int
	Progress       chan<- ProgressUpdate
	Clock          models.Clock
}

// CommandRunner maps command kinds to the work they do.
type CommandRunner struct {
	registry   *services.Registry
	engine     *PlaylistEngine
	cache      *library.Manager
	artists    ArtistStore
	executions ExecutionPruner
	stuck      StuckCleaner
	logger     *log.Logger
	opts       RunnerOptions
}

// NewCommandRunner creates a CommandRunner. artists and executions may be nil.
func NewCommandRunner(registry *services.Registry, engine *PlaylistEngine, cache *library.Manager, artists ArtistStore, executions ExecutionPruner, logger *log.Logger, opts RunnerOptions) *CommandRunner {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &CommandRunner{
		registry:   registry,
		engine:     engine,
		cache:      cache,
		artists:    artists,
		executions: executions,
		logger:     shared.WithLogger(logger, "component", "runner"),
		opts:       opts,
	}
}

// SetStuckCleaner wires the coordinator in once it exists, since the coordinator
// itself is built with this runner.
func (r *CommandRunner) SetStuckCleaner(c StuckCleaner) {
	r.stuck = c
}

// Run executes def and returns the execution summary.
func (r *CommandRunner) Run(ctx context.Context, def *models.CommandDefinition, exec *models.Execution) (string, error) {
	r.logger.Debug("running command", "command", def.ID, "kind", def.Kind, "execution", exec.ID)
	switch def.Kind {
	case models.KindPlaylistSync:
		return r.runPlaylistSync(ctx, def)
	case models.KindLibraryCacheBuild:
		return r.runCacheBuild(ctx, def)
	case models.KindDiscoveryMaintenance:
		return r.runMaintenance(ctx, def)
	default:
		return "", fmt.Errorf("%w: unknown command kind %q", shared.ErrInvalidInput, def.Kind)
	}
}

func (r *CommandRunner) runPlaylistSync(ctx context.Context, def *models.CommandDefinition) (string, error) {
	cfg, err := def.PlaylistSync()
	if err != nil {
		return "", err
	}
	src, err := r.registry.Source(cfg.Source)
	if err != nil {
		return "", err
	}
	dst, err := r.registry.Target(cfg.Target)
	if err != nil {
		return "", err
	}

	res, err := r.engine.Sync(ctx, r.opts.Progress, def.ID, src, dst, cfg)
	if err != nil {
		return "", err
	}
	return res.Summary(), nil
}

func (r *CommandRunner) runCacheBuild(ctx context.Context, def *models.CommandDefinition) (string, error) {
	cfg, err := def.LibraryCache()
	if err != nil {
		return "", err
	}
	if r.cache == nil {
		return "", fmt.Errorf("%w: no library manager", shared.ErrCacheUnavailable)
	}

	now := r.opts.Clock()
	var built, fresh, degraded int
	var errs []error
	for i, name := range cfg.Targets {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		target, err := r.registry.Target(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !cfg.Force && !r.cache.IsStale(ctx, target.Name(), now) {
			fresh++
			continue
		}

		r.engine.sendProgress(r.opts.Progress, buildCacheUpdate(i+1, len(cfg.Targets), target.Name()))
		if _, err := r.cache.Build(ctx, target.Name(), target); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, shared.ErrCacheUnavailable) {
				degraded++
				continue
			}
			errs = append(errs, err)
			continue
		}
		built++
	}

	summary := fmt.Sprintf("built %d, fresh %d, degraded %d", built, fresh, degraded)
	return summary, errors.Join(errs...)
}

func (r *CommandRunner) runMaintenance(ctx context.Context, def *models.CommandDefinition) (string, error) {
	cfg, err := def.Maintenance()
	if err != nil {
		return "", err
	}
	days := cfg.MaxAgeDays
	if days == 0 {
		days = r.opts.MaxAgeDays
	}
	if days <= 0 {
		days = defaultMaxAgeDays
	}

	now := r.opts.Clock()
	var parts []string

	if r.artists != nil {
		removed, err := r.artists.DeleteOlderThan(ctx, now.AddDate(0, 0, -days))
		if err != nil {
			return "", fmt.Errorf("prune discovered artists: %w", err)
		}
		parts = append(parts, fmt.Sprintf("pruned %d artists", removed))

		if r.opts.ImportListPath != "" {
			n, err := WriteImportList(ctx, r.artists, r.opts.ImportListPath)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("import list has %d artists", n))
		}
	}

	if r.cache != nil {
		n, err := r.cache.CleanupExpired(ctx, now)
		if err != nil {
			return "", fmt.Errorf("clean expired snapshots: %w", err)
		}
		parts = append(parts, fmt.Sprintf("%d expired snapshots removed", n))
	}

	if r.stuck != nil {
		n, err := r.stuck.CleanupStuck(ctx, now)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%d stuck executions", n))
	}

	if cfg.PruneExecutions && r.executions != nil && r.opts.KeepExecutions > 0 {
		n, err := r.executions.Prune(ctx, r.opts.KeepExecutions)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%d old executions pruned", n))
	}

	if len(parts) == 0 {
		return "nothing to do", nil
	}
	return strings.Join(parts, ", "), nil
}
