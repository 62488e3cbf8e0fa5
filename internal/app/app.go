// Package app wires the long-lived pieces of the daemon together.
//
// An [App] owns the database, repositories, service registry, library cache,
// execution coordinator, scheduler, metrics and status server. [App.Init]
// prepares everything and recovers interrupted executions, [App.Start] begins
// dispatching and ticking, and [App.Shutdown] tears it all down in reverse.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"

	"github.com/desertthunder/cmdarr/internal/executor"
	"github.com/desertthunder/cmdarr/internal/library"
	"github.com/desertthunder/cmdarr/internal/matcher"
	"github.com/desertthunder/cmdarr/internal/metrics"
	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/repositories"
	"github.com/desertthunder/cmdarr/internal/schedule"
	"github.com/desertthunder/cmdarr/internal/server"
	"github.com/desertthunder/cmdarr/internal/services"
	"github.com/desertthunder/cmdarr/internal/shared"
	"github.com/desertthunder/cmdarr/internal/tasks"
)

// ErrLocked is returned by [App.Init] when another process holds the instance lock.
var ErrLocked = errors.New("another cmdarr instance is running")

// Options tune [New].
type Options struct {
	// SeedPath names a commands.yaml imported when the command table is empty.
	SeedPath string
	// Registry replaces the registry built from credentials.
	Registry *services.Registry
	// Progress receives sync progress updates. Sends never block.
	Progress chan<- tasks.ProgressUpdate
	Clock    models.Clock
}

// App is the process context.
type App struct {
	Config *shared.Config
	Logger *log.Logger
	opts   Options

	DB             *sql.DB
	Commands       *repositories.CommandRepository
	Executions     *repositories.ExecutionRepository
	Snapshots      *repositories.SnapshotRepository
	PlaylistStates *repositories.PlaylistStateRepository
	Artists        *repositories.ArtistRepository
	SchedulerState *repositories.SchedulerStateRepository

	Registry    *services.Registry
	Metrics     *metrics.Collector
	Library     *library.Manager
	Runner      *tasks.CommandRunner
	Coordinator *executor.Coordinator
	Scheduler   *schedule.Scheduler
	Server      *server.Server

	// Recovered counts executions Init found interrupted by a previous process.
	Recovered int

	lock    *flock.Flock
	started bool
}

// New returns an App for cfg. Nothing is opened until [App.Init].
func New(cfg *shared.Config, logger *log.Logger, opts Options) *App {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &App{
		Config: cfg,
		Logger: logger,
		opts:   opts,
	}
}

// LockPath is the instance lock file, kept next to the database.
func LockPath(dbPath string) string {
	if dbPath == ":memory:" || dbPath == "" {
		return ""
	}
	return dbPath + ".lock"
}

// Init takes the instance lock, migrates the database, seeds command
// definitions, builds every component and recovers executions left
// non-terminal by a previous process.
func (a *App) Init(ctx context.Context) (err error) {
	cfg := a.Config

	if path := LockPath(cfg.Database.Path); path != "" {
		lock := flock.New(path)
		ok, lockErr := lock.TryLock()
		if lockErr != nil {
			return fmt.Errorf("acquire lock %s: %w", path, lockErr)
		}
		if !ok {
			return fmt.Errorf("%w (lock %s)", ErrLocked, path)
		}
		a.lock = lock
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	db, err := shared.NewDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	a.DB = db
	shared.ConfigureDatabase(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	a.Commands = repositories.NewCommandRepository(db)
	a.Executions = repositories.NewExecutionRepository(db)
	a.Snapshots = repositories.NewSnapshotRepository(db)
	a.PlaylistStates = repositories.NewPlaylistStateRepository(db)
	a.Artists = repositories.NewArtistRepository(db)
	a.SchedulerState = repositories.NewSchedulerStateRepository(db)

	if err := a.seed(ctx); err != nil {
		return err
	}

	a.Registry = a.opts.Registry
	if a.Registry == nil {
		if a.Registry, err = BuildRegistry(cfg, a.Logger); err != nil {
			return err
		}
	}

	a.Metrics = metrics.NewCollector()
	a.Library = library.NewManager(a.Snapshots, a.Logger, library.Options{
		TTL:          cfg.Library.TTL,
		CeilingBytes: int64(cfg.Library.MemoryCeilingMB) << 20,
		KeepInMemory: cfg.Library.KeepInMemory,
		Clock:        a.opts.Clock,
		Metrics:      a.Metrics,
	})

	engine := tasks.NewPlaylistEngine(a.Library, matcher.New(cfg.Matcher.Threshold), a.PlaylistStates, a.Artists, a.Logger, tasks.EngineOptions{
		ImportListPath: cfg.Discovery.ImportListPath,
		Clock:          a.opts.Clock,
		Metrics:        a.Metrics,
	})
	a.Runner = tasks.NewCommandRunner(a.Registry, engine, a.Library, a.Artists, a.Executions, a.Logger, tasks.RunnerOptions{
		ImportListPath: cfg.Discovery.ImportListPath,
		MaxAgeDays:     cfg.Discovery.MaxAgeDays,
		KeepExecutions: cfg.Executor.KeepExecutions,
		Progress:       a.opts.Progress,
		Clock:          a.opts.Clock,
	})

	execOpts := executor.OptionsFromConfig(cfg.Executor, a.Metrics)
	execOpts.Clock = a.opts.Clock
	a.Coordinator = executor.New(a.Executions, a.Commands, a.Runner, a.Logger, execOpts)
	a.Runner.SetStuckCleaner(a.Coordinator)

	a.Scheduler = schedule.New(a.Commands, a.Executions, a.Coordinator, a.SchedulerState, a.Logger, a.Metrics, schedule.Config{
		DefaultCron:        cfg.Scheduler.DefaultCron,
		Timezone:           cfg.Scheduler.Timezone,
		CheckInterval:      cfg.Scheduler.CheckInterval,
		MaintenanceCommand: cfg.Scheduler.MaintenanceCommand,
		MaintenanceWindow:  cfg.Scheduler.MaintenanceWindow,
	})

	if cfg.Server.Enabled {
		api := server.NewAPI(a.Executions, a.Coordinator, a.Metrics.Handler(), a.Logger)
		a.Server = server.New(cfg.Server.Addr(), api.Routes(), a.Logger)
	}

	a.Recovered, err = a.Coordinator.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover executions: %w", err)
	}
	if a.Recovered > 0 {
		a.Logger.Warn("recovered interrupted executions", "count", a.Recovered)
	}
	return nil
}

func (a *App) seed(ctx context.Context) error {
	if a.opts.SeedPath == "" {
		return nil
	}
	existing, err := a.Commands.List(ctx, nil)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	defs, err := repositories.LoadCommandSeeds(a.opts.SeedPath)
	if errors.Is(err, fs.ErrNotExist) {
		a.Logger.Debug("no command seed file", "path", a.opts.SeedPath)
		return nil
	}
	if err != nil {
		return err
	}
	n, err := repositories.ImportSeeds(ctx, a.Commands, defs)
	if err != nil {
		return fmt.Errorf("seed commands: %w", err)
	}
	a.Logger.Info("seeded command definitions", "count", n, "path", filepath.Base(a.opts.SeedPath))
	return nil
}

// Start begins dispatching executions, ticking the scheduler and serving the
// status surface when it is enabled.
func (a *App) Start(ctx context.Context) error {
	if a.Coordinator == nil {
		return errors.New("app is not initialised")
	}
	if err := a.Coordinator.Start(); err != nil {
		return err
	}
	if a.Server != nil {
		if err := a.Server.Start(); err != nil {
			return err
		}
	}
	a.Scheduler.Start(ctx)
	a.started = true
	return nil
}

// Shutdown stops the scheduler, drains the coordinator within the configured
// grace period, then closes the server, the database and the lock.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Coordinator != nil {
		if err := a.Coordinator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("coordinator: %w", err))
		}
	}
	if a.Server != nil && a.started {
		if err := a.Server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		a.DB = nil
	}
	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("release lock: %w", err))
		}
		a.lock = nil
	}
	return errors.Join(errs...)
}

// BuildRegistry registers every service whose credentials are configured.
// Services with missing or placeholder credentials are skipped.
func BuildRegistry(cfg *shared.Config, logger *log.Logger) (*services.Registry, error) {
	reg := services.NewRegistry()
	client := services.OptionsFromConfig(cfg.HTTP, logger)
	creds := cfg.Credentials

	skip := func(name string, err error) error {
		if errors.Is(err, shared.ErrMissingCredentials) || errors.Is(err, shared.ErrMissingConfig) {
			logger.Debug("service not configured", "service", name, "reason", err)
			return nil
		}
		return fmt.Errorf("configure %s: %w", name, err)
	}

	if configured(creds.Spotify.ClientID) && configured(creds.Spotify.ClientSecret) {
		svc, err := services.NewSpotifyService(services.SpotifyOptions{
			ClientID:     creds.Spotify.ClientID,
			ClientSecret: creds.Spotify.ClientSecret,
			Client:       client,
		})
		if err != nil {
			if err := skip("spotify", err); err != nil {
				return nil, err
			}
		} else {
			reg.AddSource(svc)
		}
	}

	if configured(creds.ListenBrainz.Username) {
		svc, err := services.NewListenBrainzService(services.ListenBrainzOptions{
			BaseURL:  creds.ListenBrainz.BaseURL,
			Username: creds.ListenBrainz.Username,
			Token:    creds.ListenBrainz.Token,
			Client:   client,
		})
		if err != nil {
			if err := skip("listenbrainz", err); err != nil {
				return nil, err
			}
		} else {
			reg.AddSource(svc)
		}
	}

	if configured(creds.Plex.Token) {
		svc, err := services.NewPlexService(services.PlexOptions{
			URL:     creds.Plex.URL,
			Token:   creds.Plex.Token,
			Section: creds.Plex.Section,
			Client:  client,
		})
		if err != nil {
			if err := skip("plex", err); err != nil {
				return nil, err
			}
		} else {
			reg.AddTarget(svc)
		}
	}

	if configured(creds.Jellyfin.APIKey) {
		svc, err := services.NewJellyfinService(services.JellyfinOptions{
			URL:    creds.Jellyfin.URL,
			APIKey: creds.Jellyfin.APIKey,
			UserID: creds.Jellyfin.UserID,
			Client: client,
		})
		if err != nil {
			if err := skip("jellyfin", err); err != nil {
				return nil, err
			}
		} else {
			reg.AddTarget(svc)
		}
	}

	return reg, nil
}

// configured reports whether v is set to something other than an example placeholder.
func configured(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.HasPrefix(v, "your_")
}
