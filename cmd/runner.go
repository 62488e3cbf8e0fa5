package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cmdarr/internal/app"
	"github.com/desertthunder/cmdarr/internal/formatter"
	"github.com/desertthunder/cmdarr/internal/services"
	"github.com/desertthunder/cmdarr/internal/shared"
	"github.com/desertthunder/cmdarr/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	registry   *services.Registry
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	palette    *formatter.Palette
}

// RunnerOpts contains configuration options for creating a Runner.
//
// A nil Config is loaded from the --config flag on first use. A nil Registry
// is built from the configured credentials.
type RunnerOpts struct {
	Config     *shared.Config
	Registry   *services.Registry
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Palette    *formatter.Palette
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Palette == nil {
		opts.Palette = formatter.DefaultPalette
	}

	return &Runner{
		config:     opts.Config,
		registry:   opts.Registry,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		palette:    opts.Palette,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serveCommand, commandsCommand, executionsCommand, cacheCommand, cronCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig returns the injected config or reads the file named by --config.
func (r *Runner) loadConfig(cmd *cli.Command) (*shared.Config, error) {
	if r.config != nil {
		return r.config, nil
	}

	path := cmd.String("config")
	config, err := shared.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s not found, run 'cmdarr setup' first", shared.ErrMissingConfig, path)
	}
	if err != nil {
		return nil, err
	}

	if lvl, err := shared.ParseLogLevel(config.Log.Level); err == nil {
		shared.SetLogLevel(r.logger, lvl)
	} else {
		r.logger.Warn("ignoring log level", "error", err)
	}
	r.config = config
	return config, nil
}

// openApp initialises the full process context, taking the instance lock.
func (r *Runner) openApp(ctx context.Context, cmd *cli.Command, progress chan<- tasks.ProgressUpdate) (*app.App, error) {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a := app.New(config, r.logger, app.Options{
		SeedPath: cmd.String("seed"),
		Registry: r.registry,
		Progress: progress,
	})
	if err := a.Init(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// closeApp shuts a down within the configured grace period.
func (r *Runner) closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Executor.ShutdownGrace)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		r.logger.Warn("shutdown incomplete", "error", err)
	}
}

// openDatabase opens and migrates the database without taking the instance
// lock, for commands that only read or edit definitions.
func (r *Runner) openDatabase(cmd *cli.Command) (*sql.DB, *shared.Config, error) {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, config, nil
}

func (r *Runner) writeJSON(data any) error {
	output, err := shared.MarshalJSON(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeTable(table string) error {
	return r.writePlain("%s\n", table)
}
