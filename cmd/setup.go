package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cmdarr/internal/repositories"
	"github.com/desertthunder/cmdarr/internal/shared"
	"github.com/desertthunder/cmdarr/internal/tasks"
)

// Setup creates the config file when missing, migrates the database and
// imports the seed file when one exists.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if r.config == nil {
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			r.logger.Info("config file not found, creating from template", "path", configPath)
			if err := shared.CreateConfigFile(configPath); err != nil {
				return err
			}
			r.writePlain("✓ Created %s, add your service credentials before running 'cmdarr serve'\n", configPath)
		}
	}

	db, config, err := r.openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	r.logger.Info("database migrated", "path", config.Database.Path)

	imported := 0
	if seedPath := cmd.String("seed"); seedPath != "" {
		defs, err := repositories.LoadCommandSeeds(seedPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			r.logger.Debug("no seed file", "path", seedPath)
		case err != nil:
			return err
		default:
			if imported, err = repositories.ImportSeeds(ctx, repositories.NewCommandRepository(db), defs); err != nil {
				return fmt.Errorf("failed to import seeds: %w", err)
			}
		}
	}

	r.writePlain("✓ Database ready at %s\n", config.Database.Path)
	if imported > 0 {
		r.writePlain("✓ Imported %d command definitions\n", imported)
	}
	return nil
}

// Serve runs the daemon until SIGINT or SIGTERM.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := make(chan tasks.ProgressUpdate, 64)
	a, err := r.openApp(ctx, cmd, progress)
	if err != nil {
		return err
	}
	defer r.closeApp(a)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-progress:
				r.logger.Debug("sync progress", "phase", update.Phase, "step", update.Step, "total", update.Total, "message", update.Message)
			}
		}
	}()

	if err := a.Start(ctx); err != nil {
		return err
	}
	r.logger.Info("cmdarr running", "targets", a.Registry.TargetNames(), "sources", a.Registry.SourceNames(), "max_parallel", a.Config.Executor.MaxParallel)

	<-ctx.Done()
	r.logger.Info("shutting down", "grace", a.Config.Executor.ShutdownGrace)
	return nil
}
