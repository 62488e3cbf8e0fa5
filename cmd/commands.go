package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cmdarr/internal/formatter"
	"github.com/desertthunder/cmdarr/internal/repositories"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// CommandsList prints every definition with its effective schedule.
func (r *Runner) CommandsList(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	db, config, err := r.openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	criteria := map[string]any{}
	if kind := cmd.String("kind"); kind != "" {
		criteria["kind"] = kind
	}
	defs, err := repositories.NewCommandRepository(db).List(ctx, criteria)
	if err != nil {
		return err
	}

	views := formatter.Commands(defs, config.Scheduler.DefaultCron, config.Scheduler.Timezone, time.Now())
	switch format {
	case formatter.FormatJSON:
		return r.writeJSON(views)
	case formatter.FormatCSV:
		return fmt.Errorf("%w: commands list does not support csv", shared.ErrInvalidArgument)
	}
	if len(views) == 0 {
		return r.writePlain("No commands defined. Import some with 'cmdarr commands import <file>'.\n")
	}
	return r.writeTable(formatter.CommandsTable(views, r.palette))
}

// CommandsImport upserts the definitions in a YAML seed file.
func (r *Runner) CommandsImport(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("%w: seed file path", shared.ErrMissingArgument)
	}

	defs, err := repositories.LoadCommandSeeds(path)
	if err != nil {
		return err
	}

	db, _, err := r.openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := repositories.ImportSeeds(ctx, repositories.NewCommandRepository(db), defs)
	if err != nil {
		return fmt.Errorf("imported %d of %d definitions: %w", n, len(defs), err)
	}
	return r.writePlain("✓ Imported %d command definitions from %s\n", n, path)
}

// CommandsEnable turns scheduling back on for a command.
func (r *Runner) CommandsEnable(ctx context.Context, cmd *cli.Command) error {
	return r.setEnabled(ctx, cmd, true)
}

// CommandsDisable stops the scheduler from enqueuing a command.
// Manual and API runs are still accepted.
func (r *Runner) CommandsDisable(ctx context.Context, cmd *cli.Command) error {
	return r.setEnabled(ctx, cmd, false)
}

func (r *Runner) setEnabled(ctx context.Context, cmd *cli.Command, enabled bool) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("%w: command id", shared.ErrMissingArgument)
	}

	db, _, err := r.openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repositories.NewCommandRepository(db).SetEnabled(ctx, id, enabled); err != nil {
		return err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return r.writePlain("✓ %s %s\n", id, state)
}
