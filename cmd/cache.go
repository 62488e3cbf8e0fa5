package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cmdarr/internal/formatter"
	"github.com/desertthunder/cmdarr/internal/library"
	"github.com/desertthunder/cmdarr/internal/repositories"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// CacheBuild builds library snapshots for the given targets, or every configured one.
func (r *Runner) CacheBuild(ctx context.Context, cmd *cli.Command) error {
	a, err := r.openApp(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer r.closeApp(a)

	names := cmd.StringSlice("target")
	if len(names) == 0 {
		names = a.Registry.TargetNames()
	}
	if len(names) == 0 {
		return fmt.Errorf("%w: no media server targets are configured", shared.ErrMissingConfig)
	}

	force := cmd.Bool("force")
	var errs []error
	for _, name := range names {
		target, err := a.Registry.Target(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !force && !a.Library.IsStale(ctx, target.Name(), time.Now()) {
			r.writePlain("  %s: %s\n", target.Name(), r.palette.Muted("fresh, skipped"))
			continue
		}

		r.writePlain("  %s: fetching library...\n", target.Name())
		snap, err := a.Library.Build(ctx, target.Name(), target)
		switch {
		case errors.Is(err, shared.ErrCacheUnavailable):
			r.writePlain("  %s: %s\n", target.Name(), r.palette.Warn(err.Error()))
		case err != nil:
			r.writePlain("  %s: %s\n", target.Name(), r.palette.Err(err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", target.Name(), err))
		default:
			r.writePlain("  %s: %s\n", target.Name(), r.palette.OK(fmt.Sprintf("%d tracks indexed", snap.Len())))
		}
	}
	return errors.Join(errs...)
}

// CacheStatus prints the stored snapshots.
func (r *Runner) CacheStatus(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	db, config, err := r.openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	manager := library.NewManager(repositories.NewSnapshotRepository(db), r.logger, library.Options{TTL: config.Library.TTL})
	statuses, err := manager.Status(ctx)
	if err != nil {
		return err
	}

	switch format {
	case formatter.FormatJSON:
		return r.writeJSON(statuses)
	case formatter.FormatCSV:
		return fmt.Errorf("%w: cache status does not support csv", shared.ErrInvalidArgument)
	}
	if len(statuses) == 0 {
		return r.writePlain("No library snapshots stored. Build them with 'cmdarr cache build'.\n")
	}
	return r.writeTable(formatter.CacheTable(statuses, r.palette))
}

// CacheClear deletes stored snapshots so the next sync falls back to live search.
func (r *Runner) CacheClear(ctx context.Context, cmd *cli.Command) error {
	a, err := r.openApp(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer r.closeApp(a)

	names := cmd.StringSlice("target")
	if len(names) == 0 {
		statuses, err := a.Library.Status(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			names = append(names, st.TargetID)
		}
	}

	for _, name := range names {
		if err := a.Library.Invalidate(ctx, name); err != nil {
			return fmt.Errorf("clear %s: %w", name, err)
		}
	}
	return r.writePlain("✓ cleared %d snapshots\n", len(names))
}
