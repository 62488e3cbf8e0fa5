package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cmdarr/internal/formatter"
	"github.com/desertthunder/cmdarr/internal/schedule"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// CronNext prints the next due times of an expression. It needs no config
// file; the timezone falls back to the configured scheduler timezone, then UTC.
func (r *Runner) CronNext(ctx context.Context, cmd *cli.Command) error {
	expr := cmd.Args().First()
	if expr == "" {
		return fmt.Errorf("%w: cron expression", shared.ErrMissingArgument)
	}
	count := int(cmd.Int("count"))
	if count < 1 {
		return fmt.Errorf("%w: --count must be at least 1", shared.ErrInvalidArgument)
	}

	tz := cmd.String("tz")
	if tz == "" {
		tz = "UTC"
		if config, err := r.loadConfig(cmd); err == nil {
			tz = config.Scheduler.Timezone
		}
	}

	times, err := nextRuns(expr, tz, time.Now(), count)
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidArgument, err)
	}
	return r.writeTable(formatter.NextRunsTable(expr, times))
}

func nextRuns(expr, tz string, after time.Time, count int) ([]time.Time, error) {
	times := make([]time.Time, 0, count)
	for range count {
		next, err := schedule.NextRun(expr, tz, after)
		if err != nil {
			return nil, err
		}
		times = append(times, next)
		after = next
	}
	return times, nil
}
