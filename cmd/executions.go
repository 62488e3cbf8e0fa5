package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cmdarr/internal/app"
	"github.com/desertthunder/cmdarr/internal/formatter"
	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/repositories"
	"github.com/desertthunder/cmdarr/internal/server"
	"github.com/desertthunder/cmdarr/internal/shared"
	"github.com/desertthunder/cmdarr/internal/tasks"
)

// ExecutionsList prints execution history, newest first.
func (r *Runner) ExecutionsList(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	criteria := map[string]any{}
	if limit := int(cmd.Int("limit")); limit > 0 {
		criteria["limit"] = limit
	}
	if id := cmd.String("command"); id != "" {
		criteria["command_id"] = id
	}
	if status := cmd.String("status"); status != "" {
		criteria["status"] = status
	}

	db, _, err := r.openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	execs, err := repositories.NewExecutionRepository(db).List(ctx, criteria)
	if err != nil {
		return err
	}

	switch format {
	case formatter.FormatJSON:
		views := make([]server.ExecutionView, 0, len(execs))
		for _, e := range execs {
			views = append(views, server.ViewOf(e))
		}
		return r.writeJSON(views)
	case formatter.FormatCSV:
		data, err := formatter.ExecutionsCSV(execs)
		if err != nil {
			return err
		}
		return r.writePlain("%s", data)
	}
	if len(execs) == 0 {
		return r.writePlain("No executions recorded.\n")
	}
	return r.writeTable(formatter.ExecutionsTable(execs, r.palette))
}

// ExecutionsRun runs a command in this process and waits for the result.
// When a daemon already holds the instance lock the run is handed to it
// through the status API instead.
func (r *Runner) ExecutionsRun(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("%w: command id", shared.ErrMissingArgument)
	}

	var progress chan tasks.ProgressUpdate
	if cmd.Bool("progress") {
		progress = make(chan tasks.ProgressUpdate, 64)
	}

	a, err := r.openApp(ctx, cmd, progress)
	if errors.Is(err, app.ErrLocked) {
		return r.remoteRun(ctx, id)
	}
	if err != nil {
		return err
	}
	defer r.closeApp(a)

	if err := a.Coordinator.Start(); err != nil {
		return err
	}
	exec, err := a.Coordinator.Enqueue(ctx, id, models.TriggerManual)
	if err != nil {
		return err
	}
	r.logger.Info("execution queued", "command", id, "execution", exec.ID)

	done, printed := make(chan struct{}), make(chan struct{})
	if progress != nil {
		go r.printProgress(progress, done, printed)
	} else {
		close(printed)
	}
	final, err := a.Coordinator.Wait(ctx, exec.ID)
	close(done)
	<-printed
	if err != nil {
		return err
	}
	return r.reportExecution(final)
}

// printProgress writes updates until done is closed, then drains what is
// still buffered and closes printed.
func (r *Runner) printProgress(progress <-chan tasks.ProgressUpdate, done <-chan struct{}, printed chan<- struct{}) {
	defer close(printed)
	for {
		select {
		case <-done:
			for {
				select {
				case update := <-progress:
					r.printUpdate(update)
				default:
					return
				}
			}
		case update := <-progress:
			r.printUpdate(update)
		}
	}
}

func (r *Runner) printUpdate(update tasks.ProgressUpdate) {
	if update.Total > 0 {
		r.writePlain("  [%s %d/%d] %s\n", update.Phase, update.Step, update.Total, update.Message)
	} else {
		r.writePlain("  [%s] %s\n", update.Phase, update.Message)
	}
}

func (r *Runner) reportExecution(e *models.Execution) error {
	status := r.palette.Status(e.Status)
	took := formatter.FormatDuration(e.Duration())
	if e.Status == models.StatusCompleted {
		return r.writePlain("%s %s in %s: %s\n", e.CommandID, status, took, e.Summary)
	}
	r.writePlain("%s %s after %s: %s\n", e.CommandID, status, took, e.ErrorMessage)
	return fmt.Errorf("execution %s %s: %s", e.ID, e.Status, e.ErrorMessage)
}

// ExecutionsCancel cancels an execution through the running daemon, or
// directly in the store when no daemon is running.
func (r *Runner) ExecutionsCancel(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("%w: execution id", shared.ErrMissingArgument)
	}

	a, err := r.openApp(ctx, cmd, nil)
	if errors.Is(err, app.ErrLocked) {
		if err := r.remoteCancel(ctx, id); err != nil {
			return err
		}
		return r.writePlain("✓ cancellation of %s requested\n", id)
	}
	if err != nil {
		return err
	}
	defer r.closeApp(a)

	if err := a.Coordinator.Cancel(ctx, id); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	final, err := a.Coordinator.Wait(waitCtx, id)
	if err != nil {
		return err
	}
	return r.writePlain("✓ %s %s\n", id, final.Status)
}

// ExecutionsRecover settles executions left running by a crashed process and
// times out executions running longer than executor.stuck_after.
func (r *Runner) ExecutionsRecover(ctx context.Context, cmd *cli.Command) error {
	a, err := r.openApp(ctx, cmd, nil)
	if errors.Is(err, app.ErrLocked) {
		return fmt.Errorf("%w: the daemon recovers executions on start", err)
	}
	if err != nil {
		return err
	}
	defer r.closeApp(a)

	stuck, err := a.Coordinator.CleanupStuck(ctx, time.Now())
	if err != nil {
		return err
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("%d interrupted", a.Recovered))
	parts = append(parts, fmt.Sprintf("%d stuck", stuck))
	if pending := a.Coordinator.Pending(); pending > 0 {
		parts = append(parts, fmt.Sprintf("%d pending kept for the next start", pending))
	}
	return r.writePlain("✓ recovered executions: %s\n", strings.Join(parts, ", "))
}
