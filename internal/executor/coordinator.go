// Package executor runs command executions with bounded parallelism.
//
// The [Coordinator] owns the ordered pending queue and the running set. At most
// MaxParallel executions run at once and each command has at most one
// non-terminal execution. Every status change goes through
// [models.Execution.Transition] and is persisted before waiters are released.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cmdarr/internal/metrics"
	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// Store persists executions.
type Store interface {
	Create(ctx context.Context, exec *models.Execution) error
	Update(ctx context.Context, exec *models.Execution) error
	Get(ctx context.Context, id string) (*models.Execution, error)
	ListByStatus(ctx context.Context, statuses ...models.ExecutionStatus) ([]*models.Execution, error)
}

// Definitions resolves command definitions by id.
type Definitions interface {
	Get(ctx context.Context, id string) (*models.CommandDefinition, error)
}

// Runner performs the work of one execution and returns a short summary.
// It must return promptly once ctx is done.
type Runner interface {
	Run(ctx context.Context, def *models.CommandDefinition, exec *models.Execution) (string, error)
}

// RunnerFunc adapts a function to [Runner].
type RunnerFunc func(ctx context.Context, def *models.CommandDefinition, exec *models.Execution) (string, error)

func (f RunnerFunc) Run(ctx context.Context, def *models.CommandDefinition, exec *models.Execution) (string, error) {
	return f(ctx, def, exec)
}

// Options configure a [Coordinator].
type Options struct {
	MaxParallel    int
	DefaultTimeout time.Duration
	RestartRetry   bool
	RetryDelay     time.Duration
	ShutdownGrace  time.Duration
	StuckAfter     time.Duration
	Clock          models.Clock
	Metrics        *metrics.Collector
}

// OptionsFromConfig maps the [executor] config section onto Options.
func OptionsFromConfig(cfg shared.ExecutorConfig, m *metrics.Collector) Options {
	return Options{
		MaxParallel:    cfg.MaxParallel,
		DefaultTimeout: cfg.DefaultTimeout,
		RestartRetry:   cfg.RestartRetry,
		RetryDelay:     cfg.RetryDelay,
		ShutdownGrace:  cfg.ShutdownGrace,
		StuckAfter:     cfg.StuckAfter,
		Metrics:        m,
	}
}

type task struct {
	exec    *models.Execution
	def     *models.CommandDefinition
	timeout time.Duration
	cancel  context.CancelFunc

	cancelRequested bool
	stuck           bool
}

// Status is a point-in-time view of the queue.
type Status struct {
	MaxParallel int                 `json:"max_parallel"`
	Running     []*models.Execution `json:"running"`
	Pending     []*models.Execution `json:"pending"`
}

// Coordinator dispatches pending executions onto at most MaxParallel workers.
type Coordinator struct {
	store   Store
	defs    Definitions
	runner  Runner
	logger  *log.Logger
	metrics *metrics.Collector
	opts    Options

	mu      sync.Mutex
	pending []*task
	running map[string]*task
	active  map[string]string
	done    map[string]chan struct{}
	started bool
	closing bool
	forced  bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closed     chan struct{}
	tasks      sync.WaitGroup
	timers     sync.WaitGroup
}

// New creates a Coordinator. Nothing is dispatched until [Coordinator.Start].
func New(store Store, defs Definitions, runner Runner, logger *log.Logger, opts Options) *Coordinator {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Minute
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 300 * time.Second
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = 2 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:      store,
		defs:       defs,
		runner:     runner,
		logger:     shared.WithLogger(logger, "component", "executor"),
		metrics:    opts.Metrics,
		opts:       opts,
		running:    make(map[string]*task),
		active:     make(map[string]string),
		done:       make(map[string]chan struct{}),
		baseCtx:    ctx,
		baseCancel: cancel,
		closed:     make(chan struct{}),
	}
}

// Start begins dispatching queued executions.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return shared.ErrShuttingDown
	}
	if c.started {
		return nil
	}
	c.started = true
	c.logger.Info("coordinator started", "max_parallel", c.opts.MaxParallel)
	c.dispatchLocked()
	return nil
}

// Enqueue records a pending execution for commandID. It returns
// [shared.ErrAlreadyActive] when the command already has a pending or running
// execution; the request is dropped. Scheduler triggers for disabled commands
// return [shared.ErrCommandDisabled].
func (c *Coordinator) Enqueue(ctx context.Context, commandID, triggeredBy string) (*models.Execution, error) {
	def, err := c.defs.Get(ctx, commandID)
	if err != nil {
		return nil, fmt.Errorf("failed to load command %s: %w", commandID, err)
	}
	if !def.Enabled && triggeredBy == models.TriggerScheduler {
		return nil, fmt.Errorf("%w: %s", shared.ErrCommandDisabled, commandID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		c.metrics.ExecutionDropped(triggeredBy)
		return nil, shared.ErrShuttingDown
	}
	if id, ok := c.active[commandID]; ok {
		c.metrics.ExecutionDropped(triggeredBy)
		c.logger.Debug("dropping duplicate request", "command", commandID, "active", id, "trigger", triggeredBy)
		return nil, fmt.Errorf("%w: %s (execution %s)", shared.ErrAlreadyActive, commandID, id)
	}

	exec := models.NewExecution(commandID, triggeredBy, c.opts.Clock())
	if err := c.store.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to record execution: %w", err)
	}

	c.queueLocked(&task{exec: exec, def: def})
	c.metrics.ExecutionEnqueued(triggeredBy)
	c.logger.Info("execution queued", "command", commandID, "execution", exec.ID, "trigger", triggeredBy)

	out := *exec
	c.dispatchLocked()
	return &out, nil
}

func (c *Coordinator) queueLocked(t *task) {
	c.pending = append(c.pending, t)
	c.active[t.exec.CommandID] = t.exec.ID
	c.done[t.exec.ID] = make(chan struct{})
}

// dispatchLocked starts pending tasks in queue order while capacity remains.
func (c *Coordinator) dispatchLocked() {
	defer c.reportDepthLocked()
	if !c.started || c.closing {
		return
	}
	for len(c.running) < c.opts.MaxParallel && len(c.pending) > 0 {
		t := c.pending[0]
		c.pending = c.pending[1:]
		c.startLocked(t)
	}
}

func (c *Coordinator) startLocked(t *task) {
	if err := t.exec.Transition(models.StatusRunning, c.opts.Clock()); err != nil {
		c.logger.Error("cannot start execution", "execution", t.exec.ID, "error", err)
		c.releaseLocked(t.exec)
		return
	}
	if err := c.store.Update(context.Background(), t.exec); err != nil {
		c.logger.Error("failed to persist running status", "execution", t.exec.ID, "error", err)
	}

	t.timeout = t.def.EffectiveTimeout(c.opts.DefaultTimeout)
	ctx, cancel := context.WithTimeout(c.baseCtx, t.timeout)
	t.cancel = cancel
	c.running[t.exec.ID] = t

	c.logger.Info("execution started", "command", t.exec.CommandID, "execution", t.exec.ID, "timeout", t.timeout)
	c.tasks.Add(1)
	go c.execute(ctx, t)
}

type outcome struct {
	summary string
	err     error
}

func (c *Coordinator) execute(ctx context.Context, t *task) {
	defer c.tasks.Done()
	defer t.cancel()

	exec := *t.exec
	results := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- outcome{err: fmt.Errorf("command panicked: %v", r)}
			}
		}()
		summary, err := c.runner.Run(ctx, t.def, &exec)
		results <- outcome{summary: summary, err: err}
	}()

	var (
		res    outcome
		ctxErr error
	)
	select {
	case res = <-results:
		if res.err != nil {
			ctxErr = ctx.Err()
		}
	case <-ctx.Done():
		// The runner may still be finishing side effects in the background.
		ctxErr = ctx.Err()
		res = outcome{err: ctxErr}
	}
	c.finish(t, res, ctxErr)
}

// finish records the terminal status of a running task and frees its slot.
// ctxErr is the task context's error when the context ended the run.
func (c *Coordinator) finish(t *task, res outcome, ctxErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.running, t.exec.ID)

	if c.forced && !t.cancelRequested && ctxErr != nil {
		c.logger.Warn("execution abandoned at shutdown", "command", t.exec.CommandID, "execution", t.exec.ID)
		c.releaseLocked(t.exec)
		return
	}

	status, err := models.StatusCompleted, res.err
	switch {
	case t.cancelRequested && ctxErr != nil:
		status, err = models.StatusCancelled, fmt.Errorf("%w: cancelled by request", shared.ErrCancelled)
	case t.stuck && ctxErr != nil:
		status, err = models.StatusTimeout, fmt.Errorf("%w: running longer than %s", shared.ErrTimeout, c.opts.StuckAfter)
	case errors.Is(ctxErr, context.DeadlineExceeded) || errors.Is(res.err, context.DeadlineExceeded):
		status, err = models.StatusTimeout, fmt.Errorf("%w: exceeded %s", shared.ErrTimeout, t.timeout)
	case res.err != nil:
		status = models.StatusFailed
	}

	t.exec.Summary = res.summary
	if ferr := t.exec.Finish(status, err, c.opts.Clock()); ferr != nil {
		c.logger.Error("invalid completion", "execution", t.exec.ID, "error", ferr)
	}
	if uerr := c.store.Update(context.Background(), t.exec); uerr != nil {
		c.logger.Error("failed to persist execution result", "execution", t.exec.ID, "error", uerr)
	}

	c.metrics.ExecutionFinished(string(t.def.Kind), string(status), t.exec.Duration())
	if err != nil {
		c.logger.Warn("execution finished", "command", t.exec.CommandID, "execution", t.exec.ID,
			"status", status, "kind", t.exec.ErrorKind, "error", err)
	} else {
		c.logger.Info("execution finished", "command", t.exec.CommandID, "execution", t.exec.ID,
			"status", status, "duration", t.exec.Duration().Round(time.Millisecond))
	}

	c.releaseLocked(t.exec)
	c.dispatchLocked()
}

// releaseLocked drops the command's active marker and wakes waiters.
func (c *Coordinator) releaseLocked(exec *models.Execution) {
	if c.active[exec.CommandID] == exec.ID {
		delete(c.active, exec.CommandID)
	}
	if ch, ok := c.done[exec.ID]; ok {
		close(ch)
		delete(c.done, exec.ID)
	}
}

// Cancel stops an execution. Pending executions are cancelled at once. Running
// executions are signalled and become cancelled once the task observes it.
func (c *Coordinator) Cancel(ctx context.Context, executionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.running[executionID]; ok {
		t.cancelRequested = true
		t.cancel()
		c.logger.Info("cancellation requested", "execution", executionID)
		return nil
	}

	for i, t := range c.pending {
		if t.exec.ID != executionID {
			continue
		}
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		err := fmt.Errorf("%w: cancelled before start", shared.ErrCancelled)
		if ferr := t.exec.Finish(models.StatusCancelled, err, c.opts.Clock()); ferr != nil {
			return ferr
		}
		if uerr := c.store.Update(ctx, t.exec); uerr != nil {
			return fmt.Errorf("failed to persist cancellation: %w", uerr)
		}
		c.metrics.ExecutionFinished(string(t.def.Kind), string(models.StatusCancelled), 0)
		c.releaseLocked(t.exec)
		c.reportDepthLocked()
		c.logger.Info("pending execution cancelled", "execution", executionID)
		return nil
	}

	// Not owned by this process: settle the stored record directly.
	exec, err := c.store.Get(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return fmt.Errorf("%w: execution %s is already %s", shared.ErrInvalidTransition, exec.ID, exec.Status)
	}
	if err := exec.Finish(models.StatusCancelled, fmt.Errorf("%w: cancelled by request", shared.ErrCancelled), c.opts.Clock()); err != nil {
		return err
	}
	return c.store.Update(ctx, exec)
}

// Wait blocks until the execution reaches a terminal status or ctx is done,
// then returns the stored record.
func (c *Coordinator) Wait(ctx context.Context, executionID string) (*models.Execution, error) {
	c.mu.Lock()
	ch := c.done[executionID]
	c.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.store.Get(ctx, executionID)
}

// Recover settles executions left behind by a previous process. Running ones
// are marked failed and, with RestartRetry, re-enqueued after RetryDelay.
// Library cache builds are not retried. Pending ones rejoin the queue in
// sequence order. It returns the number of interrupted executions.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	interrupted, err := c.store.ListByStatus(ctx, models.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list interrupted executions: %w", err)
	}

	var retry []string
	for _, exec := range interrupted {
		c.mu.Lock()
		_, owned := c.running[exec.ID]
		c.mu.Unlock()
		if owned {
			continue
		}

		if err := exec.Finish(models.StatusFailed, errors.New("interrupted by restart"), c.opts.Clock()); err != nil {
			c.logger.Error("cannot settle interrupted execution", "execution", exec.ID, "error", err)
			continue
		}
		if err := c.store.Update(ctx, exec); err != nil {
			return 0, fmt.Errorf("failed to mark execution %s failed: %w", exec.ID, err)
		}
		c.logger.Warn("execution interrupted by restart", "command", exec.CommandID, "execution", exec.ID)

		if !c.opts.RestartRetry {
			continue
		}
		def, err := c.defs.Get(ctx, exec.CommandID)
		if err != nil {
			c.logger.Warn("not retrying execution of unknown command", "command", exec.CommandID, "error", err)
			continue
		}
		if def.Kind == models.KindLibraryCacheBuild || !def.Enabled {
			continue
		}
		retry = append(retry, exec.CommandID)
	}

	if err := c.adoptPending(ctx); err != nil {
		return len(interrupted), err
	}

	for _, id := range retry {
		c.scheduleRetry(id)
	}
	return len(interrupted), nil
}

func (c *Coordinator) adoptPending(ctx context.Context) error {
	pending, err := c.store.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to list pending executions: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, exec := range pending {
		if _, ok := c.done[exec.ID]; ok {
			continue
		}
		def, err := c.defs.Get(ctx, exec.CommandID)
		if err == nil {
			if _, dup := c.active[exec.CommandID]; !dup {
				c.queueLocked(&task{exec: exec, def: def})
				c.logger.Info("pending execution re-queued", "command", exec.CommandID, "execution", exec.ID)
				continue
			}
			err = fmt.Errorf("%w: %s", shared.ErrAlreadyActive, exec.CommandID)
		}
		if ferr := exec.Finish(models.StatusCancelled, err, c.opts.Clock()); ferr == nil {
			if uerr := c.store.Update(ctx, exec); uerr != nil {
				c.logger.Error("failed to settle orphaned execution", "execution", exec.ID, "error", uerr)
			}
		}
	}
	c.dispatchLocked()
	return nil
}

func (c *Coordinator) scheduleRetry(commandID string) {
	retry := func() {
		if _, err := c.Enqueue(context.Background(), commandID, models.TriggerRestartRetry); err != nil {
			c.logger.Warn("restart retry not queued", "command", commandID, "error", err)
		}
	}
	if c.opts.RetryDelay <= 0 {
		retry()
		return
	}

	c.timers.Add(1)
	go func() {
		defer c.timers.Done()
		timer := time.NewTimer(c.opts.RetryDelay)
		defer timer.Stop()
		select {
		case <-c.closed:
		case <-timer.C:
			retry()
		}
	}()
}

// CleanupStuck marks executions running longer than StuckAfter as timed out.
// Tasks owned by this process are cancelled and settle themselves.
func (c *Coordinator) CleanupStuck(ctx context.Context, now time.Time) (int, error) {
	running, err := c.store.ListByStatus(ctx, models.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list running executions: %w", err)
	}

	count := 0
	for _, exec := range running {
		if exec.StartedAt == nil || now.Sub(*exec.StartedAt) < c.opts.StuckAfter {
			continue
		}
		count++

		c.mu.Lock()
		t, owned := c.running[exec.ID]
		if owned {
			t.stuck = true
			t.cancel()
		}
		c.mu.Unlock()
		if owned {
			continue
		}

		err := fmt.Errorf("%w: running longer than %s", shared.ErrTimeout, c.opts.StuckAfter)
		if ferr := exec.Finish(models.StatusTimeout, err, now); ferr != nil {
			continue
		}
		if uerr := c.store.Update(ctx, exec); uerr != nil {
			return count, fmt.Errorf("failed to mark execution %s timed out: %w", exec.ID, uerr)
		}
	}
	if count > 0 {
		c.logger.Warn("stuck executions timed out", "count", count)
	}
	return count, nil
}

// Shutdown stops dequeuing and waits up to ShutdownGrace for running tasks.
// Tasks still running after the grace period are cancelled and their records
// left running so the next start reports them as interrupted. Pending
// executions stay queued in the store.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	close(c.closed)
	inFlight := len(c.running)
	c.mu.Unlock()

	c.timers.Wait()
	c.logger.Info("coordinator draining", "running", inFlight, "grace", c.opts.ShutdownGrace)

	drained := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(drained)
	}()

	grace := time.NewTimer(c.opts.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-drained:
		c.baseCancel()
		return nil
	case <-ctx.Done():
	case <-grace.C:
	}

	c.mu.Lock()
	c.forced = true
	c.mu.Unlock()
	c.baseCancel()
	c.logger.Warn("grace period over, cancelling running executions")

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns copies of the running and pending executions, pending in queue order.
func (c *Coordinator) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{MaxParallel: c.opts.MaxParallel}
	for _, t := range c.running {
		e := *t.exec
		st.Running = append(st.Running, &e)
	}
	for _, t := range c.pending {
		e := *t.exec
		st.Pending = append(st.Pending, &e)
	}
	return st
}

func (c *Coordinator) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) reportDepthLocked() {
	c.metrics.QueueDepth(len(c.pending), len(c.running))
}
