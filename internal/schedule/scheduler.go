// Package schedule decides when commands run.
//
// The cron helpers are pure functions of (expression, timezone, instant). The
// [Scheduler] ticks on a fixed interval and enqueues every enabled command whose
// cron crossed a boundary since the previous tick, maintenance first, then in
// ascending command id order.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cmdarr/internal/metrics"
	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// Definitions lists enabled commands in ascending id order.
type Definitions interface {
	Enabled(ctx context.Context) ([]*models.CommandDefinition, error)
}

// History answers questions about past executions.
type History interface {
	LastCompleted(ctx context.Context, commandID string) (*models.Execution, error)
	HasActive(ctx context.Context, commandID string) (bool, error)
}

// Enqueuer accepts work. It returns [shared.ErrAlreadyActive] when the command already has a non-terminal execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, commandID, triggeredBy string) (*models.Execution, error)
}

// StateStore persists the last evaluation instant.
type StateStore interface {
	LastTick(ctx context.Context) (time.Time, error)
	SetLastTick(ctx context.Context, t time.Time) error
}

// Config holds the scheduler settings.
type Config struct {
	DefaultCron        string
	Timezone           string
	CheckInterval      time.Duration
	MaintenanceCommand string
	MaintenanceWindow  time.Duration
}

// Scheduler evaluates command schedules on an interval.
type Scheduler struct {
	defs    Definitions
	history History
	queue   Enqueuer
	state   StateStore
	logger  *log.Logger
	metrics *metrics.Collector
	cfg     Config
	clock   models.Clock

	mu       sync.Mutex
	lastTick time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Scheduler. state and m may be nil.
func New(defs Definitions, history History, queue Enqueuer, state StateStore, logger *log.Logger, m *metrics.Collector, cfg Config) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.MaintenanceWindow <= 0 {
		cfg.MaintenanceWindow = 24 * time.Hour
	}
	if _, err := ResolveLocation(cfg.Timezone); err != nil {
		logger.Warn("scheduler timezone not recognised", "error", err)
	}
	return &Scheduler{
		defs:    defs,
		history: history,
		queue:   queue,
		state:   state,
		logger:  shared.WithLogger(logger, "component", "scheduler"),
		metrics: m,
		cfg:     cfg,
		clock:   time.Now,
	}
}

// Tick evaluates every enabled command at now and returns the ids of the commands it enqueued.
// Errors for one command are logged and never stop the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.SchedulerTick()

	since := s.since(ctx, now)
	var enqueued []string

	defs, err := s.defs.Enabled(ctx)
	if err != nil {
		return enqueued, err
	}

	maintenanceQueued := false
	if id := s.cfg.MaintenanceCommand; id != "" {
		switch {
		case !containsCommand(defs, id):
			s.logger.Debug("maintenance command disabled or undefined", "command", id)
		case s.maintenanceOverdue(ctx, id, now):
			if s.enqueue(ctx, id, models.TriggerMaintenance) {
				enqueued = append(enqueued, id)
				maintenanceQueued = true
			}
		}
	}

	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return enqueued, err
		}
		if def.ID == s.cfg.MaintenanceCommand && maintenanceQueued {
			continue
		}

		expr := def.EffectiveCron(s.cfg.DefaultCron)
		tz := def.Timezone
		if tz == "" {
			tz = s.cfg.Timezone
		}
		if _, err := ResolveLocation(tz); err != nil {
			s.logger.Warn("command timezone not recognised, evaluating in UTC", "command", def.ID, "timezone", tz, "error", err)
		}

		due, boundary, err := Crossed(expr, tz, since, now)
		if err != nil {
			s.logger.Error("skipping command with invalid schedule", "command", def.ID, "cron", expr, "error", err)
			continue
		}
		if !due {
			continue
		}

		active, err := s.history.HasActive(ctx, def.ID)
		if err != nil {
			s.logger.Error("failed to check active executions", "command", def.ID, "error", err)
			continue
		}
		if active {
			s.logger.Debug("command still active, skipping boundary", "command", def.ID, "boundary", boundary)
			continue
		}

		if s.enqueue(ctx, def.ID, models.TriggerScheduler) {
			enqueued = append(enqueued, def.ID)
		}
	}

	s.lastTick = now
	if s.state != nil {
		if err := s.state.SetLastTick(ctx, now); err != nil {
			s.logger.Warn("failed to persist last tick", "error", err)
		}
	}
	return enqueued, nil
}

// since returns the lower bound of the evaluation window.
func (s *Scheduler) since(ctx context.Context, now time.Time) time.Time {
	since := s.lastTick
	if since.IsZero() && s.state != nil {
		stored, err := s.state.LastTick(ctx)
		if err != nil {
			s.logger.Warn("failed to load last tick", "error", err)
		}
		since = stored
	}
	if since.IsZero() || since.After(now) {
		since = now.Add(-s.cfg.CheckInterval)
	}
	return since
}

func containsCommand(defs []*models.CommandDefinition, id string) bool {
	for _, def := range defs {
		if def.ID == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) maintenanceOverdue(ctx context.Context, id string, now time.Time) bool {
	last, err := s.history.LastCompleted(ctx, id)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return true
	case err != nil:
		s.logger.Error("failed to load maintenance history", "command", id, "error", err)
		return false
	case last.CompletedAt == nil:
		return true
	default:
		return now.Sub(*last.CompletedAt) > s.cfg.MaintenanceWindow
	}
}

func (s *Scheduler) enqueue(ctx context.Context, id, trigger string) bool {
	exec, err := s.queue.Enqueue(ctx, id, trigger)
	switch {
	case errors.Is(err, shared.ErrAlreadyActive):
		s.logger.Debug("command already active", "command", id)
		return false
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrCommandDisabled):
		s.logger.Debug("command not runnable", "command", id, "error", err)
		return false
	case err != nil:
		s.logger.Error("failed to enqueue command", "command", id, "trigger", trigger, "error", err)
		return false
	}
	s.logger.Info("command enqueued", "command", id, "trigger", trigger, "execution", exec.ID)
	return true
}

// Start runs Tick every CheckInterval until Stop or ctx ends. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	s.logger.Info("scheduler started", "interval", s.cfg.CheckInterval, "timezone", s.cfg.Timezone, "default_cron", s.cfg.DefaultCron)
}

// Stop halts the timer and waits for an in-progress tick to return.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx, s.clock()); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
