package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/cmdarr/internal/shared"
)

// ExecutionStatus is a state in the execution lifecycle.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusTimeout   ExecutionStatus = "timeout"
	StatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle permits moving from s to next.
//
//	pending -> running | cancelled
//	running -> completed | failed | timeout | cancelled
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// Values the TriggeredBy field takes.
const (
	TriggerScheduler    = "scheduler"
	TriggerMaintenance  = "maintenance"
	TriggerManual       = "manual"
	TriggerAPI          = "api"
	TriggerRestartRetry = "restart_retry"
)

// Execution is one run of a command.
type Execution struct {
	ID           string
	Sequence     int64
	CommandID    string
	Status       ExecutionStatus
	TriggeredBy  string
	ErrorKind    shared.ErrorKind
	ErrorMessage string
	Summary      string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// NewExecution returns a pending execution for commandID.
func NewExecution(commandID, triggeredBy string, now time.Time) *Execution {
	return &Execution{
		ID:          shared.GenerateID(),
		CommandID:   commandID,
		Status:      StatusPending,
		TriggeredBy: triggeredBy,
		CreatedAt:   now,
	}
}

// Transition moves the execution to next, stamping start and completion times.
func (e *Execution) Transition(next ExecutionStatus, now time.Time) error {
	if !e.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (execution %s)", shared.ErrInvalidTransition, e.Status, next, e.ID)
	}
	e.Status = next
	if next == StatusRunning {
		e.StartedAt = &now
	}
	if next.IsTerminal() {
		e.CompletedAt = &now
	}
	return nil
}

// Finish records the outcome of a running execution. A nil error completes it.
func (e *Execution) Finish(next ExecutionStatus, err error, now time.Time) error {
	if err := e.Transition(next, now); err != nil {
		return err
	}
	if err != nil {
		e.ErrorKind = shared.KindOf(err)
		e.ErrorMessage = err.Error()
	}
	return nil
}

// Duration returns how long the execution ran, or zero when it never started.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil {
		return 0
	}
	if e.CompletedAt == nil {
		return time.Since(*e.StartedAt)
	}
	return e.CompletedAt.Sub(*e.StartedAt)
}

func (e *Execution) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: execution id is required", shared.ErrInvalidInput)
	case e.CommandID == "":
		return fmt.Errorf("%w: execution %s has no command", shared.ErrInvalidInput, e.ID)
	case e.Status == "":
		return fmt.Errorf("%w: execution %s has no status", shared.ErrInvalidInput, e.ID)
	}
	return nil
}
