package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cmdarr/internal/executor"
	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

const defaultListLimit = 50

// ExecutionLister reads execution history, newest first.
type ExecutionLister interface {
	List(ctx context.Context, criteria map[string]any) ([]*models.Execution, error)
}

// Coordinator is the part of the execution coordinator the API drives.
type Coordinator interface {
	Enqueue(ctx context.Context, commandID, triggeredBy string) (*models.Execution, error)
	Cancel(ctx context.Context, executionID string) error
	Snapshot() executor.Status
}

// API serves health, metrics and execution control endpoints.
type API struct {
	executions  ExecutionLister
	coordinator Coordinator
	metrics     http.Handler
	logger      *log.Logger
}

// NewAPI creates the API. A nil metrics handler leaves /metrics unregistered.
func NewAPI(executions ExecutionLister, coordinator Coordinator, metrics http.Handler, logger *log.Logger) *API {
	return &API{
		executions:  executions,
		coordinator: coordinator,
		metrics:     metrics,
		logger:      shared.WithLogger(logger, "component", "api"),
	}
}

// Register adds every route to r.
func (a *API) Register(r Router) {
	r.Handle(http.MethodGet, "/healthz", http.HandlerFunc(a.health))
	if a.metrics != nil {
		r.Handle(http.MethodGet, "/metrics", a.metrics)
	}
	r.Handle(http.MethodGet, "/api/executions", http.HandlerFunc(a.listExecutions))
	r.Handle(http.MethodPost, "/api/executions/cancel", http.HandlerFunc(a.cancelExecution))
	r.Handle(http.MethodPost, "/api/commands/run", http.HandlerFunc(a.runCommand))
}

// Routes builds a router with logging and panic recovery serving the API.
func (a *API) Routes() *BasicRouter {
	r := NewBasicRouter()
	r.Use(Recover(a.logger), LogRequests(a.logger))
	a.Register(r)
	return r
}

// ExecutionView is the JSON form of an execution.
type ExecutionView struct {
	ID           string     `json:"id"`
	Sequence     int64      `json:"sequence"`
	CommandID    string     `json:"command_id"`
	Status       string     `json:"status"`
	TriggeredBy  string     `json:"triggered_by"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ViewOf converts an execution to its JSON form.
func ViewOf(e *models.Execution) ExecutionView {
	return ExecutionView{
		ID:           e.ID,
		Sequence:     e.Sequence,
		CommandID:    e.CommandID,
		Status:       string(e.Status),
		TriggeredBy:  e.TriggeredBy,
		ErrorKind:    string(e.ErrorKind),
		ErrorMessage: e.ErrorMessage,
		Summary:      e.Summary,
		CreatedAt:    e.CreatedAt,
		StartedAt:    e.StartedAt,
		CompletedAt:  e.CompletedAt,
	}
}

func viewsOf(execs []*models.Execution) []ExecutionView {
	out := make([]ExecutionView, 0, len(execs))
	for _, e := range execs {
		out = append(out, ViewOf(e))
	}
	return out
}

type healthResponse struct {
	Status      string `json:"status"`
	MaxParallel int    `json:"max_parallel"`
	Running     int    `json:"running"`
	Pending     int    `json:"pending"`
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	st := a.coordinator.Snapshot()
	a.writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		MaxParallel: st.MaxParallel,
		Running:     len(st.Running),
		Pending:     len(st.Pending),
	})
}

func (a *API) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	criteria := map[string]any{"limit": limit}
	if cmd := q.Get("command"); cmd != "" {
		criteria["command_id"] = cmd
	}
	if status := q.Get("status"); status != "" {
		criteria["status"] = status
	}

	execs, err := a.executions.List(r.Context(), criteria)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, viewsOf(execs))
}

func (a *API) cancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		a.writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := a.coordinator.Cancel(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

func (a *API) runCommand(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		a.writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	exec, err := a.coordinator.Enqueue(r.Context(), id, models.TriggerAPI)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, ViewOf(exec))
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, shared.ErrAlreadyActive),
		errors.Is(err, shared.ErrInvalidTransition),
		errors.Is(err, shared.ErrCommandDisabled):
		status = http.StatusConflict
	case errors.Is(err, shared.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	a.writeError(w, status, err.Error())
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to write response", "error", err)
	}
}
