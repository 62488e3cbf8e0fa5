package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// ExecutionRepository implements models.Repository[*models.Execution].
//
// Executions are ordered by a per-table sequence assigned on insert.
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository creates a new ExecutionRepository with the given database connection
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

const executionColumns = `id, sequence, command_id, status, triggered_by, error_kind, error_message, summary, created_at, started_at, completed_at`

// Create inserts exec, assigning its sequence and, when empty, its ID.
func (r *ExecutionRepository) Create(ctx context.Context, exec *models.Execution) error {
	if exec.ID == "" {
		exec.ID = shared.GenerateID()
	}
	if err := exec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "executions")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}
	exec.Sequence = sequence

	query := `INSERT INTO executions (` + executionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		exec.ID, exec.Sequence, exec.CommandID, string(exec.Status), exec.TriggeredBy,
		string(exec.ErrorKind), exec.ErrorMessage, exec.Summary, exec.CreatedAt,
		nullTime(exec.StartedAt), nullTime(exec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// Get retrieves an execution by ID.
func (r *ExecutionRepository) Get(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err != nil {
		return nil, notFound(err, "execution", id)
	}
	return exec, nil
}

// Update persists the mutable fields of exec.
func (r *ExecutionRepository) Update(ctx context.Context, exec *models.Execution) error {
	if err := exec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, error_kind = ?, error_message = ?, summary = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(exec.Status), string(exec.ErrorKind), exec.ErrorMessage, exec.Summary,
		nullTime(exec.StartedAt), nullTime(exec.CompletedAt), exec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	return affected(result, "execution", exec.ID)
}

// Delete removes an execution by ID.
func (r *ExecutionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	return affected(result, "execution", id)
}

// List retrieves executions newest first. Supported criteria: "command_id" (string),
// "status" (string), "limit" (int).
func (r *ExecutionRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1 = 1`
	args := []any{}

	if commandID, ok := criteria["command_id"].(string); ok && commandID != "" {
		query += " AND command_id = ?"
		args = append(args, commandID)
	}
	if status, ok := criteria["status"].(string); ok && status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY sequence DESC"
	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return r.query(ctx, query, args...)
}

// ListByStatus returns executions in any of statuses, oldest first.
func (r *ExecutionRepository) ListByStatus(ctx context.Context, statuses ...models.ExecutionStatus) ([]*models.Execution, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	query := `SELECT ` + executionColumns + ` FROM executions WHERE status IN (` + placeholders(len(args)) + `) ORDER BY sequence ASC`
	return r.query(ctx, query, args...)
}

// LastCompleted returns the most recent completed execution of commandID.
func (r *ExecutionRepository) LastCompleted(ctx context.Context, commandID string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE command_id = ? AND status = ? ORDER BY sequence DESC LIMIT 1`,
		commandID, string(models.StatusCompleted))
	exec, err := scanExecution(row)
	if err != nil {
		return nil, notFound(err, "completed execution of", commandID)
	}
	return exec, nil
}

// HasActive reports whether commandID has a pending or running execution.
func (r *ExecutionRepository) HasActive(ctx context.Context, commandID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM executions WHERE command_id = ? AND status IN (?, ?))`,
		commandID, string(models.StatusPending), string(models.StatusRunning)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active executions: %w", err)
	}
	return exists, nil
}

// Prune deletes terminal executions beyond the newest keep, returning how many were removed.
func (r *ExecutionRepository) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM executions
		WHERE status NOT IN (?, ?)
		AND sequence <= (
			SELECT sequence FROM executions WHERE status NOT IN (?, ?)
			ORDER BY sequence DESC LIMIT 1 OFFSET ?
		)`,
		string(models.StatusPending), string(models.StatusRunning),
		string(models.StatusPending), string(models.StatusRunning), keep,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	return result.RowsAffected()
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return executions, nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		exec        models.Execution
		status      string
		errorKind   string
		createdAt   time.Time
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&exec.ID, &exec.Sequence, &exec.CommandID, &status, &exec.TriggeredBy,
		&errorKind, &exec.ErrorMessage, &exec.Summary, &createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	exec.Status = models.ExecutionStatus(status)
	exec.ErrorKind = shared.ErrorKind(errorKind)
	exec.CreatedAt = createdAt
	exec.StartedAt = timePtr(startedAt)
	exec.CompletedAt = timePtr(completedAt)
	return &exec, nil
}
