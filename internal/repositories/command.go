package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// CommandRepository implements models.Repository[*models.CommandDefinition].
type CommandRepository struct {
	db *sql.DB
}

// NewCommandRepository creates a new CommandRepository with the given database connection
func NewCommandRepository(db *sql.DB) *CommandRepository {
	return &CommandRepository{db: db}
}

const commandColumns = `id, kind, enabled, schedule_cron, timezone, timeout_seconds, config, created_at, updated_at`

// Create inserts a new command definition after validating its config.
func (r *CommandRepository) Create(ctx context.Context, def *models.CommandDefinition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	query := `INSERT INTO commands (` + commandColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		def.ID, string(def.Kind), def.Enabled, def.ScheduleCron, def.Timezone,
		int64(def.Timeout/time.Second), configText(def.Config), def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert command %s: %w", def.ID, err)
	}
	return nil
}

// Get retrieves a command definition by ID.
func (r *CommandRepository) Get(ctx context.Context, id string) (*models.CommandDefinition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = ?`, id)
	def, err := scanCommand(row)
	if err != nil {
		return nil, notFound(err, "command", id)
	}
	return def, nil
}

// Update modifies an existing command definition.
func (r *CommandRepository) Update(ctx context.Context, def *models.CommandDefinition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	def.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE commands
		SET kind = ?, enabled = ?, schedule_cron = ?, timezone = ?, timeout_seconds = ?, config = ?, updated_at = ?
		WHERE id = ?`,
		string(def.Kind), def.Enabled, def.ScheduleCron, def.Timezone,
		int64(def.Timeout/time.Second), configText(def.Config), def.UpdatedAt, def.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update command %s: %w", def.ID, err)
	}
	return affected(result, "command", def.ID)
}

// Upsert creates def or replaces the stored definition with the same ID.
func (r *CommandRepository) Upsert(ctx context.Context, def *models.CommandDefinition) error {
	existing, err := r.Get(ctx, def.ID)
	if errors.Is(err, shared.ErrNotFound) {
		return r.Create(ctx, def)
	}
	if err != nil {
		return err
	}
	def.CreatedAt = existing.CreatedAt
	return r.Update(ctx, def)
}

// SetEnabled toggles whether the scheduler considers the command.
func (r *CommandRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.ExecContext(ctx, `UPDATE commands SET enabled = ?, updated_at = ? WHERE id = ?`, enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update command %s: %w", id, err)
	}
	return affected(result, "command", id)
}

// Delete removes a command definition. Its execution history is kept.
func (r *CommandRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM commands WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete command %s: %w", id, err)
	}
	return affected(result, "command", id)
}

// List returns definitions ordered by ID. Supported criteria: "kind" (string), "enabled" (bool).
func (r *CommandRepository) List(ctx context.Context, criteria map[string]any) ([]*models.CommandDefinition, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE 1 = 1`
	args := []any{}

	if kind, ok := criteria["kind"].(string); ok && kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	if enabled, ok := criteria["enabled"].(bool); ok {
		query += " AND enabled = ?"
		args = append(args, enabled)
	}
	query += " ORDER BY id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var defs []*models.CommandDefinition
	for rows.Next() {
		def, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return defs, nil
}

// Enabled returns the enabled definitions in ascending ID order.
func (r *CommandRepository) Enabled(ctx context.Context) ([]*models.CommandDefinition, error) {
	return r.List(ctx, map[string]any{"enabled": true})
}

func scanCommand(row scanner) (*models.CommandDefinition, error) {
	var (
		def     models.CommandDefinition
		kind    string
		timeout int64
		config  string
	)
	err := row.Scan(&def.ID, &kind, &def.Enabled, &def.ScheduleCron, &def.Timezone, &timeout, &config, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	def.Kind = models.CommandKind(kind)
	def.Timeout = time.Duration(timeout) * time.Second
	def.Config = json.RawMessage(config)
	return &def, nil
}

func configText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
