package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const lastTickKey = "last_tick"

// SchedulerStateRepository persists the scheduler's last evaluation instant so
// cron boundaries crossed while the process was down are caught on the next tick.
type SchedulerStateRepository struct {
	db *sql.DB
}

func NewSchedulerStateRepository(db *sql.DB) *SchedulerStateRepository {
	return &SchedulerStateRepository{db: db}
}

// LastTick returns the stored instant, or the zero time when none is stored.
func (r *SchedulerStateRepository) LastTick(ctx context.Context) (time.Time, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM scheduler_state WHERE key = ?`, lastTickKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load scheduler state: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last tick %q: %w", value, err)
	}
	return t, nil
}

// SetLastTick stores t.
func (r *SchedulerStateRepository) SetLastTick(ctx context.Context, t time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduler_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		lastTickKey, t.UTC().Format(time.RFC3339Nano), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store scheduler state: %w", err)
	}
	return nil
}
