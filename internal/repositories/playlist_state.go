package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/cmdarr/internal/models"
)

// PlaylistStateRepository records the outcome of each command's last playlist sync.
type PlaylistStateRepository struct {
	db *sql.DB
}

func NewPlaylistStateRepository(db *sql.DB) *PlaylistStateRepository {
	return &PlaylistStateRepository{db: db}
}

// Put replaces the state stored for state.CommandID.
func (r *PlaylistStateRepository) Put(ctx context.Context, state *models.PlaylistSyncState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO playlist_states (command_id, target_id, playlist_id, playlist_name, category, fingerprint, track_count, retention, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(command_id) DO UPDATE SET
			target_id = excluded.target_id,
			playlist_id = excluded.playlist_id,
			playlist_name = excluded.playlist_name,
			category = excluded.category,
			fingerprint = excluded.fingerprint,
			track_count = excluded.track_count,
			retention = excluded.retention,
			synced_at = excluded.synced_at`,
		state.CommandID, state.TargetID, state.PlaylistID, state.PlaylistName, state.Category,
		state.Fingerprint, state.TrackCount, state.Retention, state.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store playlist state for %s: %w", state.CommandID, err)
	}
	return nil
}

// Get returns the state stored for commandID.
func (r *PlaylistStateRepository) Get(ctx context.Context, commandID string) (*models.PlaylistSyncState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT command_id, target_id, playlist_id, playlist_name, category, fingerprint, track_count, retention, synced_at
		FROM playlist_states WHERE command_id = ?`, commandID)

	var s models.PlaylistSyncState
	err := row.Scan(&s.CommandID, &s.TargetID, &s.PlaylistID, &s.PlaylistName, &s.Category, &s.Fingerprint, &s.TrackCount, &s.Retention, &s.SyncedAt)
	if err != nil {
		return nil, notFound(err, "playlist state", commandID)
	}
	return &s, nil
}
