package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// SnapshotRepository stores one library snapshot per target. It satisfies library.Store.
type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// GetSnapshot loads target's snapshot including its tracks. A tracks column that
// does not decode yields [shared.ErrSnapshotCorrupt].
func (r *SnapshotRepository) GetSnapshot(ctx context.Context, targetID string) (*models.LibrarySnapshot, error) {
	var (
		snap   models.LibrarySnapshot
		ttl    int64
		tracks string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT target_id, built_at, ttl_seconds, track_count, size_bytes, tracks
		FROM library_snapshots WHERE target_id = ?`, targetID,
	).Scan(&snap.TargetID, &snap.BuiltAt, &ttl, &snap.TrackCount, &snap.SizeBytes, &tracks)
	if err != nil {
		return nil, notFound(err, "library snapshot", targetID)
	}
	snap.TTL = time.Duration(ttl) * time.Second

	if err := json.Unmarshal([]byte(tracks), &snap.Tracks); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrSnapshotCorrupt, targetID, err)
	}
	if len(snap.Tracks) != snap.TrackCount {
		return nil, fmt.Errorf("%w: %s: expected %d tracks, decoded %d", shared.ErrSnapshotCorrupt, targetID, snap.TrackCount, len(snap.Tracks))
	}
	return &snap, nil
}

// SnapshotInfo loads target's snapshot metadata without tracks.
func (r *SnapshotRepository) SnapshotInfo(ctx context.Context, targetID string) (*models.LibrarySnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT target_id, built_at, ttl_seconds, track_count, size_bytes
		FROM library_snapshots WHERE target_id = ?`, targetID)
	snap, err := scanSnapshotInfo(row)
	if err != nil {
		return nil, notFound(err, "library snapshot", targetID)
	}
	return snap, nil
}

// PutSnapshot replaces target's snapshot.
func (r *SnapshotRepository) PutSnapshot(ctx context.Context, snap *models.LibrarySnapshot) error {
	tracks, err := json.Marshal(snap.Tracks)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot tracks: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO library_snapshots (target_id, built_at, ttl_seconds, track_count, size_bytes, tracks)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_id) DO UPDATE SET
			built_at = excluded.built_at,
			ttl_seconds = excluded.ttl_seconds,
			track_count = excluded.track_count,
			size_bytes = excluded.size_bytes,
			tracks = excluded.tracks`,
		snap.TargetID, snap.BuiltAt, int64(snap.TTL/time.Second), len(snap.Tracks), snap.SizeBytes, string(tracks),
	)
	if err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", snap.TargetID, err)
	}
	return nil
}

// DeleteSnapshot removes target's snapshot.
func (r *SnapshotRepository) DeleteSnapshot(ctx context.Context, targetID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM library_snapshots WHERE target_id = ?`, targetID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", targetID, err)
	}
	return affected(result, "library snapshot", targetID)
}

// ListSnapshots returns metadata for every stored snapshot, ordered by target.
func (r *SnapshotRepository) ListSnapshots(ctx context.Context) ([]models.LibrarySnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT target_id, built_at, ttl_seconds, track_count, size_bytes
		FROM library_snapshots ORDER BY target_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.LibrarySnapshot
	for rows.Next() {
		snap, err := scanSnapshotInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func scanSnapshotInfo(row scanner) (*models.LibrarySnapshot, error) {
	var (
		snap models.LibrarySnapshot
		ttl  int64
	)
	if err := row.Scan(&snap.TargetID, &snap.BuiltAt, &ttl, &snap.TrackCount, &snap.SizeBytes); err != nil {
		return nil, err
	}
	snap.TTL = time.Duration(ttl) * time.Second
	return &snap, nil
}
