package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/cmdarr/internal/models"
)

// ArtistRepository stores discovered artists keyed by normalized name.
type ArtistRepository struct {
	db *sql.DB
}

func NewArtistRepository(db *sql.DB) *ArtistRepository {
	return &ArtistRepository{db: db}
}

// Add inserts artists not already known and returns how many were new.
func (r *ArtistRepository) Add(ctx context.Context, artists []models.DiscoveredArtist) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	added := 0
	for _, a := range artists {
		if err := a.Validate(); err != nil {
			return 0, fmt.Errorf("validation failed: %w", err)
		}
		result, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO discovered_artists (name_key, name, source, command_id, discovered_at)
			VALUES (?, ?, ?, ?, ?)`,
			a.Key(), a.Name, a.Source, a.CommandID, a.DiscoveredAt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert artist %q: %w", a.Name, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit artists: %w", err)
	}
	return added, nil
}

// List returns every discovered artist, oldest first.
func (r *ArtistRepository) List(ctx context.Context) ([]models.DiscoveredArtist, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, source, command_id, discovered_at
		FROM discovered_artists ORDER BY discovered_at ASC, name_key ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query artists: %w", err)
	}
	defer rows.Close()

	var out []models.DiscoveredArtist
	for rows.Next() {
		var a models.DiscoveredArtist
		if err := rows.Scan(&a.Name, &a.Source, &a.CommandID, &a.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan artist: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes artists discovered before cutoff.
func (r *ArtistRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM discovered_artists WHERE discovered_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune artists: %w", err)
	}
	return result.RowsAffected()
}

// Delete removes the artist with the given normalized key.
func (r *ArtistRepository) Delete(ctx context.Context, key string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM discovered_artists WHERE name_key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete artist: %w", err)
	}
	return affected(result, "artist", key)
}
