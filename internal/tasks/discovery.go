package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// WriteImportList replaces the file at path with every stored artist as a JSON
// array, in the shape Lidarr's custom import list reads. It returns the number
// of artists written.
func WriteImportList(ctx context.Context, store ArtistStore, path string) (int, error) {
	artists, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list discovered artists: %w", err)
	}
	if artists == nil {
		artists = []models.DiscoveredArtist{}
	}

	data, err := shared.MarshalJSON(artists)
	if err != nil {
		return 0, fmt.Errorf("encode import list: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create import list directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".import-list-*.json")
	if err != nil {
		return 0, fmt.Errorf("create import list: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write import list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("write import list: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("replace import list: %w", err)
	}
	return len(artists), nil
}
