package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/cmdarr/internal/shared"
)

// SourcePlaylist is a playlist fetched from a source service.
type SourcePlaylist struct {
	ID       string
	Title    string
	Category string
	Date     time.Time
	Tracks   []Track
}

// TargetPlaylist is a playlist on the target media server. TrackIDs is only
// populated by calls that fetch items.
type TargetPlaylist struct {
	ID         string
	Name       string
	TrackCount int
	TrackIDs   []string
	CreatedAt  time.Time
}

// PlaylistSyncState records what the last sync of a command produced.
type PlaylistSyncState struct {
	CommandID    string
	TargetID     string
	PlaylistID   string
	PlaylistName string
	Category     string
	Fingerprint  string
	TrackCount   int
	Retention    int
	SyncedAt     time.Time
}

func (s PlaylistSyncState) Validate() error {
	if s.CommandID == "" || s.PlaylistID == "" {
		return fmt.Errorf("%w: sync state needs a command and playlist id", shared.ErrInvalidInput)
	}
	return nil
}

// DiscoveredArtist is an artist seen in a source playlist but not resolvable in the target library.
type DiscoveredArtist struct {
	Name         string    `json:"artistName"`
	Source       string    `json:"source,omitempty"`
	CommandID    string    `json:"-"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}

// Key is the normalized name used to deduplicate artists.
func (a DiscoveredArtist) Key() string {
	return shared.NormalizeText(a.Name)
}

func (a DiscoveredArtist) Validate() error {
	if a.Key() == "" {
		return fmt.Errorf("%w: artist name is required", shared.ErrInvalidInput)
	}
	return nil
}
