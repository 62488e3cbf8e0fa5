// package services defines the source and target interfaces the sync engine
// talks to and their HTTP implementations.
//
// Sources: Spotify, ListenBrainz. Targets: Plex, Jellyfin.
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// Source provides playlists to mirror.
type Source interface {
	// GetPlaylistTracks fetches a playlist and its tracks in source order.
	// ref is service specific (a playlist id, or a ListenBrainz playlist name).
	GetPlaylistTracks(ctx context.Context, ref string) (*models.SourcePlaylist, error)

	// Name returns the lowercase service name used in command configs.
	Name() string
}

// Target is a media server that holds the library and receives playlists.
type Target interface {
	// GetFullLibrary enumerates every track on the server.
	GetFullLibrary(ctx context.Context) ([]models.TrackRecord, error)

	// SearchLibrary runs a live search against the server.
	SearchLibrary(ctx context.Context, query string) ([]models.TrackRecord, error)

	// GetPlaylist returns the playlist with the given name and its current
	// track ids. Wraps [shared.ErrNotFound] when no such playlist exists.
	GetPlaylist(ctx context.Context, name string) (*models.TargetPlaylist, error)

	// ListPlaylists returns every playlist without items.
	ListPlaylists(ctx context.Context) ([]models.TargetPlaylist, error)

	CreatePlaylist(ctx context.Context, name string, trackIDs []string) (*models.TargetPlaylist, error)

	// UpdatePlaylist replaces the playlist contents with trackIDs.
	UpdatePlaylist(ctx context.Context, playlistID string, trackIDs []string) error

	DeletePlaylist(ctx context.Context, playlistID string) error

	Name() string
}

// PlaylistEditor is implemented by targets that support incremental edits.
// When available, sync applies only the diff instead of replacing contents.
type PlaylistEditor interface {
	AddTracks(ctx context.Context, playlistID string, trackIDs []string) error
	RemoveTracks(ctx context.Context, playlistID string, trackIDs []string) error
}

// Registry resolves configured services by name.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	targets map[string]Target
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source), targets: make(map[string]Target)}
}

func (r *Registry) AddSource(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[strings.ToLower(s.Name())] = s
}

func (r *Registry) AddTarget(t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[strings.ToLower(t.Name())] = t
}

// Source returns the named source or wraps [shared.ErrMissingConfig].
func (r *Registry) Source(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sources[strings.ToLower(name)]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: source %q is not configured", shared.ErrMissingConfig, name)
}

// Target returns the named target or wraps [shared.ErrMissingConfig].
func (r *Registry) Target(name string) (Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.targets[strings.ToLower(name)]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: target %q is not configured", shared.ErrMissingConfig, name)
}

// TargetNames lists configured targets in name order.
func (r *Registry) TargetNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SourceNames lists configured sources in name order.
func (r *Registry) SourceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
