package tasks

import (
	"fmt"

	"github.com/desertthunder/cmdarr/internal/models"
)

// ProgressUpdate represents a progress event during a sync.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	FetchSource Phase = iota
	LoadLibrary
	MatchTracks
	ApplyPlaylist
	Retention
	Discovery
	BuildCache
)

func (p Phase) String() string {
	switch p {
	case FetchSource:
		return "fetch_source"
	case LoadLibrary:
		return "load_library"
	case MatchTracks:
		return "match_tracks"
	case ApplyPlaylist:
		return "apply_playlist"
	case Retention:
		return "retention"
	case Discovery:
		return "discovery"
	case BuildCache:
		return "build_cache"
	default:
		return ""
	}
}

func fetchSourceUpdate(source, ref string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchSource,
		Message: fmt.Sprintf("Fetching %s playlist (%s)...", source, ref),
	}
}

func foundPlaylistUpdate(pl *models.SourcePlaylist) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchSource,
		Total:   len(pl.Tracks),
		Message: fmt.Sprintf("Found playlist: %s (%d tracks)", pl.Title, len(pl.Tracks)),
		Data:    pl,
	}
}

func loadLibraryUpdate(target, mode string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadLibrary,
		Message: fmt.Sprintf("Resolving against %s (%s)", target, mode),
	}
}

func matchTrackUpdate(step, total int, tr models.Track, matched bool) ProgressUpdate {
	mark := "✗"
	if matched {
		mark = "✓"
	}
	return ProgressUpdate{
		Phase:   MatchTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s - %s", step, total, mark, tr.Artist, tr.Title),
	}
}

func applyPlaylistUpdate(name string, action SyncAction, added, removed int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ApplyPlaylist,
		Message: fmt.Sprintf("Playlist %s: %s (+%d/-%d)", name, action, added, removed),
	}
}

func retentionUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Retention,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Deleting %s", step, total, name),
	}
}

func discoveryUpdate(found, added int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Discovery,
		Total:   found,
		Message: fmt.Sprintf("Discovered %d missing artists (%d new)", found, added),
	}
}

func buildCacheUpdate(step, total int, target string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BuildCache,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Building %s library snapshot...", step, total, target),
	}
}
