package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cmdarr/internal/library"
	"github.com/desertthunder/cmdarr/internal/matcher"
	"github.com/desertthunder/cmdarr/internal/metrics"
	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/services"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// StateStore persists the outcome of each playlist sync.
type StateStore interface {
	Put(ctx context.Context, state *models.PlaylistSyncState) error
}

// ArtistStore keeps artists seen in source playlists but missing from the target library.
type ArtistStore interface {
	Add(ctx context.Context, artists []models.DiscoveredArtist) (int, error)
	List(ctx context.Context) ([]models.DiscoveredArtist, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SyncAction is what a sync did to the target playlist.
type SyncAction string

const (
	ActionCreated   SyncAction = "created"
	ActionUpdated   SyncAction = "updated"
	ActionUnchanged SyncAction = "unchanged"
	ActionSkipped   SyncAction = "skipped"
)

// Resolution modes reported on [SyncResult].
const (
	ModeSnapshot = "snapshot"
	ModeLive     = "live"
)

// SyncResult contains everything one playlist sync did.
type SyncResult struct {
	CommandID    string
	PlaylistID   string
	PlaylistName string
	Category     string
	Action       SyncAction
	Mode         string
	Matches      []models.MatchResult // one per source track, in source order
	TrackIDs     []string             // target playlist contents after the sync
	Added        int
	Removed      int
	Deleted      []string // playlists removed as duplicates or by retention
	Discovered   int
	Fingerprint  string
}

// Matched counts source tracks that resolved to a library track.
func (r *SyncResult) Matched() int {
	n := 0
	for _, m := range r.Matches {
		if m.Accepted {
			n++
		}
	}
	return n
}

// Unmatched returns the source tracks that did not resolve.
func (r *SyncResult) Unmatched() []models.Track {
	var out []models.Track
	for _, m := range r.Matches {
		if !m.Accepted {
			out = append(out, m.Source)
		}
	}
	return out
}

// Summary is the one-line description stored on the execution.
func (r *SyncResult) Summary() string {
	s := fmt.Sprintf("%s %q: %d/%d matched (%s), +%d -%d",
		r.Action, r.PlaylistName, r.Matched(), len(r.Matches), r.Mode, r.Added, r.Removed)
	if len(r.Deleted) > 0 {
		s += fmt.Sprintf(", %d deleted", len(r.Deleted))
	}
	if r.Discovered > 0 {
		s += fmt.Sprintf(", %d artists discovered", r.Discovered)
	}
	return s
}

// EngineOptions configure a [PlaylistEngine].
type EngineOptions struct {
	ImportListPath string // rewritten after discovery when set
	Clock          models.Clock
	Metrics        *metrics.Collector
}

// PlaylistEngine reconciles target playlists with source playlists.
type PlaylistEngine struct {
	cache   *library.Manager
	matcher *matcher.Matcher
	states  StateStore
	artists ArtistStore
	logger  *log.Logger
	opts    EngineOptions
}

// NewPlaylistEngine creates a PlaylistEngine. A nil cache resolves every track with
// live search; nil states and artists skip persisting sync state and discovery.
func NewPlaylistEngine(cache *library.Manager, m *matcher.Matcher, states StateStore, artists ArtistStore, logger *log.Logger, opts EngineOptions) *PlaylistEngine {
	if m == nil {
		m = matcher.New(0)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &PlaylistEngine{
		cache:   cache,
		matcher: m,
		states:  states,
		artists: artists,
		logger:  shared.WithLogger(logger, "component", "sync"),
		opts:    opts,
	}
}

// sendProgress sends a progress update through the channel without blocking.
func (e *PlaylistEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Sync resolves the source playlist against the target library and brings the
// target playlist for its category and date up to date.
//
// The context is checked before every call to the source or target.
func (e *PlaylistEngine) Sync(ctx context.Context, progress chan<- ProgressUpdate, commandID string, src services.Source, dst services.Target, cfg models.PlaylistSyncConfig) (*SyncResult, error) {
	logger := e.logger.With("command", commandID, "source", src.Name(), "target", dst.Name())

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.sendProgress(progress, fetchSourceUpdate(src.Name(), cfg.Playlist))
	pl, err := src.GetPlaylistTracks(ctx, cfg.Playlist)
	if err != nil {
		return nil, fmt.Errorf("fetch %s playlist %s: %w", src.Name(), cfg.Playlist, err)
	}
	e.sendProgress(progress, foundPlaylistUpdate(pl))

	category := firstNonEmpty(cfg.Category, pl.Category, pl.Title)
	date := pl.Date
	if date.IsZero() {
		date = e.opts.Clock()
	}

	res := &SyncResult{
		CommandID:    commandID,
		Category:     category,
		PlaylistName: DisplayName(cfg.NamePrefix, category, date),
		Mode:         ModeLive,
	}

	snap, release, err := e.acquire(ctx, dst, logger)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		defer release()
		res.Mode = ModeSnapshot
	}
	e.sendProgress(progress, loadLibraryUpdate(dst.Name(), res.Mode))

	res.Matches = make([]models.MatchResult, 0, len(pl.Tracks))
	for i, tr := range pl.Tracks {
		m, err := e.resolve(ctx, dst, snap, tr)
		if err != nil {
			return nil, err
		}
		res.Matches = append(res.Matches, m)
		if m.Accepted {
			e.opts.Metrics.TrackMatched(string(m.Strategy))
		} else {
			e.opts.Metrics.TrackMatched("")
		}
		e.sendProgress(progress, matchTrackUpdate(i+1, len(pl.Tracks), tr, m.Accepted))
	}
	desired := desiredIDs(res.Matches)

	if err := e.apply(ctx, dst, cfg, desired, res, logger); err != nil {
		return nil, err
	}
	e.sendProgress(progress, applyPlaylistUpdate(res.PlaylistName, res.Action, res.Added, res.Removed))

	if res.Action != ActionSkipped && (cfg.Retention > 0 || cfg.RemoveEmpty) {
		deleted, err := e.applyRetention(ctx, progress, dst, cfg, category, res.PlaylistID, logger)
		res.Deleted = append(res.Deleted, deleted...)
		if err != nil {
			return nil, err
		}
	}

	if cfg.ArtistDiscovery && e.artists != nil {
		found, added, err := e.discover(ctx, commandID, src.Name(), snap, res.Matches)
		if err != nil {
			logger.Error("artist discovery failed", "error", err)
		} else {
			res.Discovered = found
			e.sendProgress(progress, discoveryUpdate(found, added))
		}
	}

	if res.PlaylistID != "" {
		res.Fingerprint = Fingerprint(res.TrackIDs)
		if e.states != nil {
			state := &models.PlaylistSyncState{
				CommandID:    commandID,
				TargetID:     dst.Name(),
				PlaylistID:   res.PlaylistID,
				PlaylistName: res.PlaylistName,
				Category:     category,
				Fingerprint:  res.Fingerprint,
				TrackCount:   len(res.TrackIDs),
				Retention:    cfg.Retention,
				SyncedAt:     e.opts.Clock(),
			}
			if err := e.states.Put(ctx, state); err != nil {
				return nil, fmt.Errorf("save sync state: %w", err)
			}
		}
	}

	logger.Info("playlist synced", "playlist", res.PlaylistName, "action", res.Action,
		"matched", res.Matched(), "tracks", len(res.Matches), "mode", res.Mode)
	return res, nil
}

// acquire returns a fresh snapshot of dst, or nil when tracks must be resolved
// with live search. Syncs never build snapshots; that is the job of
// library_cache_build commands.
func (e *PlaylistEngine) acquire(ctx context.Context, dst services.Target, logger *log.Logger) (*library.Snapshot, func(), error) {
	if e.cache == nil {
		return nil, nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	snap, release, err := e.cache.Acquire(ctx, dst.Name(), nil)
	switch {
	case err == nil:
		return snap, release, nil
	case errors.Is(err, shared.ErrSnapshotCorrupt):
		return nil, nil, err
	case ctx.Err() != nil:
		return nil, nil, ctx.Err()
	case errors.Is(err, shared.ErrCacheUnavailable):
		logger.Info("no fresh library snapshot, using live search")
	default:
		logger.Warn("library snapshot unavailable, using live search", "error", err)
	}
	return nil, nil, nil
}

// resolve matches tr against the snapshot and falls back to a live search when
// that does not produce an accepted match.
func (e *PlaylistEngine) resolve(ctx context.Context, dst services.Target, snap *library.Snapshot, tr models.Track) (models.MatchResult, error) {
	best := models.MatchResult{Source: tr}
	if snap != nil {
		if best = e.matcher.Match(tr, snap); best.Accepted {
			return best, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return best, err
	}
	found, err := dst.SearchLibrary(ctx, tr.Title)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return best, nil
		}
		return best, fmt.Errorf("search %s for %q: %w", dst.Name(), tr.Title, err)
	}

	live := e.matcher.MatchCandidates(tr, found)
	if live.Accepted {
		live.Strategy = models.StrategyLiveFallback
		return live, nil
	}
	if best.Matched == nil || live.Score > best.Score {
		best = live
	}
	return best, nil
}

// apply creates or edits the target playlist so it holds desired.
func (e *PlaylistEngine) apply(ctx context.Context, dst services.Target, cfg models.PlaylistSyncConfig, desired []string, res *SyncResult, logger *log.Logger) error {
	existing, deleted, err := e.findExisting(ctx, dst, res.PlaylistName, logger)
	res.Deleted = append(res.Deleted, deleted...)
	if err != nil {
		return err
	}

	if existing == nil {
		if len(desired) == 0 {
			logger.Warn("no tracks resolved, playlist not created", "playlist", res.PlaylistName)
			res.Action = ActionSkipped
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		created, err := dst.CreatePlaylist(ctx, res.PlaylistName, desired)
		if err != nil {
			return fmt.Errorf("create playlist %q: %w", res.PlaylistName, err)
		}
		res.PlaylistID = created.ID
		res.TrackIDs = desired
		res.Added = len(desired)
		res.Action = ActionCreated
		return nil
	}

	res.PlaylistID = existing.ID
	add, remove := diffIDs(existing.TrackIDs, desired)
	if cfg.SyncMode == models.SyncAdditive {
		remove = nil
	}
	if len(add) == 0 && len(remove) == 0 {
		res.TrackIDs = existing.TrackIDs
		res.Action = ActionUnchanged
		return nil
	}

	final := desired
	if cfg.SyncMode == models.SyncAdditive {
		final = append(append([]string(nil), existing.TrackIDs...), add...)
	}

	if editor, ok := dst.(services.PlaylistEditor); ok {
		if len(remove) > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := editor.RemoveTracks(ctx, existing.ID, remove); err != nil {
				return fmt.Errorf("remove tracks from %q: %w", res.PlaylistName, err)
			}
		}
		if len(add) > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := editor.AddTracks(ctx, existing.ID, add); err != nil {
				return fmt.Errorf("add tracks to %q: %w", res.PlaylistName, err)
			}
		}
	} else {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := dst.UpdatePlaylist(ctx, existing.ID, final); err != nil {
			return fmt.Errorf("update playlist %q: %w", res.PlaylistName, err)
		}
	}

	res.TrackIDs = final
	res.Added = len(add)
	res.Removed = len(remove)
	res.Action = ActionUpdated
	return nil
}

// findExisting returns the playlist named name with its contents. When several
// share the name, the one with the most tracks is kept and the others deleted.
func (e *PlaylistEngine) findExisting(ctx context.Context, dst services.Target, name string, logger *log.Logger) (*models.TargetPlaylist, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	lists, err := dst.ListPlaylists(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s playlists: %w", dst.Name(), err)
	}

	var same []models.TargetPlaylist
	for _, pl := range lists {
		if pl.Name == name {
			same = append(same, pl)
		}
	}
	if len(same) == 0 {
		return nil, nil, nil
	}

	keep := 0
	for i := range same {
		if same[i].TrackCount > same[keep].TrackCount {
			keep = i
		}
	}

	var deleted []string
	for i, pl := range same {
		if i == keep {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, deleted, err
		}
		if err := dst.DeletePlaylist(ctx, pl.ID); err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, deleted, fmt.Errorf("delete duplicate playlist %q: %w", pl.Name, err)
		}
		logger.Info("deleted duplicate playlist", "playlist", pl.Name, "id", pl.ID, "tracks", pl.TrackCount)
		deleted = append(deleted, pl.Name)
	}

	if err := ctx.Err(); err != nil {
		return nil, deleted, err
	}
	full, err := dst.GetPlaylist(ctx, name)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, deleted, nil
	}
	if err != nil {
		return nil, deleted, fmt.Errorf("load playlist %q: %w", name, err)
	}
	return full, deleted, nil
}

type datedPlaylist struct {
	models.TargetPlaylist
	date time.Time
}

// applyRetention deletes empty playlists of category when RemoveEmpty is set,
// then keeps the playlist just synced plus the newest others up to
// cfg.Retention in total. The playlist just synced is never removed.
func (e *PlaylistEngine) applyRetention(ctx context.Context, progress chan<- ProgressUpdate, dst services.Target, cfg models.PlaylistSyncConfig, category, currentID string, logger *log.Logger) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lists, err := dst.ListPlaylists(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s playlists: %w", dst.Name(), err)
	}

	now := e.opts.Clock()
	var group []datedPlaylist
	for _, pl := range lists {
		parsed, ok := ParseDisplayName(cfg.NamePrefix, pl.Name, now)
		if !ok || !sameCategory(parsed.Category, category) {
			continue
		}
		group = append(group, datedPlaylist{TargetPlaylist: pl, date: parsed.Date})
	}
	sort.SliceStable(group, func(i, j int) bool {
		if !group[i].date.Equal(group[j].date) {
			return group[i].date.After(group[j].date)
		}
		return group[i].CreatedAt.After(group[j].CreatedAt)
	})

	var doomed, kept []datedPlaylist
	hasCurrent := false
	for _, pl := range group {
		switch {
		case pl.ID == currentID:
			hasCurrent = true
			kept = append(kept, pl)
		case cfg.RemoveEmpty && pl.TrackCount == 0:
			doomed = append(doomed, pl)
		default:
			kept = append(kept, pl)
		}
	}

	// The current playlist always takes one of the Retention slots, whatever its date.
	if cfg.Retention > 0 {
		slots := cfg.Retention
		if hasCurrent {
			slots--
		}
		for _, pl := range kept {
			if pl.ID == currentID {
				continue
			}
			if slots > 0 {
				slots--
				continue
			}
			doomed = append(doomed, pl)
		}
	}

	var deleted []string
	for i, pl := range doomed {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		e.sendProgress(progress, retentionUpdate(i+1, len(doomed), pl.Name))
		if err := dst.DeletePlaylist(ctx, pl.ID); err != nil && !errors.Is(err, shared.ErrNotFound) {
			return deleted, fmt.Errorf("delete playlist %q: %w", pl.Name, err)
		}
		logger.Info("deleted playlist", "playlist", pl.Name, "tracks", pl.TrackCount, "category", category)
		deleted = append(deleted, pl.Name)
	}
	return deleted, nil
}

// discover records the artists of unmatched tracks that the target library does
// not know at all. It returns how many were found and how many were new.
func (e *PlaylistEngine) discover(ctx context.Context, commandID, source string, snap *library.Snapshot, matches []models.MatchResult) (int, int, error) {
	known := make(map[string]bool)
	if snap != nil {
		for _, rec := range snap.Tracks() {
			known[shared.NormalizeText(rec.Artist)] = true
		}
	}
	for _, m := range matches {
		if m.Accepted && m.Matched != nil {
			known[shared.NormalizeText(m.Matched.Artist)] = true
		}
	}

	now := e.opts.Clock()
	seen := make(map[string]bool)
	var found []models.DiscoveredArtist
	for _, m := range matches {
		if m.Accepted {
			continue
		}
		name := strings.TrimSpace(m.Source.Artist)
		key := shared.NormalizeText(name)
		if key == "" || known[key] || seen[key] {
			continue
		}
		seen[key] = true
		found = append(found, models.DiscoveredArtist{
			Name:         name,
			Source:       source,
			CommandID:    commandID,
			DiscoveredAt: now,
		})
	}
	if len(found) == 0 {
		return 0, 0, nil
	}

	added, err := e.artists.Add(ctx, found)
	if err != nil {
		return 0, 0, fmt.Errorf("store discovered artists: %w", err)
	}
	if added > 0 && e.opts.ImportListPath != "" {
		if _, err := WriteImportList(ctx, e.artists, e.opts.ImportListPath); err != nil {
			return len(found), added, err
		}
	}
	return len(found), added, nil
}

// desiredIDs lists accepted matches in source order with repeated ids collapsed.
func desiredIDs(matches []models.MatchResult) []string {
	seen := make(map[string]bool, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id, ok := m.TrackID()
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// diffIDs returns the ids of desired missing from current and the ids of current
// absent from desired.
func diffIDs(current, desired []string) (add, remove []string) {
	have := make(map[string]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	want := make(map[string]bool, len(desired))
	for _, id := range desired {
		want[id] = true
		if !have[id] {
			add = append(add, id)
		}
	}
	for _, id := range current {
		if !want[id] {
			remove = append(remove, id)
		}
	}
	return add, remove
}

// Fingerprint identifies a set of track ids independent of order.
func Fingerprint(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:16])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
