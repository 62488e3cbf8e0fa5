package library

import (
	"sort"
	"time"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

const (
	// Fixed per-record cost on top of string bytes: struct headers plus index slots.
	recordOverhead = 60
	// Index maps add roughly 40% over the raw records.
	indexOverheadPct = 40
	baseOverhead     = 2 << 20

	maxRelated = 250
)

// Snapshot is an immutable, indexed copy of one target's library.
// It implements [matcher.Index].
type Snapshot struct {
	TargetID  string
	BuiltAt   time.Time
	TTL       time.Duration
	SizeBytes int64

	tracks []models.TrackRecord
	exact  map[string][]int
	tokens map[string][]int
}

// NewSnapshot indexes records. Records missing an id, title, or artist are dropped.
func NewSnapshot(targetID string, records []models.TrackRecord, builtAt time.Time, ttl time.Duration) *Snapshot {
	s := &Snapshot{
		TargetID: targetID,
		BuiltAt:  builtAt,
		TTL:      ttl,
		tracks:   make([]models.TrackRecord, 0, len(records)),
		exact:    make(map[string][]int, len(records)),
		tokens:   make(map[string][]int),
	}

	for _, r := range records {
		if !r.Complete() {
			continue
		}
		pos := len(s.tracks)
		s.tracks = append(s.tracks, r)

		key := shared.NormalizeTrackKey(r.Title, r.Artist)
		s.exact[key] = append(s.exact[key], pos)
		if akey := shared.NormalizeAlbumKey(r.Title, r.Artist, r.Album); akey != "" {
			s.exact[akey] = append(s.exact[akey], pos)
		}

		for _, tok := range recordTokens(r.Title, r.Artist) {
			s.tokens[tok] = append(s.tokens[tok], pos)
		}
	}
	s.SizeBytes = EstimateSize(s.tracks)
	return s
}

// FromModel rebuilds the index of a persisted snapshot.
func FromModel(m *models.LibrarySnapshot) *Snapshot {
	return NewSnapshot(m.TargetID, m.Tracks, m.BuiltAt, m.TTL)
}

// Model returns the persisted form of s.
func (s *Snapshot) Model() *models.LibrarySnapshot {
	return &models.LibrarySnapshot{
		TargetID:   s.TargetID,
		BuiltAt:    s.BuiltAt,
		TTL:        s.TTL,
		TrackCount: len(s.tracks),
		SizeBytes:  s.SizeBytes,
		Tracks:     s.Tracks(),
	}
}

// Stale reports whether the snapshot is older than its TTL at now.
func (s *Snapshot) Stale(now time.Time) bool {
	return now.Sub(s.BuiltAt) > s.TTL
}

func (s *Snapshot) Len() int { return len(s.tracks) }

// Tracks returns a copy of the indexed records in library order.
func (s *Snapshot) Tracks() []models.TrackRecord {
	out := make([]models.TrackRecord, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Exact returns the records whose normalized title|artist or title|artist|album key equals key.
func (s *Snapshot) Exact(key string) []models.TrackRecord {
	return s.collect(s.exact[key])
}

// Related returns records sharing title or artist tokens with track. When more
// than a bounded number qualify, those with the most shared tokens are kept.
// Results are always in library order.
func (s *Snapshot) Related(track models.Track) []models.TrackRecord {
	query := recordTokens(track.Title, track.Artist)
	if len(query) == 0 {
		return nil
	}

	overlap := make(map[int]int)
	for _, tok := range query {
		for _, pos := range s.tokens[tok] {
			overlap[pos]++
		}
	}

	need := 1
	if len(query) > 2 {
		need = 2
	}
	positions := make([]int, 0, len(overlap))
	for pos, n := range overlap {
		if n >= need {
			positions = append(positions, pos)
		}
	}

	if len(positions) > maxRelated {
		sort.Slice(positions, func(i, j int) bool {
			a, b := positions[i], positions[j]
			if overlap[a] != overlap[b] {
				return overlap[a] > overlap[b]
			}
			return a < b
		})
		positions = positions[:maxRelated]
	}
	sort.Ints(positions)
	return s.collect(positions)
}

func (s *Snapshot) collect(positions []int) []models.TrackRecord {
	if len(positions) == 0 {
		return nil
	}
	out := make([]models.TrackRecord, len(positions))
	for i, pos := range positions {
		out[i] = s.tracks[pos]
	}
	return out
}

func recordTokens(title, artist string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range append(shared.ContentTokens(title), shared.ContentTokens(artist)...) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// EstimateSize approximates the memory an indexed snapshot of records occupies.
func EstimateSize(records []models.TrackRecord) int64 {
	var raw int64
	for _, r := range records {
		raw += int64(len(r.ID)+len(r.Title)+len(r.Artist)+len(r.Album)) + recordOverhead
	}
	return raw + raw*indexOverheadPct/100 + baseOverhead
}
