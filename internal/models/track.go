package models

import "time"

// Track is a source-side track as reported by a playlist service.
type Track struct {
	SourceID string `json:"source_id,omitempty"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album,omitempty"`
	ISRC     string `json:"isrc,omitempty"`
}

// TrackRecord is an item of a target media server's library.
type TrackRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Complete reports whether the record carries the fields matching depends on.
func (r TrackRecord) Complete() bool {
	return r.ID != "" && r.Title != "" && r.Artist != ""
}

// MatchStrategy records how a source track was resolved.
type MatchStrategy string

const (
	StrategyNone         MatchStrategy = ""
	StrategyExact        MatchStrategy = "exact"
	StrategyPartial      MatchStrategy = "partial"
	StrategyFuzzy        MatchStrategy = "fuzzy"
	StrategyLiveFallback MatchStrategy = "live_fallback"
)

// MatchResult is the scored outcome of resolving one source track.
//
// Matched is the best-scoring candidate even when the score is below the
// acceptance threshold; Accepted says whether the caller may use it.
type MatchResult struct {
	Source      Track
	Matched     *TrackRecord
	Score       int
	TitleScore  int
	ArtistScore int
	AlbumScore  int
	Strategy    MatchStrategy
	Accepted    bool
}

// TrackID returns the matched record's id when the match was accepted.
func (m MatchResult) TrackID() (string, bool) {
	if !m.Accepted || m.Matched == nil {
		return "", false
	}
	return m.Matched.ID, true
}

// LibrarySnapshot is the persisted form of a target's track catalogue.
type LibrarySnapshot struct {
	TargetID   string
	BuiltAt    time.Time
	TTL        time.Duration
	TrackCount int
	SizeBytes  int64
	Tracks     []TrackRecord
}

// Expired reports whether the snapshot is older than its TTL at now.
func (s LibrarySnapshot) Expired(now time.Time) bool {
	return now.Sub(s.BuiltAt) > s.TTL
}
