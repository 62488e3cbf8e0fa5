// Package matcher scores source tracks against target library records.
//
// Title and artist are each scored on three tiers (exact, partial, fuzzy) and an
// album bonus is added when both sides carry an album. The best candidate is
// accepted when its total reaches the threshold and neither title nor artist
// scored zero. Everything here is pure; a [Matcher] may be shared between goroutines.
package matcher

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// DefaultThreshold is the minimum total score for an accepted match.
const DefaultThreshold = 120

// fuzzyRatio is the similarity at or above which two strings fall in the fuzzy tier.
const fuzzyRatio = 0.8

// Tiers are the points awarded for an exact, partial, and fuzzy field match.
type Tiers struct {
	Exact   int
	Partial int
	Fuzzy   int
}

var (
	TitleTiers  = Tiers{Exact: 100, Partial: 70, Fuzzy: 50}
	ArtistTiers = Tiers{Exact: 100, Partial: 70, Fuzzy: 50}
	AlbumTiers  = Tiers{Exact: 30, Partial: 20, Fuzzy: 10}
)

// Index is the lookup surface a library snapshot exposes to the matcher.
type Index interface {
	// Exact returns records whose normalized title|artist or title|artist|album key equals key, in snapshot order.
	Exact(key string) []models.TrackRecord
	// Related returns records sharing tokens with the track, in snapshot order.
	Related(track models.Track) []models.TrackRecord
}

// Matcher holds the acceptance threshold.
type Matcher struct {
	Threshold int
}

// New returns a Matcher. A non-positive threshold selects [DefaultThreshold].
func New(threshold int) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{Threshold: threshold}
}

// Match resolves src against idx: exact album-key candidates first, then exact
// title|artist ones, then token-related ones. An unaccepted result tells the
// caller to try a broader search.
func (m *Matcher) Match(src models.Track, idx Index) models.MatchResult {
	if akey := shared.NormalizeAlbumKey(src.Title, src.Artist, src.Album); akey != "" {
		if exact := idx.Exact(akey); len(exact) > 0 {
			if res := m.MatchCandidates(src, exact); res.Accepted {
				return res
			}
		}
	}
	if exact := idx.Exact(shared.NormalizeTrackKey(src.Title, src.Artist)); len(exact) > 0 {
		if res := m.MatchCandidates(src, exact); res.Accepted {
			return res
		}
	}
	return m.MatchCandidates(src, idx.Related(src))
}

// MatchCandidates scores every candidate and returns the best one.
//
// Ties resolve by title score, then artist score, then album score, then the
// earliest candidate.
func (m *Matcher) MatchCandidates(src models.Track, candidates []models.TrackRecord) models.MatchResult {
	best := models.MatchResult{Source: src}
	for i := range candidates {
		res := m.Score(src, candidates[i])
		if best.Matched == nil || outranks(res, best) {
			best = res
		}
	}
	return best
}

// Score computes the field scores of one candidate.
func (m *Matcher) Score(src models.Track, rec models.TrackRecord) models.MatchResult {
	title := fieldScore(src.Title, rec.Title, TitleTiers)
	artist := fieldScore(src.Artist, rec.Artist, ArtistTiers)
	album := 0
	if strings.TrimSpace(src.Album) != "" && strings.TrimSpace(rec.Album) != "" {
		album = fieldScore(src.Album, rec.Album, AlbumTiers)
	}

	total := title + artist + album
	matched := rec
	return models.MatchResult{
		Source:      src,
		Matched:     &matched,
		Score:       total,
		TitleScore:  title,
		ArtistScore: artist,
		AlbumScore:  album,
		Strategy:    strategyFor(title, artist),
		Accepted:    title > 0 && artist > 0 && total >= m.Threshold,
	}
}

func outranks(a, b models.MatchResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.TitleScore != b.TitleScore {
		return a.TitleScore > b.TitleScore
	}
	if a.ArtistScore != b.ArtistScore {
		return a.ArtistScore > b.ArtistScore
	}
	return a.AlbumScore > b.AlbumScore
}

// strategyFor names the weaker of the two primary fields.
func strategyFor(title, artist int) models.MatchStrategy {
	switch {
	case title == TitleTiers.Exact && artist == ArtistTiers.Exact:
		return models.StrategyExact
	case title >= TitleTiers.Partial && artist >= ArtistTiers.Partial:
		return models.StrategyPartial
	case title > 0 && artist > 0:
		return models.StrategyFuzzy
	default:
		return models.StrategyNone
	}
}

func fieldScore(a, b string, tiers Tiers) int {
	na, nb := shared.NormalizeText(a), shared.NormalizeText(b)
	switch {
	case na == "" || nb == "":
		return 0
	case na == nb:
		return tiers.Exact
	case strings.Contains(na, nb) || strings.Contains(nb, na):
		return tiers.Partial
	case Similar(na, nb):
		return tiers.Fuzzy
	default:
		return 0
	}
}

// Similar reports whether two normalized strings are close by edit distance or
// by content-token overlap.
func Similar(a, b string) bool {
	return EditRatio(a, b) >= fuzzyRatio || TokenOverlap(a, b) >= fuzzyRatio
}

// EditRatio is 1 - levenshtein(a, b) / max rune length. Two empty strings are identical.
func EditRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// TokenOverlap is the Jaccard index of the content tokens of a and b.
func TokenOverlap(a, b string) float64 {
	ta, tb := shared.ContentTokens(a), shared.ContentTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}
	inter := 0
	for _, t := range tb {
		if _, ok := set[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}
