package shared

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var punctuationFolds = strings.NewReplacer(
	"‘", "'", "’", "'", "‛", "'", "`", "'",
	"“", `"`, "”", `"`,
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-",
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "in": {}, "on": {}, "to": {},
	"feat": {}, "ft": {}, "featuring": {}, "with": {}, "vs": {}, "x": {},
}

// NormalizeText lowercases s, folds typographic quotes and dashes to ASCII, strips
// diacritics, drops punctuation other than apostrophes and hyphens, and collapses whitespace.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	s = punctuationFolds.Replace(s)

	// The chain carries internal buffers so it is built per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '\'', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeTrackKey builds the exact-match key for a title/artist pair.
func NormalizeTrackKey(title, artist string) string {
	return NormalizeText(title) + "|" + NormalizeText(artist)
}

// NormalizeAlbumKey builds the exact-match key for a title/artist/album triple.
// It is empty when album normalizes to nothing.
func NormalizeAlbumKey(title, artist, album string) string {
	a := NormalizeText(album)
	if a == "" {
		return ""
	}
	return NormalizeTrackKey(title, artist) + "|" + a
}

// Tokenize splits normalized text into words.
func Tokenize(s string) []string {
	return strings.Fields(NormalizeText(s))
}

// ContentTokens returns the unique tokens of s with stop words removed, in first-seen order.
// When every token is a stop word the unfiltered set is returned so short titles
// like "The The" still carry something to compare.
func ContentTokens(s string) []string {
	all := Tokenize(s)
	seen := make(map[string]struct{}, len(all))
	var kept []string
	for _, tok := range all {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		kept = append(kept, tok)
	}
	if len(kept) > 0 || len(all) == 0 {
		return kept
	}
	for _, tok := range all {
		if _, dup := seen[tok]; !dup {
			seen[tok] = struct{}{}
			kept = append(kept, tok)
		}
	}
	return kept
}
