// package matching implements the heuristics that decide whether two
// catalog items from different services are the same recording.
//
// All functions are pure; missing optional fields behave as empty strings
// or empty sets and never panic.
package matching

import (
	"math"
	"strings"
	"unicode"

	levenshtein "github.com/ka-weihe/fast-levenshtein"
	"golang.org/x/text/unicode/norm"

	"github.com/desertthunder/tdx/internal/services"
)

const (
	// DurationTolerance is the allowed duration difference in seconds for
	// forward (Spotify -> Tidal) track search.
	DurationTolerance = 2.0

	// ReverseDurationTolerance is the looser bound used by the reverse
	// (Tidal -> Spotify) metadata search.
	ReverseDurationTolerance = 3.0

	// AlbumSimilarityThreshold is the minimum name similarity ratio for an
	// album match.
	AlbumSimilarityThreshold = 0.6
)

// qualifiers are version markers whose presence must agree between two
// names. One side carrying "live" or "remix" while the other does not is a
// different recording regardless of any other similarity.
var qualifiers = []string{
	"instrumental",
	"acapella",
	"remix",
	"live",
	"acoustic",
	"radio edit",
}

// Normalize strips diacritic marks via NFD decomposition, keeping only the
// ASCII base characters ("Beyoncé" -> "Beyonce").
func Normalize(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) || r > unicode.MaxASCII {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Simplify truncates a display name at the first "-", "(" or "[" delimiter,
// trimming whitespace. Used to strip version/remaster qualifiers before
// comparison.
func Simplify(text string) string {
	for _, sep := range []string{"-", "(", "["} {
		if idx := strings.Index(text, sep); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// DurationMatch reports whether two durations agree within tolerance seconds.
func DurationMatch(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

// NameMatch reports whether a candidate track's name matches the source
// track's name.
//
// Qualifier presence must agree (the candidate's version field counts), then
// the simplified source name must appear in the candidate name, directly or
// after diacritic stripping on both sides.
func NameMatch(source, candidate services.Track) bool {
	sourceName := strings.ToLower(source.Title)
	candidateName := strings.ToLower(candidate.Title)
	candidateVersion := strings.ToLower(candidate.Version)

	for _, q := range qualifiers {
		candidateHas := strings.Contains(candidateName, q) || strings.Contains(candidateVersion, q)
		sourceHas := strings.Contains(sourceName, q)
		if candidateHas != sourceHas {
			return false
		}
	}

	simple := Simplify(sourceName)
	if idx := strings.Index(simple, "feat."); idx >= 0 {
		simple = strings.TrimSpace(simple[:idx])
	}

	return strings.Contains(candidateName, simple) ||
		strings.Contains(Normalize(candidateName), Normalize(simple))
}

// splitArtists breaks a credited artist string on the first separator found
// among "&", "," and "/". A name without separators is a single artist.
func splitArtists(name string) []string {
	for _, sep := range []string{"&", ",", "/"} {
		if strings.Contains(name, sep) {
			return strings.Split(name, sep)
		}
	}
	return []string{name}
}

// artistSet simplifies and lowercases each credited artist into a set,
// optionally diacritic-stripped.
func artistSet(names []string, normalize bool) map[string]struct{} {
	set := make(map[string]struct{})
	for _, name := range names {
		if normalize {
			name = Normalize(name)
		}
		for _, part := range splitArtists(name) {
			set[Simplify(strings.ToLower(strings.TrimSpace(part)))] = struct{}{}
		}
	}
	return set
}

func setsIntersect(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// ArtistMatch reports whether at least one artist is shared between the two
// credit lists. Raw sets are compared first, then diacritic-stripped sets.
func ArtistMatch(source, candidate []string) bool {
	if setsIntersect(artistSet(source, false), artistSet(candidate, false)) {
		return true
	}
	return setsIntersect(artistSet(source, true), artistSet(candidate, true))
}

// SimilarityRatio computes an edit-distance similarity in [0, 1] between two
// strings (1 means identical).
func SimilarityRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.Distance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// AlbumMatch reports whether a candidate album matches the source album:
// simplified names must be similar above the threshold AND the artist sets
// must overlap.
func AlbumMatch(source, candidate services.Album) bool {
	ratio := SimilarityRatio(
		strings.ToLower(Simplify(source.Name)),
		strings.ToLower(Simplify(candidate.Name)),
	)
	return ratio >= AlbumSimilarityThreshold && ArtistMatch(source.Artists, candidate.Artists)
}

// MatchTrack is the full track verdict. An ISRC equality is authoritative
// and short-circuits every other check; otherwise duration, name and artist
// must all agree. A source track without an identifier never matches.
func MatchTrack(source, candidate services.Track) bool {
	if source.ID == "" {
		return false
	}

	if source.ISRC != "" && candidate.ISRC == source.ISRC {
		return true
	}

	return DurationMatch(source.Duration, candidate.Duration, DurationTolerance) &&
		NameMatch(source, candidate) &&
		ArtistMatch(source.Artists, candidate.Artists)
}
