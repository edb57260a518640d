package artist

import (
	"math"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// scoreEpsilon absorbs float noise when comparing match scores for ties.
const scoreEpsilon = 1e-9

// Match is a scored identity for a candidate.
type Match struct {
	LocalID     string
	DisplayName string
	Score       float64
}

// NormalizeName lower-cases s, strips diacritics and collapses whitespace.
// Compatibility forms (fullwidth letters, ligatures) fold to their plain
// equivalents. Punctuation is kept.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(strings.ToLower(stripped)), " ")
}

// Similarity returns a score in [0,1] from the Levenshtein distance of the
// normalized names. Empty names never match.
func Similarity(a, b string) float64 {
	a, b = NormalizeName(a), NormalizeName(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// Score rates how well identity id matches candidate c. A shared hint or a
// hint equal to a known alias is a certain match.
func Score(c Candidate, id Identity) float64 {
	for _, h := range c.Hints {
		if h == "" {
			continue
		}
		if slices.Contains(id.Hints, h) {
			return 1
		}
		nh := NormalizeName(h)
		for _, a := range id.Aliases {
			if NormalizeName(a) == nh {
				return 1
			}
		}
	}

	best := Similarity(c.DisplayName, id.DisplayName)
	for _, a := range id.Aliases {
		best = math.Max(best, Similarity(c.DisplayName, a))
	}
	return best
}

// BestMatches returns every identity sharing the top score at or above
// threshold, ordered by local id. More than one result is a tie. Identities
// that already hold an id on the candidate's platform are not eligible.
func BestMatches(c Candidate, identities []Identity, threshold float64) []Match {
	var (
		best    []Match
		topSeen = -1.0
	)
	for _, id := range identities {
		if _, taken := id.PlatformIDs[c.Platform]; taken {
			continue
		}
		s := Score(c, id)
		if s+scoreEpsilon < threshold {
			continue
		}
		switch {
		case s > topSeen+scoreEpsilon:
			topSeen = s
			best = []Match{{LocalID: id.LocalID, DisplayName: id.DisplayName, Score: s}}
		case math.Abs(s-topSeen) <= scoreEpsilon:
			best = append(best, Match{LocalID: id.LocalID, DisplayName: id.DisplayName, Score: s})
		}
	}
	slices.SortFunc(best, func(a, b Match) int { return strings.Compare(a.LocalID, b.LocalID) })
	return best
}
