package merge

import (
	"cmp"
	"slices"
	"strings"

	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// Priority orders contributions: configured platform order first, then
// unlisted platforms alphabetically, then newest fetch, then observation id.
type Priority struct {
	rank map[platform.Name]int
}

// NewPriority builds a Priority from platforms listed highest first.
func NewPriority(order []platform.Name) Priority {
	rank := make(map[platform.Name]int, len(order))
	for i, p := range order {
		if _, dup := rank[p]; !dup {
			rank[p] = i
		}
	}
	return Priority{rank: rank}
}

func (p Priority) compare(a, b Contribution) int {
	ra, okA := p.rank[a.Platform]
	rb, okB := p.rank[b.Platform]
	switch {
	case okA && okB && ra != rb:
		return cmp.Compare(ra, rb)
	case okA && !okB:
		return -1
	case !okA && okB:
		return 1
	case !okA && !okB && a.Platform != b.Platform:
		return strings.Compare(string(a.Platform), string(b.Platform))
	}
	if c := b.FetchedAt.Compare(a.FetchedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ObservationID, b.ObservationID)
}

// sort orders cs in place by precedence.
func (p Priority) sort(cs []Contribution) {
	slices.SortFunc(cs, p.compare)
}
