package fuzzy

import (
	"sort"

	"github.com/zjrosen/archnodes/internal/naming"
)

// Rank orders matches by score, breaking ties by category hint, then by
// smaller edit distance, then lexically by class name and module. The order
// is total, so the same input always ranks the same way. The input slice is
// sorted in place; at most k matches are returned (all when k <= 0).
func Rank(matches []Match, categoryHint string, k int) []Match {
	hint := naming.Normalize(categoryHint)
	inHint := func(m Match) bool {
		return hint != "" && naming.Normalize(m.Class.Category) == hint
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ha, hb := inHint(a), inHint(b); ha != hb {
			return ha
		}
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.Class.Name != b.Class.Name {
			return a.Class.Name < b.Class.Name
		}
		return a.Class.Module < b.Class.Module
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
