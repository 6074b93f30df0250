package schema

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Matcher scores how alike two column names are, in [0, 1]. It is an
// interface so the fuzzy fallback can be swapped or stubbed in tests
// without touching any I/O.
type Matcher interface {
	Similarity(a, b string) float64
}

// RatioMatcher scores names by normalized Levenshtein distance.
type RatioMatcher struct{}

func (RatioMatcher) Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// closest returns the candidate most similar to want, with its score. When
// fold is set both sides are lower-cased first, but the returned name keeps
// the candidate's original spelling.
func closest(m Matcher, want string, candidates []string, fold bool) (string, float64) {
	target := want
	if fold {
		target = strings.ToLower(want)
	}
	best, bestScore := "", 0.0
	for _, cand := range candidates {
		probe := cand
		if fold {
			probe = strings.ToLower(cand)
		}
		if s := m.Similarity(target, probe); s > bestScore {
			best, bestScore = cand, s
		}
	}
	return best, bestScore
}
