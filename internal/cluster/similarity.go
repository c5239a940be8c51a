package cluster

import (
	"strings"
	"unicode/utf8"

	"github.com/dvernon0786/Infin8Content-sub000/internal/filter"
)

// Scorer rates how closely a candidate keyword relates to a hub, in [0,1].
// Implementations must be deterministic.
type Scorer interface {
	Score(hub, candidate string) float64
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(hub, candidate string) float64

// Score implements Scorer.
func (f ScorerFunc) Score(hub, candidate string) float64 {
	return f(hub, candidate)
}

const (
	minTokenRunes  = 3
	substringBonus = 0.1
)

// JaccardScorer compares the word sets of two keywords. Words shorter than
// three runes are ignored. Each pair of distinct words where one contains the
// other adds a 0.1 bonus; the total is capped at 1.
type JaccardScorer struct{}

// Score implements Scorer.
func (JaccardScorer) Score(a, b string) float64 {
	ta := tokens(a)
	tb := tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	score := float64(intersection) / float64(union)

	for x := range ta {
		for y := range tb {
			if x != y && (strings.Contains(x, y) || strings.Contains(y, x)) {
				score += substringBonus
			}
		}
	}
	return min(score, 1)
}

func tokens(s string) map[string]struct{} {
	words := strings.Fields(filter.NormalizeKeyword(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) >= minTokenRunes {
			set[w] = struct{}{}
		}
	}
	return set
}
