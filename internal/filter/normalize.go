package filter

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// NormalizeKeyword lowercases s, turns every run of non-alphanumeric runes into
// a single space and trims the result. It is idempotent.
func NormalizeKeyword(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// Similarity returns (maxLen-distance)/maxLen for the Levenshtein distance of
// a and b, measured in runes. Two empty strings are identical.
func Similarity(a, b string) float64 {
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return float64(maxLen-dist) / float64(maxLen)
}
