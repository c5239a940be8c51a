package provider

import (
	"math"
	"strings"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
)

// Competition index boundaries between low/medium and medium/high.
const (
	mediumCompetitionFrom = 34
	highCompetitionFrom   = 67
)

// Scale names the range a raw competition value is reported on.
type Scale int

const (
	// ScalePercent is 0-100, as sent in competition_index.
	ScalePercent Scale = iota
	// ScaleFraction is 0-1, as sent in competition.
	ScaleFraction
)

// NormalizeCompetition converts a raw competition value on the given scale into
// the canonical 0-100 metric. A recognised level string wins over the
// index-derived level.
func NormalizeCompetition(raw float64, scale Scale, level string) keyword.CompetitionMetric {
	if scale == ScaleFraction && !math.IsNaN(raw) {
		raw *= 100
	}
	index := clampPercent(raw)

	lvl := keyword.CompetitionLevel(strings.ToLower(strings.TrimSpace(level)))
	if !lvl.Valid() {
		lvl = LevelForIndex(index)
	}
	return keyword.CompetitionMetric{Index: index, Level: lvl}
}

// LevelForIndex buckets a 0-100 index into three levels.
func LevelForIndex(index int) keyword.CompetitionLevel {
	switch {
	case index >= highCompetitionFrom:
		return keyword.CompetitionHigh
	case index >= mediumCompetitionFrom:
		return keyword.CompetitionMedium
	default:
		return keyword.CompetitionLow
	}
}

func clampPercent(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return int(math.Round(math.Min(v, 100)))
}
