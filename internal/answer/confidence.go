package answer

import "strings"

// Level is the discrete confidence of an answer, derived from retrieval
// quality rather than the model's own report.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Classification thresholds.
const (
	HighMinScore    = 0.35
	HighMinChunks   = 3
	MediumMinScore  = 0.25
	MediumMinChunks = 2
)

// Classify maps the average top similarity and the number of context
// chunks to a confidence level.
func Classify(avgScore float64, chunkCount int) Level {
	if avgScore >= HighMinScore && chunkCount >= HighMinChunks {
		return LevelHigh
	}
	if avgScore >= MediumMinScore && chunkCount >= MediumMinChunks {
		return LevelMedium
	}
	return LevelLow
}

// ParseLevel accepts only the three known labels, case-insensitively.
func ParseLevel(s string) (Level, bool) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelHigh:
		return LevelHigh, true
	case LevelMedium:
		return LevelMedium, true
	case LevelLow:
		return LevelLow, true
	}
	return "", false
}

// Score is the continuous value persisted with a query.
func (l Level) Score() float64 {
	switch l {
	case LevelHigh:
		return 0.9
	case LevelMedium:
		return 0.6
	default:
		return 0.2
	}
}
