package validate

import (
	"math"

	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

// Confidence blend weights. Resolution coverage dominates; the remaining
// signals share the rest evenly.
const (
	weightCoverage  = 0.4
	weightCrossVal  = 0.2
	weightIssues    = 0.2
	weightDateMatch = 0.2
)

// relevanceScore maps a date-relevance class to a proximity score.
var relevanceScore = map[valuation.DateRelevance]float64{
	valuation.DateRelevanceCurrent:       1.0,
	valuation.DateRelevanceLikelyCurrent: 0.8,
	valuation.DateRelevanceUnknown:       0.5,
	valuation.DateRelevanceHistorical:    0.3,
}

// scoreConfidence blends resolution coverage, cross-validation cleanliness,
// advisory-issue absence, and date proximity into an integer percentage.
func scoreConfidence(outcome *Outcome) int {
	coverage := float64(len(outcome.Resolved)) / float64(len(valuation.TargetMetrics))

	crossVal := 1.0
	if !outcome.DebtConsistent {
		crossVal = 0
	}

	issueScore := 1.0 - 0.25*float64(len(outcome.Issues))
	if issueScore < 0 {
		issueScore = 0
	}

	dateScore := 0.5
	if len(outcome.Resolved) > 0 {
		sum := 0.0
		for _, candidate := range outcome.Resolved {
			sum += relevanceScore[candidate.DateRelevance]
		}
		dateScore = sum / float64(len(outcome.Resolved))
	}

	score := weightCoverage*coverage +
		weightCrossVal*crossVal +
		weightIssues*issueScore +
		weightDateMatch*dateScore
	return int(math.Round(score * 100))
}
