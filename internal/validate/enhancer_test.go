package validate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/valuation-engine/internal/llm"
	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

// scriptedCompleter answers the date prompt and the revenue framings, leaving
// everything else unresolved, so one full Run can be traced end to end.
func scriptedCompleter() llm.Completer {
	return llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		prompt := req.Messages[len(req.Messages)-1].Content
		switch {
		case strings.Contains(prompt, "stated valuation date"):
			return "2023-12-31", nil
		case !strings.Contains(prompt, "annual revenue"):
			return `{"value": null, "context": ""}`, nil
		case strings.Contains(prompt, "From this valuation report"):
			// Primary framing lands on a projection.
			return `{"value": 80000000, "context": "Projected revenue for fiscal 2024 is $80 million."}`, nil
		default:
			return `{"value": 95000000, "context": "Concluded revenue as of December 31, 2023 was $95 million."}`, nil
		}
	})
}

func TestRunResolvesDateRelevantRevenue(t *testing.T) {
	e := newTestEnhancer(scriptedCompleter())

	outcome, err := e.Run(context.Background(), "report body")
	require.NoError(t, err)

	assert.Equal(t, "2023-12-31", outcome.ValuationDate)

	chosen, ok := outcome.Resolved[valuation.MetricRevenue]
	require.True(t, ok)
	assert.Equal(t, 95000000.0, chosen.Value)
	assert.Equal(t, valuation.DateRelevanceCurrent, chosen.DateRelevance)
	assert.NotContains(t, outcome.Ambiguous, valuation.MetricRevenue)

	// Both distinct values survive as candidates.
	assert.Len(t, outcome.Candidates[valuation.MetricRevenue], 2)

	// No enterprise/equity pair resolved, so cross-validation stays clean.
	assert.True(t, outcome.DebtConsistent)
	assert.Nil(t, outcome.ImpliedDebt)
	assert.Greater(t, outcome.Confidence, 0)
}

func TestRunMarksAmbiguityWhenNothingIsCurrent(t *testing.T) {
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		prompt := req.Messages[len(req.Messages)-1].Content
		switch {
		case strings.Contains(prompt, "stated valuation date"):
			return "unknown", nil
		case strings.Contains(prompt, "annual revenue"):
			return `{"value": 80000000, "context": "Projected revenue for fiscal 2024."}`, nil
		default:
			return `{"value": null, "context": ""}`, nil
		}
	})
	e := newTestEnhancer(completer)

	outcome, err := e.Run(context.Background(), "report body")
	require.NoError(t, err)

	assert.Empty(t, outcome.ValuationDate)
	assert.Contains(t, outcome.Ambiguous, valuation.MetricRevenue)

	chosen, ok := outcome.Resolved[valuation.MetricRevenue]
	require.True(t, ok)
	assert.Equal(t, 80000000.0, chosen.Value)
	assert.Equal(t, 0.45, chosen.Confidence, "kept candidates carry halved confidence")
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEnhancer(scriptedCompleter()).Run(ctx, "report body")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutcomeMetricSetProjection(t *testing.T) {
	outcome := &Outcome{
		Resolved: map[valuation.Metric]valuation.Candidate{
			valuation.MetricEnterpriseValue: {Value: 95000000},
			valuation.MetricRevenue:         {Value: 30000000},
			valuation.MetricEBITDA:          {Value: 12000000},
		},
		ValuationDate: "2023-12-31",
	}

	m := outcome.MetricSet()

	require.NotNil(t, m.EnterpriseValue.CurrentValue)
	assert.Equal(t, 95000000.0, *m.EnterpriseValue.CurrentValue)
	require.NotNil(t, m.ValuationDate)
	assert.Equal(t, "2023-12-31", *m.ValuationDate)

	// Normalize derives the multiples from the projected values.
	require.NotNil(t, m.ValuationMultiples.EVToEBITDA)
	assert.InDelta(t, 7.9167, *m.ValuationMultiples.EVToEBITDA, 0.001)
}
