package validate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/valuation-engine/internal/llm"
	"github.com/meridianlabs/valuation-engine/internal/observability"
	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

func newTestEnhancer(completer llm.Completer) *Enhancer {
	return NewEnhancer(observability.NopLogger(), Options{
		Completer:   completer,
		Concurrency: 2,
	})
}

func TestFilterByRelevancePrefersCurrent(t *testing.T) {
	candidates := []valuation.Candidate{
		{Value: 80000000, Confidence: 0.9, DateRelevance: valuation.DateRelevanceHistorical},
		{Value: 95000000, Confidence: 0.85, DateRelevance: valuation.DateRelevanceCurrent},
	}

	kept, ambiguous := filterByRelevance(candidates)

	assert.False(t, ambiguous)
	require.Len(t, kept, 1)
	assert.Equal(t, 95000000.0, kept[0].Value)
	assert.Equal(t, 0.85, kept[0].Confidence)
}

func TestFilterByRelevanceKeepsLikelyCurrent(t *testing.T) {
	candidates := []valuation.Candidate{
		{Value: 1, DateRelevance: valuation.DateRelevanceLikelyCurrent},
		{Value: 2, DateRelevance: valuation.DateRelevanceUnknown},
	}

	kept, ambiguous := filterByRelevance(candidates)

	assert.False(t, ambiguous)
	require.Len(t, kept, 1)
	assert.Equal(t, 1.0, kept[0].Value)
}

func TestFilterByRelevanceHalvesWhenNothingQualifies(t *testing.T) {
	candidates := []valuation.Candidate{
		{Value: 1, Confidence: 0.9, DateRelevance: valuation.DateRelevanceHistorical},
		{Value: 2, Confidence: 0.8, DateRelevance: valuation.DateRelevanceUnknown},
	}

	kept, ambiguous := filterByRelevance(candidates)

	assert.True(t, ambiguous, "keeping non-current candidates must be flagged")
	require.Len(t, kept, 2)
	assert.Equal(t, 0.45, kept[0].Confidence)
	assert.Equal(t, 0.4, kept[1].Confidence)

	// Originals are untouched.
	assert.Equal(t, 0.9, candidates[0].Confidence)
}

func TestFilterByRelevanceEmpty(t *testing.T) {
	kept, ambiguous := filterByRelevance(nil)
	assert.Nil(t, kept)
	assert.False(t, ambiguous)
}

func TestResolveMetricSingleCandidate(t *testing.T) {
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		t.Fatal("a single candidate needs no arbitration")
		return "", nil
	})

	candidates := []valuation.Candidate{{Value: 95000000, Confidence: 0.9}}
	chosen := newTestEnhancer(completer).resolveMetric(context.Background(),
		valuation.MetricEnterpriseValue, candidates, "doc")

	require.NotNil(t, chosen)
	assert.Equal(t, 95000000.0, chosen.Value)
}

func TestResolveMetricNoCandidates(t *testing.T) {
	chosen := newTestEnhancer(nil).resolveMetric(context.Background(),
		valuation.MetricEnterpriseValue, nil, "doc")
	assert.Nil(t, chosen)
}

func TestResolveMetricArbitration(t *testing.T) {
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return `{"choice": 2, "reason": "tied to the valuation date"}`, nil
	})

	candidates := []valuation.Candidate{
		{Value: 80000000, Confidence: 0.9},
		{Value: 95000000, Confidence: 0.85},
	}
	chosen := newTestEnhancer(completer).resolveMetric(context.Background(),
		valuation.MetricEnterpriseValue, candidates, "doc")

	require.NotNil(t, chosen)
	assert.Equal(t, 95000000.0, chosen.Value)
}

func TestResolveMetricFallsBackToHighestConfidence(t *testing.T) {
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return "", errors.New("all models failed")
	})

	candidates := []valuation.Candidate{
		{Value: 80000000, Confidence: 0.6},
		{Value: 95000000, Confidence: 0.85},
	}
	chosen := newTestEnhancer(completer).resolveMetric(context.Background(),
		valuation.MetricEnterpriseValue, candidates, "doc")

	require.NotNil(t, chosen)
	assert.Equal(t, 95000000.0, chosen.Value)
}

func TestDecodeChoice(t *testing.T) {
	choice, ok := decodeChoice(`{"choice": 2, "reason": "better sourced"}`, 3)
	require.True(t, ok)
	assert.Equal(t, 2, choice)

	// Prose around the object is tolerated.
	choice, ok = decodeChoice(`Option 2 it is: {"choice": 2}. Done.`, 3)
	require.True(t, ok)
	assert.Equal(t, 2, choice)

	// Out-of-range choices are rejected.
	_, ok = decodeChoice(`{"choice": 5}`, 3)
	assert.False(t, ok)
	_, ok = decodeChoice(`{"choice": 0}`, 3)
	assert.False(t, ok)

	_, ok = decodeChoice("I pick the second one.", 3)
	assert.False(t, ok)
}

func TestHighestConfidence(t *testing.T) {
	candidates := []valuation.Candidate{
		{Value: 1, Confidence: 0.5},
		{Value: 2, Confidence: 0.9},
		{Value: 3, Confidence: 0.7},
	}
	assert.Equal(t, 2.0, highestConfidence(candidates).Value)
}
