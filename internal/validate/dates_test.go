package validate

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

func TestParseFlexibleDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2023-12-31", "2023-12-31"},
		{"December 31, 2023", "2023-12-31"},
		{"Dec 31, 2023", "2023-12-31"},
		{"31 December 2023", "2023-12-31"},
		{"12/31/2023", "2023-12-31"},
		{`"2023-12-31"`, "2023-12-31"},
		{"The valuation date: December 31, 2023.", "2023-12-31"},
		{"June 2023", "2023-06-01"},
	}
	for _, tc := range cases {
		got, ok := parseFlexibleDate(tc.in)
		require.True(t, ok, "should parse %q", tc.in)
		assert.Equal(t, tc.want, got.Format(dateLayout), "input %q", tc.in)
	}
}

func TestParseFlexibleDateRejects(t *testing.T) {
	for _, in := range []string{"", "unknown", "Unknown", "no date stated", "soonish"} {
		_, ok := parseFlexibleDate(in)
		assert.False(t, ok, "should reject %q", in)
	}
}

func TestClassifyRelevance(t *testing.T) {
	valuationDate := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		snippet string
		want    valuation.DateRelevance
	}{
		{"The concluded enterprise value as of December 31, 2023 is $95 million.", valuation.DateRelevanceCurrent},
		{"Final conclusion of value for the subject company.", valuation.DateRelevanceCurrent},
		{"Projected revenue for fiscal 2024 is $80 million.", valuation.DateRelevanceHistorical},
		{"Revenue for the prior year was $70 million.", valuation.DateRelevanceHistorical},
		{"The valuation summary presents the determined figures.", valuation.DateRelevanceLikelyCurrent},
		{"The figure appears on page twelve.", valuation.DateRelevanceUnknown},
		{"", valuation.DateRelevanceUnknown},
	}
	for _, tc := range cases {
		got := classifyRelevance(tc.snippet, valuationDate, true)
		assert.Equal(t, tc.want, got, "snippet %q", tc.snippet)
	}
}

func TestClassifyRelevanceBareYearNeedsAsOfFraming(t *testing.T) {
	valuationDate := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, valuation.DateRelevanceCurrent,
		classifyRelevance("Equity value as of 2023 year end.", valuationDate, true))
	assert.Equal(t, valuation.DateRelevanceUnknown,
		classifyRelevance("In 2023 the company grew.", valuationDate, true))
}

func TestClassifyRelevanceWithoutDateFallsBackToMarkers(t *testing.T) {
	got := classifyRelevance("The concluded value reflects a control basis.", time.Time{}, false)
	assert.Equal(t, valuation.DateRelevanceCurrent, got)

	got = classifyRelevance("Forecast EBITDA for the coming period.", time.Time{}, false)
	assert.Equal(t, valuation.DateRelevanceHistorical, got)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 10))
	assert.Equal(t, "ab", clip("abcdef", 2))

	// Truncation backs up to a rune boundary instead of emitting a torn
	// UTF-8 sequence.
	assert.Equal(t, "a", clip("a€b", 2))
	assert.Equal(t, "a", clip("a€b", 3))
	assert.Equal(t, "a€", clip("a€b", 4))
	for _, got := range []string{clip("€€€", 4), clip("数値は", 7)} {
		assert.True(t, utf8.ValidString(got), "clip produced invalid UTF-8: %q", got)
	}
}
