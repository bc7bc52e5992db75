// Package validate implements the enhanced validation pass: multi-prompt
// candidate collection, date-relevance filtering, conflict arbitration,
// cross-validation of derived quantities, and confidence scoring.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/meridianlabs/valuation-engine/internal/llm"
	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

// canonical layout for the normalized valuation date.
const dateLayout = "2006-01-02"

// dateLayouts lists the formats accepted from documents and model replies.
var dateLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"02/01/2006",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"January 2006",
	"2006",
}

var datePromptRe = regexp.MustCompile(`(?i)(?:valuation\s+date|as\s+of|dated)[:\s]+([A-Za-z]+\s+\d{1,2},?\s+\d{4}|\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})`)

const valuationDatePrompt = `What is the stated valuation date of this report (the "as of" date the concluded value applies to)?
Reply with the date only, in YYYY-MM-DD form if possible. Reply "unknown" if the report does not state one.`

// extractValuationDate asks the model for the report's valuation date and
// falls back to a document scan. Returns the canonical date string and its
// parsed form; ok is false when no date could be determined.
func (e *Enhancer) extractValuationDate(ctx context.Context, docText string) (string, time.Time, bool) {
	response, err := e.completer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "user", Content: valuationDatePrompt + "\n\n---\n" + clip(docText, e.contextBudget) + "\n---"},
		},
		Temperature: 0,
	})
	if err == nil {
		if t, ok := parseFlexibleDate(strings.TrimSpace(response)); ok {
			return t.Format(dateLayout), t, true
		}
	}

	if match := datePromptRe.FindStringSubmatch(docText); match != nil {
		if t, ok := parseFlexibleDate(match[1]); ok {
			return t.Format(dateLayout), t, true
		}
	}
	return "", time.Time{}, false
}

// parseFlexibleDate normalizes the common date spellings found in valuation
// reports. Stray quotes, trailing periods, and prose prefixes are tolerated.
func parseFlexibleDate(s string) (time.Time, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"'.`)
	if s == "" || strings.EqualFold(s, "unknown") {
		return time.Time{}, false
	}
	if idx := strings.LastIndexAny(s, ":"); idx >= 0 && idx < len(s)-1 {
		s = strings.TrimSpace(s[idx+1:])
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if match := datePromptRe.FindStringSubmatch(s); match != nil {
		return parseFlexibleDate(match[1])
	}
	return time.Time{}, false
}

// Date-relevance language markers. Checked against the candidate's
// supporting text, lowercased.
var (
	historicalMarkers = []string{
		"prior year", "previous year", "historical", "projected", "projection",
		"forecast", "budget", "estimate for", "fiscal 20", "fy20", "pro forma",
		"trailing", "last year",
	}
	currentMarkers = []string{
		"final", "concluded", "conclusion of value", "as of the valuation date",
	}
	authoritativeMarkers = []string{
		"summary", "valuation", "determined", "fair market value", "opinion",
	}
)

// classifyRelevance tags a candidate's supporting text. An explicit tie to
// the valuation date or concluded-value language wins; explicit historical or
// forward-looking language loses; authoritative framing with neither marker
// is likely current.
func classifyRelevance(snippet string, valuationDate time.Time, haveDate bool) valuation.DateRelevance {
	text := strings.ToLower(strings.TrimSpace(snippet))
	if text == "" {
		return valuation.DateRelevanceUnknown
	}

	if haveDate && mentionsDate(text, valuationDate) {
		return valuation.DateRelevanceCurrent
	}
	for _, marker := range currentMarkers {
		if strings.Contains(text, marker) {
			return valuation.DateRelevanceCurrent
		}
	}
	for _, marker := range historicalMarkers {
		if strings.Contains(text, marker) {
			return valuation.DateRelevanceHistorical
		}
	}
	for _, marker := range authoritativeMarkers {
		if strings.Contains(text, marker) {
			return valuation.DateRelevanceLikelyCurrent
		}
	}
	return valuation.DateRelevanceUnknown
}

// mentionsDate reports whether text references the valuation date in any of
// its common spellings.
func mentionsDate(text string, date time.Time) bool {
	spellings := []string{
		date.Format(dateLayout),
		strings.ToLower(date.Format("January 2, 2006")),
		strings.ToLower(date.Format("January 2006")),
		fmt.Sprintf("%d", date.Year()),
	}
	for _, s := range spellings[:3] {
		if strings.Contains(text, s) {
			return true
		}
	}
	// A bare year only counts when paired with "as of" framing.
	if strings.Contains(text, "as of") && strings.Contains(text, spellings[3]) {
		return true
	}
	return false
}

// clip truncates s to at most max bytes without cutting a rune in half.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
