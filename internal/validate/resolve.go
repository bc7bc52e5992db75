package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"github.com/meridianlabs/valuation-engine/internal/llm"
	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

// filterByRelevance prefers candidates tied to the valuation date. When no
// candidate is current or likely current, every candidate is kept at half
// confidence and the ambiguity is flagged, so data is never discarded
// outright.
func filterByRelevance(candidates []valuation.Candidate) ([]valuation.Candidate, bool) {
	var preferred []valuation.Candidate
	for _, c := range candidates {
		if c.DateRelevance == valuation.DateRelevanceCurrent ||
			c.DateRelevance == valuation.DateRelevanceLikelyCurrent {
			preferred = append(preferred, c)
		}
	}
	if len(preferred) > 0 {
		return preferred, false
	}
	if len(candidates) == 0 {
		return nil, false
	}

	halved := make([]valuation.Candidate, len(candidates))
	for i, c := range candidates {
		c.Confidence /= 2
		halved[i] = c
	}
	return halved, true
}

const arbitrationReplyFormat = `Reply with a single JSON object: {"choice": <1-based option number>, "reason": "<one sentence>"}.`

// resolveMetric picks one candidate. Zero candidates resolve to nothing, one
// resolves directly, and more than one goes to model arbitration with a
// deterministic highest-confidence fallback.
func (e *Enhancer) resolveMetric(ctx context.Context, metric valuation.Metric, candidates []valuation.Candidate, docText string) *valuation.Candidate {
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return &candidates[0]
	}

	if chosen := e.arbitrate(ctx, metric, candidates, docText); chosen != nil {
		return chosen
	}
	e.logger.Debug().
		Str("metric", string(metric)).
		Msg("Arbitration inconclusive, falling back to highest confidence")
	return highestConfidence(candidates)
}

// arbitrate asks a model to choose among disagreeing candidates. Returns nil
// when the reply is unusable.
func (e *Enhancer) arbitrate(ctx context.Context, metric valuation.Metric, candidates []valuation.Candidate, docText string) *valuation.Candidate {
	var list strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&list, "%d. value=%g source=%s confidence=%.2f dateRelevance=%s context=%q\n",
			i+1, c.Value, c.Source, c.Confidence, c.DateRelevance, clip(c.Context, 200))
	}

	prompt := fmt.Sprintf(
		"Several extraction attempts disagree on the %s of this company. Choose the most reliable option, preferring values tied to the valuation date and authoritative report sections.\n\nOptions:\n%s\n%s\n\nDocument excerpt:\n---\n%s\n---",
		metricLabel(metric), list.String(), arbitrationReplyFormat, clip(docText, e.contextBudget/2))

	response, err := e.completer.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0,
	})
	if err != nil {
		e.logger.Warn().Str("metric", string(metric)).Err(err).Msg("Arbitration prompt failed")
		return nil
	}

	choice, ok := decodeChoice(response, len(candidates))
	if !ok {
		return nil
	}
	return &candidates[choice-1]
}

// decodeChoice parses {"choice": n, ...} leniently and range-checks n.
func decodeChoice(raw string, options int) (int, bool) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var reply struct {
		Choice int    `json:"choice"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		repaired, repairErr := jsonrepair.RepairJSON(raw)
		if repairErr != nil {
			return 0, false
		}
		if err := json.Unmarshal([]byte(repaired), &reply); err != nil {
			return 0, false
		}
	}
	if reply.Choice < 1 || reply.Choice > options {
		return 0, false
	}
	return reply.Choice, true
}

func highestConfidence(candidates []valuation.Candidate) *valuation.Candidate {
	best := &candidates[0]
	for i := range candidates[1:] {
		if candidates[i+1].Confidence > best.Confidence {
			best = &candidates[i+1]
		}
	}
	return best
}
