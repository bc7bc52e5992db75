package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"github.com/meridianlabs/valuation-engine/internal/llm"
	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

const (
	// Implied debt above this fraction of enterprise value is implausible.
	maxDebtRatio = 0.8

	// Confidence assigned to a suspect value re-entered as a candidate.
	suspectConfidence = 0.3
)

// crossValidate checks enterprise value against equity value. A negative or
// implausibly large implied debt marks both values suspect: candidates for
// both metrics are re-collected, the suspect values rejoin the pool at low
// confidence, and a model picks the best pair. If no plausible pair can be
// found the equity value is dropped so the non-negative debt invariant holds.
func (e *Enhancer) crossValidate(ctx context.Context, outcome *Outcome, docText string, valuationTime time.Time, haveDate bool) {
	ev, haveEV := outcome.Resolved[valuation.MetricEnterpriseValue]
	eq, haveEQ := outcome.Resolved[valuation.MetricEquityValue]
	if !haveEV || !haveEQ {
		return
	}

	debt := ev.Value - eq.Value
	outcome.ImpliedDebt = &debt
	if debt >= 0 && debt <= maxDebtRatio*ev.Value {
		return
	}

	e.logger.Warn().
		Float64("enterprise_value", ev.Value).
		Float64("equity_value", eq.Value).
		Float64("implied_debt", debt).
		Msg("Implied debt implausible, re-validating value pair")

	// Only the suspect pair is re-collected; the other metrics already
	// resolved cleanly.
	suspects := []valuation.Metric{valuation.MetricEnterpriseValue, valuation.MetricEquityValue}
	recollected := e.collectCandidates(ctx, suspects, docText, outcome.ValuationDate, valuationTime, haveDate)
	evPool := appendSuspect(recollected[valuation.MetricEnterpriseValue], ev)
	eqPool := appendSuspect(recollected[valuation.MetricEquityValue], eq)

	newEV, newEQ, ok := e.choosePair(ctx, evPool, eqPool, docText)
	if !ok {
		newEV, newEQ, ok = bestPlausiblePair(evPool, eqPool)
	}
	if !ok {
		delete(outcome.Resolved, valuation.MetricEquityValue)
		outcome.ImpliedDebt = nil
		outcome.DebtConsistent = false
		outcome.Issues = append(outcome.Issues,
			fmt.Sprintf("no plausible enterprise/equity pair: implied debt %g with enterprise value %g", debt, ev.Value))
		return
	}

	outcome.Resolved[valuation.MetricEnterpriseValue] = newEV
	outcome.Resolved[valuation.MetricEquityValue] = newEQ
	resolved := newEV.Value - newEQ.Value
	outcome.ImpliedDebt = &resolved
}

func appendSuspect(pool []valuation.Candidate, suspect valuation.Candidate) []valuation.Candidate {
	if hasValue(pool, suspect.Value) {
		return pool
	}
	suspect.Confidence = suspectConfidence
	suspect.Source = suspect.Source + "_suspect"
	return append(pool, suspect)
}

const pairReplyFormat = `Reply with a single JSON object: {"enterpriseValue": <1-based option number>, "equityValue": <1-based option number>, "reason": "<one sentence>"}.`

// choosePair asks a model for the enterprise/equity combination with a
// plausible implied debt. An implausible choice is rejected.
func (e *Enhancer) choosePair(ctx context.Context, evPool, eqPool []valuation.Candidate, docText string) (valuation.Candidate, valuation.Candidate, bool) {
	if len(evPool) == 0 || len(eqPool) == 0 {
		return valuation.Candidate{}, valuation.Candidate{}, false
	}

	prompt := fmt.Sprintf(
		"The extracted enterprise value and equity value for this company imply an impossible debt figure. Choose one option from each list so that enterprise minus equity is a non-negative, plausible debt, preferring values tied to the valuation date.\n\nEnterprise value options:\n%s\nEquity value options:\n%s\n%s\n\nDocument excerpt:\n---\n%s\n---",
		formatPool(evPool), formatPool(eqPool), pairReplyFormat, clip(docText, e.contextBudget/2))

	response, err := e.completer.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Pair arbitration prompt failed")
		return valuation.Candidate{}, valuation.Candidate{}, false
	}

	evIdx, eqIdx, ok := decodePairChoice(response, len(evPool), len(eqPool))
	if !ok {
		return valuation.Candidate{}, valuation.Candidate{}, false
	}

	ev, eq := evPool[evIdx-1], eqPool[eqIdx-1]
	if !plausiblePair(ev.Value, eq.Value) {
		return valuation.Candidate{}, valuation.Candidate{}, false
	}
	return ev, eq, true
}

// bestPlausiblePair is the deterministic fallback: the plausible pair with
// the highest combined confidence.
func bestPlausiblePair(evPool, eqPool []valuation.Candidate) (valuation.Candidate, valuation.Candidate, bool) {
	var bestEV, bestEQ valuation.Candidate
	bestScore := -1.0
	for _, ev := range evPool {
		for _, eq := range eqPool {
			if !plausiblePair(ev.Value, eq.Value) {
				continue
			}
			score := ev.Confidence + eq.Confidence
			if score > bestScore {
				bestScore = score
				bestEV, bestEQ = ev, eq
			}
		}
	}
	return bestEV, bestEQ, bestScore >= 0
}

func plausiblePair(ev, eq float64) bool {
	debt := ev - eq
	return debt >= 0 && debt <= maxDebtRatio*ev
}

func formatPool(pool []valuation.Candidate) string {
	var b strings.Builder
	for i, c := range pool {
		fmt.Fprintf(&b, "%d. value=%g source=%s confidence=%.2f dateRelevance=%s\n",
			i+1, c.Value, c.Source, c.Confidence, c.DateRelevance)
	}
	return b.String()
}

func decodePairChoice(raw string, evOptions, eqOptions int) (int, int, bool) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var reply struct {
		EnterpriseValue int    `json:"enterpriseValue"`
		EquityValue     int    `json:"equityValue"`
		Reason          string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		repaired, repairErr := jsonrepair.RepairJSON(raw)
		if repairErr != nil {
			return 0, 0, false
		}
		if err := json.Unmarshal([]byte(repaired), &reply); err != nil {
			return 0, 0, false
		}
	}
	if reply.EnterpriseValue < 1 || reply.EnterpriseValue > evOptions {
		return 0, 0, false
	}
	if reply.EquityValue < 1 || reply.EquityValue > eqOptions {
		return 0, 0, false
	}
	return reply.EnterpriseValue, reply.EquityValue, true
}

// sanityChecks applies the advisory relationship rules. Findings are
// recorded, never corrected.
func sanityChecks(outcome *Outcome) []string {
	var issues []string

	revenue, haveRevenue := outcome.Resolved[valuation.MetricRevenue]
	ebitda, haveEBITDA := outcome.Resolved[valuation.MetricEBITDA]
	ev, haveEV := outcome.Resolved[valuation.MetricEnterpriseValue]

	if haveRevenue && haveEBITDA && revenue.Value != 0 {
		margin := ebitda.Value / revenue.Value
		if margin < 0.05 || margin > 0.50 {
			issues = append(issues,
				fmt.Sprintf("EBITDA margin %.1f%% outside the typical 5-50%% range", margin*100))
		}
	}
	if haveEV && haveEBITDA && ebitda.Value != 0 {
		multiple := ev.Value / ebitda.Value
		if multiple < 3 || multiple > 20 {
			issues = append(issues,
				fmt.Sprintf("EV/EBITDA multiple %.1fx outside the typical 3x-20x range", multiple))
		}
	}
	return issues
}
