package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"golang.org/x/sync/errgroup"

	"github.com/meridianlabs/valuation-engine/internal/llm"
	"github.com/meridianlabs/valuation-engine/internal/observability"
	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

// framing is one independently-worded extraction prompt strategy.
type framing struct {
	name       string
	confidence float64
	build      func(metric valuation.Metric, valuationDate string, docText string) string
}

// Outcome is the result of the enhanced validation pass.
type Outcome struct {
	// Resolved holds the chosen value per target metric. Metrics with no
	// surviving candidate are absent.
	Resolved map[valuation.Metric]valuation.Candidate

	// Candidates holds every collected candidate per metric, post-dedupe.
	Candidates map[valuation.Metric][]valuation.Candidate

	// ValuationDate is the canonical stated date, empty when undetermined.
	ValuationDate string

	// Ambiguous lists metrics where no date-relevant candidate existed and
	// all candidates were kept at halved confidence.
	Ambiguous []valuation.Metric

	// Issues holds advisory relationship findings. Never fatal.
	Issues []string

	// DebtConsistent is false only when cross-validation could not reach a
	// non-negative, plausible implied debt.
	DebtConsistent bool

	// ImpliedDebt is enterprise minus equity when both resolved.
	ImpliedDebt *float64

	// Confidence is the blended score as an integer percentage.
	Confidence int
}

// MetricSet projects the resolved values into the wire schema.
func (o *Outcome) MetricSet() *valuation.MetricSet {
	m := valuation.NewMetricSet()
	for metric, candidate := range o.Resolved {
		m.Set(metric, candidate.Value)
	}
	if o.ValuationDate != "" {
		m.ValuationDate = &o.ValuationDate
	}
	m.Normalize()
	return m
}

// Options configures an Enhancer.
type Options struct {
	Completer     llm.Completer
	Concurrency   int // defaults to 12
	ContextBudget int // max document characters passed to a prompt, defaults to 12000
}

// Enhancer runs the multi-prompt validation pass over a document.
type Enhancer struct {
	logger        *observability.Logger
	completer     llm.Completer
	concurrency   int
	contextBudget int
	framings      []framing
}

// NewEnhancer creates an Enhancer with the standard three prompt framings.
func NewEnhancer(logger *observability.Logger, opts Options) *Enhancer {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 12
	}
	contextBudget := opts.ContextBudget
	if contextBudget <= 0 {
		contextBudget = 12000
	}
	return &Enhancer{
		logger:        logger.WithComponent("validate"),
		completer:     opts.Completer,
		concurrency:   concurrency,
		contextBudget: contextBudget,
		framings:      standardFramings,
	}
}

// Run collects candidates for every target metric, filters them by date
// relevance, resolves conflicts, cross-validates enterprise against equity
// value, applies advisory sanity checks, and scores overall confidence.
// Individual prompt failures cost candidates, never the pass.
func (e *Enhancer) Run(ctx context.Context, docText string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcome := &Outcome{
		Resolved:       make(map[valuation.Metric]valuation.Candidate),
		DebtConsistent: true,
	}

	valuationDate, valuationTime, haveDate := e.extractValuationDate(ctx, docText)
	outcome.ValuationDate = valuationDate
	if !haveDate {
		e.logger.Debug().Msg("No valuation date determined, relevance classification degrades to language markers")
	}

	outcome.Candidates = e.collectCandidates(ctx, valuation.TargetMetrics, docText, valuationDate, valuationTime, haveDate)

	for _, metric := range valuation.TargetMetrics {
		kept, ambiguous := filterByRelevance(outcome.Candidates[metric])
		if ambiguous {
			outcome.Ambiguous = append(outcome.Ambiguous, metric)
		}
		if chosen := e.resolveMetric(ctx, metric, kept, docText); chosen != nil {
			outcome.Resolved[metric] = *chosen
		}
	}

	e.crossValidate(ctx, outcome, docText, valuationTime, haveDate)
	outcome.Issues = append(outcome.Issues, sanityChecks(outcome)...)
	outcome.Confidence = scoreConfidence(outcome)

	e.logger.Info().
		Int("resolved", len(outcome.Resolved)).
		Int("issues", len(outcome.Issues)).
		Int("confidence", outcome.Confidence).
		Bool("debt_consistent", outcome.DebtConsistent).
		Msg("Enhanced validation complete")
	return outcome, nil
}

// standardFramings are the three prompt strategies per metric.
var standardFramings = []framing{
	{
		name:       "primary",
		confidence: 0.9,
		build: func(metric valuation.Metric, _ string, docText string) string {
			return fmt.Sprintf(
				"From this valuation report, what is the %s?\n%s\n\n---\n%s\n---",
				metricLabel(metric), candidateReplyFormat, docText)
		},
	},
	{
		name:       "authoritative",
		confidence: 0.85,
		build: func(metric valuation.Metric, _ string, docText string) string {
			return fmt.Sprintf(
				"Focus only on the report's authoritative sections (executive summary, conclusion of value, certification). What %s do those sections state?\n%s\n\n---\n%s\n---",
				metricLabel(metric), candidateReplyFormat, docText)
		},
	},
	{
		name:       "as_of_date",
		confidence: 0.85,
		build: func(metric valuation.Metric, valuationDate string, docText string) string {
			asOf := "the valuation date"
			if valuationDate != "" {
				asOf = valuationDate
			}
			return fmt.Sprintf(
				"What is the %s as of %s? Ignore historical comparatives and projections for other periods.\n%s\n\n---\n%s\n---",
				metricLabel(metric), asOf, candidateReplyFormat, docText)
		},
	},
}

const candidateReplyFormat = `Reply with a single JSON object: {"value": <number or null>, "context": "<the verbatim sentence the value comes from>"}.
Monetary values are absolute USD amounts; rates are percentages.`

func metricLabel(metric valuation.Metric) string {
	switch metric {
	case valuation.MetricEnterpriseValue:
		return "enterprise value"
	case valuation.MetricEquityValue:
		return "value of equity"
	case valuation.MetricDebt:
		return "total debt"
	case valuation.MetricRevenue:
		return "annual revenue"
	case valuation.MetricEBITDA:
		return "EBITDA"
	case valuation.MetricDiscountRate:
		return "discount rate (WACC), as a percentage"
	case valuation.MetricTotalShares:
		return "total number of shares outstanding"
	case valuation.MetricESOPPercentage:
		return "ESOP ownership percentage"
	}
	return string(metric)
}

// collectCandidates issues every (metric, framing) prompt in one bounded
// wave and groups the surviving candidates per metric, deduplicating
// identical values.
func (e *Enhancer) collectCandidates(ctx context.Context, metrics []valuation.Metric, docText, valuationDate string, valuationTime time.Time, haveDate bool) map[valuation.Metric][]valuation.Candidate {
	type slot struct {
		metric    valuation.Metric
		candidate *valuation.Candidate
	}
	slots := make([]slot, 0, len(metrics)*len(e.framings))
	for _, metric := range metrics {
		for range e.framings {
			slots = append(slots, slot{metric: metric})
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	i := 0
	for _, metric := range metrics {
		for _, f := range e.framings {
			metric, f := metric, f
			idx := i
			i++
			g.Go(func() error {
				candidate := e.collectOne(gctx, metric, f, docText, valuationDate, valuationTime, haveDate)
				if candidate != nil {
					mu.Lock()
					slots[idx].candidate = candidate
					mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	grouped := make(map[valuation.Metric][]valuation.Candidate)
	for _, s := range slots {
		if s.candidate == nil {
			continue
		}
		if hasValue(grouped[s.metric], s.candidate.Value) {
			continue
		}
		grouped[s.metric] = append(grouped[s.metric], *s.candidate)
	}
	return grouped
}

// collectOne runs one prompt and classifies the reply. Returns nil when the
// prompt fails or the metric is absent from the document.
func (e *Enhancer) collectOne(ctx context.Context, metric valuation.Metric, f framing, docText, valuationDate string, valuationTime time.Time, haveDate bool) *valuation.Candidate {
	prompt := f.build(metric, valuationDate, clip(docText, e.contextBudget))
	response, err := e.completer.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0,
	})
	if err != nil {
		e.logger.Warn().
			Str("metric", string(metric)).
			Str("framing", f.name).
			Err(err).
			Msg("Candidate prompt failed")
		return nil
	}

	value, snippet, err := decodeCandidateReply(response)
	if err != nil || value == nil {
		return nil
	}

	return &valuation.Candidate{
		Metric:        metric,
		Value:         *value,
		Source:        f.name,
		Confidence:    f.confidence,
		DateRelevance: classifyRelevance(snippet, valuationTime, haveDate),
		Context:       snippet,
	}
}

// decodeCandidateReply parses {"value": ..., "context": "..."} leniently.
func decodeCandidateReply(raw string) (*float64, string, error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var reply struct {
		Value   *float64 `json:"value"`
		Context string   `json:"context"`
	}
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		repaired, repairErr := jsonrepair.RepairJSON(raw)
		if repairErr != nil {
			return nil, "", fmt.Errorf("candidate reply not parseable: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &reply); err != nil {
			return nil, "", fmt.Errorf("candidate reply not parseable: %w", err)
		}
	}
	return reply.Value, reply.Context, nil
}

func hasValue(candidates []valuation.Candidate, value float64) bool {
	for _, c := range candidates {
		if c.Value == value {
			return true
		}
	}
	return false
}
