package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridianlabs/valuation-engine/internal/cache"
	"github.com/meridianlabs/valuation-engine/internal/llm"
	"github.com/meridianlabs/valuation-engine/internal/observability"
	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

const (
	// Per-field confidence assigned at fill time, by extraction source.
	modelConfidence   = 0.9
	patternConfidence = 0.7

	// Relative difference beyond which two non-null values for the same
	// field count as a disagreement.
	disagreementTolerance = 0.01
)

// Result is the outcome of base extraction: the merged metrics plus
// per-field confidence in [0,1] keyed by JSON leaf path.
type Result struct {
	Metrics          *valuation.MetricSet `json:"metrics"`
	FieldConfidence  map[string]float64   `json:"fieldConfidence"`
	Segments         int                  `json:"segments"`
	PatternFallbacks int                  `json:"patternFallbacks"`
	FromCache        bool                 `json:"-"`
}

// Options configures an Extractor.
type Options struct {
	Completer      llm.Completer
	Cache          cache.Client  // optional; short-circuits repeat extraction
	CacheTTL       time.Duration // zero means no expiry
	MaxSegmentSize int           // defaults to 8000 characters
	Concurrency    int           // defaults to 12
}

// Extractor runs structured metric extraction over document text.
type Extractor struct {
	logger         *observability.Logger
	completer      llm.Completer
	cache          cache.Client
	cacheTTL       time.Duration
	maxSegmentSize int
	concurrency    int
}

// NewExtractor creates an Extractor.
func NewExtractor(logger *observability.Logger, opts Options) *Extractor {
	maxSegmentSize := opts.MaxSegmentSize
	if maxSegmentSize <= 0 {
		maxSegmentSize = 8000
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 12
	}
	return &Extractor{
		logger:         logger.WithComponent("extractor"),
		completer:      opts.Completer,
		cache:          opts.Cache,
		cacheTTL:       opts.CacheTTL,
		maxSegmentSize: maxSegmentSize,
		concurrency:    concurrency,
	}
}

// Extract derives one metric set from the full document text. The text is
// segmented to fit the model's context window, segments are extracted in
// bounded concurrent waves, and the partial sets are merged first-non-null
// in segment order. Identical input short-circuits through the cache. This
// never fails past its boundary: a segment where both the model and the
// pattern extractor come up empty contributes an all-null set.
func (e *Extractor) Extract(ctx context.Context, text string) (*Result, error) {
	key := contentKey(text)
	if cached := e.cacheLookup(ctx, key); cached != nil {
		return cached, nil
	}

	segments := segmentText(text, e.maxSegmentSize)
	if len(segments) == 0 {
		segments = []string{""}
	}

	type segmentOutcome struct {
		metrics *valuation.MetricSet
		pattern bool
	}
	outcomes := make([]segmentOutcome, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, segment := range segments {
		i, segment := i, segment
		g.Go(func() error {
			metrics, usedPattern := e.extractSegment(gctx, segment)
			outcomes[i] = segmentOutcome{metrics: metrics, pattern: usedPattern}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		Metrics:         valuation.NewMetricSet(),
		FieldConfidence: make(map[string]float64),
		Segments:        len(segments),
	}
	for _, outcome := range outcomes {
		conf := modelConfidence
		if outcome.pattern {
			conf = patternConfidence
			result.PatternFallbacks++
		}
		mergeSegment(result, outcome.metrics, conf)
	}
	result.Metrics.Normalize()

	e.cacheStore(ctx, key, result)
	e.logger.Info().
		Int("segments", result.Segments).
		Int("pattern_fallbacks", result.PatternFallbacks).
		Float64("completeness", result.Metrics.Completeness()).
		Msg("Base extraction complete")
	return result, nil
}

// extractSegment tries the model chain first and falls back to deterministic
// pattern matching. The bool reports whether the pattern path was used.
func (e *Extractor) extractSegment(ctx context.Context, segment string) (*valuation.MetricSet, bool) {
	if strings.TrimSpace(segment) == "" {
		return valuation.NewMetricSet(), false
	}

	response, err := e.completer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: extractionUserPrompt(segment)},
		},
		Temperature: 0,
	})
	if err == nil {
		if metrics, decodeErr := DecodeMetricSet(response); decodeErr == nil {
			return metrics, false
		}
		e.logger.Warn().Msg("Model response not parseable, using pattern extractor")
	} else {
		e.logger.Warn().Err(err).Msg("Model extraction failed, using pattern extractor")
	}

	return FromText(segment), true
}

// mergeSegment folds one segment's metrics into the running result. The
// first non-null value for a field wins; a later materially different value
// keeps the earlier one but halves that field's confidence.
func mergeSegment(result *Result, segment *valuation.MetricSet, sourceConf float64) {
	for _, leaf := range valuation.Leaves {
		incoming := leaf.Get(segment)
		if incoming == nil {
			continue
		}
		existing := leaf.Get(result.Metrics)
		if existing == nil {
			leaf.Set(result.Metrics, incoming)
			result.FieldConfidence[leaf.Path] = sourceConf
			continue
		}
		if materiallyDifferent(*existing, *incoming) {
			result.FieldConfidence[leaf.Path] = result.FieldConfidence[leaf.Path] / 2
		}
	}

	if result.Metrics.ValuationDate == nil && segment.ValuationDate != nil {
		result.Metrics.ValuationDate = segment.ValuationDate
	}
}

func materiallyDifferent(a, b float64) bool {
	if a == b {
		return false
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return false
	}
	return math.Abs(a-b)/scale > disagreementTolerance
}

// segmentText splits text into paragraph-bounded segments of at most maxSize
// characters. A single oversized paragraph becomes its own segment.
func segmentText(text string, maxSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxSize {
		return []string{text}
	}

	var segments []string
	var current strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > maxSize {
			segments = append(segments, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	return segments
}

func contentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cache.CacheKey("extract", hex.EncodeToString(sum[:]))
}

func (e *Extractor) cacheLookup(ctx context.Context, key string) *Result {
	if e.cache == nil {
		return nil
	}
	data, err := e.cache.Get(ctx, key)
	if err != nil {
		return nil
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	result.FromCache = true
	return &result
}

func (e *Extractor) cacheStore(ctx context.Context, key string, result *Result) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data, e.cacheTTL); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to cache extraction result")
	}
}
