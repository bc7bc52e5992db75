// Package pipeline sequences the processing stages for one document:
// normalize, chunk, embed, extract, validate, merge, persist.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/valuation-engine/internal/chunk"
	"github.com/meridianlabs/valuation-engine/internal/embedding"
	"github.com/meridianlabs/valuation-engine/internal/extract"
	"github.com/meridianlabs/valuation-engine/internal/job"
	"github.com/meridianlabs/valuation-engine/internal/merge"
	"github.com/meridianlabs/valuation-engine/internal/normalize"
	"github.com/meridianlabs/valuation-engine/internal/observability"
	"github.com/meridianlabs/valuation-engine/internal/storage"
	"github.com/meridianlabs/valuation-engine/internal/validate"
	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

// Stage progress boundaries, in percent.
const (
	progressNormalize       = 5
	progressChunk           = 15
	progressEmbedStart      = 20
	progressEmbedEnd        = 50
	progressExtract         = 65
	progressValidate        = 80
	progressPersist         = 95
	unvalidatedScoreCeiling = 60
)

// Output is the result of a completed pipeline run.
type Output struct {
	DocumentID uuid.UUID            `json:"documentId"`
	Filename   string               `json:"filename"`
	Metrics    *valuation.MetricSet `json:"metrics"`
	Confidence int                  `json:"confidence"`
	ChunkCount int                  `json:"chunkCount"`
	PageCount  int                  `json:"pageCount"`
	ParseTier  string               `json:"parseTier"`
	Issues     []string             `json:"issues,omitempty"`
}

// Options wires a Pipeline's collaborators. Enhancer may be nil to disable
// the validation pass.
type Options struct {
	Normalizer  *normalize.Normalizer
	Chunker     *chunk.Chunker
	Batcher     *embedding.Batcher
	Extractor   *extract.Extractor
	Enhancer    *validate.Enhancer
	Documents   *storage.DocumentRepository
	Metrics     *storage.MetricsRepository
	MergePolicy merge.Policy
}

// Pipeline runs the full processing sequence for one document.
type Pipeline struct {
	logger      *observability.Logger
	normalizer  *normalize.Normalizer
	chunker     *chunk.Chunker
	batcher     *embedding.Batcher
	extractor   *extract.Extractor
	enhancer    *validate.Enhancer
	documents   *storage.DocumentRepository
	metrics     *storage.MetricsRepository
	mergePolicy merge.Policy
}

// New creates a Pipeline.
func New(logger *observability.Logger, opts Options) *Pipeline {
	policy := opts.MergePolicy
	if policy == "" {
		policy = merge.PolicyEnhancedOverrides
	}
	return &Pipeline{
		logger:      logger.WithComponent("pipeline"),
		normalizer:  opts.Normalizer,
		chunker:     opts.Chunker,
		batcher:     opts.Batcher,
		extractor:   opts.Extractor,
		enhancer:    opts.Enhancer,
		documents:   opts.Documents,
		metrics:     opts.Metrics,
		mergePolicy: policy,
	}
}

// Process runs every stage for one uploaded document. Extraction and
// validation degrade gracefully; only persistence failures return an error.
// The returned Output always carries a schema-complete MetricSet.
func (p *Pipeline) Process(ctx context.Context, filename string, data []byte, reporter job.ProgressReporter) (*Output, error) {
	if reporter == nil {
		reporter = job.NopReporter{}
	}

	reporter.Progress(progressNormalize, "Extracting document text")
	doc := p.normalizer.Normalize(ctx, filename, data)

	reporter.Progress(progressChunk, "Splitting document into chunks")
	chunks := p.chunker.Split(doc)

	reporter.Progress(progressEmbedStart, "Generating embeddings")
	vectors := p.embedChunks(ctx, chunks, reporter)

	reporter.Progress(progressEmbedEnd, "Extracting valuation metrics")
	base, err := p.extractor.Extract(ctx, doc.Text())
	if err != nil {
		// Extraction only errors on context cancellation; an unusable
		// document still yields an all-null set.
		return nil, fmt.Errorf("extract metrics: %w", err)
	}

	reporter.Progress(progressExtract, "Validating extracted metrics")
	final, confidence, issues := p.validateAndMerge(ctx, doc, base)

	reporter.Progress(progressValidate, "Saving results")
	output := &Output{
		Filename:   filename,
		Metrics:    final,
		Confidence: confidence,
		ChunkCount: len(chunks),
		PageCount:  len(doc.Pages),
		ParseTier:  string(doc.Tier),
		Issues:     issues,
	}
	if err := p.persist(ctx, doc, chunks, vectors, output); err != nil {
		return nil, err
	}

	reporter.Progress(progressPersist, "Finalizing")
	return output, nil
}

// embedChunks runs the embedding batch, mapping per-item completion onto the
// embed progress window.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunk.Chunk, reporter job.ProgressReporter) [][]float32 {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	if len(texts) == 0 {
		return nil
	}

	var done atomic.Int64
	total := int64(len(texts))
	result, err := p.batcher.EmbedAll(ctx, texts, func(int, bool) {
		n := done.Add(1)
		span := progressEmbedEnd - progressEmbedStart
		percent := progressEmbedStart + int(int64(span)*n/total)
		reporter.Progress(percent, fmt.Sprintf("Embedded %d of %d chunks", n, total))
	})
	if err != nil {
		// Only context cancellation lands here; proceed with whatever
		// vectors were produced, failed slots already hold placeholders.
		p.logger.Warn().Err(err).Msg("Embedding batch aborted")
	}
	return result.Vectors
}

// validateAndMerge runs the enhanced pass and merges it over the base
// metrics. A validation failure degrades to base metrics with a reduced
// confidence score instead of failing the run.
func (p *Pipeline) validateAndMerge(ctx context.Context, doc *normalize.Document, base *extract.Result) (*valuation.MetricSet, int, []string) {
	if p.enhancer == nil {
		return base.Metrics, unvalidatedScore(base), nil
	}

	outcome, err := p.enhancer.Run(ctx, doc.Text())
	if err != nil {
		p.logger.Warn().Err(err).Msg("Enhanced validation failed, continuing with base metrics")
		return base.Metrics, unvalidatedScore(base), nil
	}

	final := merge.Merge(base.Metrics, outcome.MetricSet(), p.mergePolicy)
	return final, outcome.Confidence, outcome.Issues
}

// unvalidatedScore rates base-only results by completeness, capped below the
// validated range.
func unvalidatedScore(base *extract.Result) int {
	return int(math.Round(base.Metrics.Completeness() * unvalidatedScoreCeiling))
}

// persist writes the document, chunks, and metrics. Failures here are fatal
// to the job.
func (p *Pipeline) persist(ctx context.Context, doc *normalize.Document, chunks []chunk.Chunk, vectors [][]float32, output *Output) error {
	record := &storage.Document{
		ID:        uuid.New(),
		Filename:  output.Filename,
		RawText:   doc.Text(),
		PageCount: len(doc.Pages),
		ParseTier: string(doc.Tier),
		CreatedAt: time.Now(),
	}

	pages := make([]storage.Page, 0, len(doc.Pages))
	for _, page := range doc.Pages {
		pages = append(pages, storage.Page{Number: page.Number, Text: page.Text})
	}

	rows := make([]storage.Chunk, 0, len(chunks))
	for i, c := range chunks {
		row := storage.Chunk{
			SequenceIndex: c.Index,
			Text:          c.Text,
			IsVisual:      c.IsVisual,
		}
		if !c.IsVisual {
			page := c.Page
			row.PageNumber = &page
		}
		if i < len(vectors) {
			row.Embedding = vectors[i]
		}
		if c.IsVisual && c.Element != "" {
			meta, _ := json.Marshal(map[string]string{"element": c.Element})
			row.Metadata = meta
		}
		rows = append(rows, row)
	}

	if err := p.documents.CreateWithChunks(ctx, record, pages, rows); err != nil {
		return fmt.Errorf("persist document: %w", err)
	}
	output.DocumentID = record.ID

	metricsJSON, err := json.Marshal(output.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	var issuesJSON json.RawMessage
	if len(output.Issues) > 0 {
		issuesJSON, _ = json.Marshal(output.Issues)
	}
	if err := p.metrics.Create(ctx, &storage.ExtractedMetrics{
		DocumentID:  record.ID,
		Metrics:     metricsJSON,
		Confidence:  output.Confidence,
		MergePolicy: string(p.mergePolicy),
		Issues:      issuesJSON,
	}); err != nil {
		return fmt.Errorf("persist metrics: %w", err)
	}

	if err := p.documents.MarkProcessed(ctx, record.ID); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to stamp document processed time")
	}
	return nil
}
