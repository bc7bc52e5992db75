// Package normalize turns a raw PDF into an ordered list of plain-text pages
// plus any detected visual elements. Extraction is tiered: each strategy is a
// total fallback for the previous one, and the final placeholder tier always
// succeeds, so normalization itself never fails the pipeline.
package normalize

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/meridianlabs/valuation-engine/internal/docparse"
	"github.com/meridianlabs/valuation-engine/internal/observability"
)

// Tier identifies which extraction strategy produced a document.
type Tier string

const (
	TierService        Tier = "service"
	TierServiceResplit Tier = "service_resplit"
	TierRawText        Tier = "raw_text"
	TierPlaceholder    Tier = "placeholder"
)

// resplitThreshold is the single-page text length above which the service
// result is suspected of having lost page boundaries.
const resplitThreshold = 2000

// Document is the normalized output: ordered pages plus visual elements,
// tagged with the tier that produced it so consumers can judge text quality.
type Document struct {
	Filename string
	Pages    []docparse.Page
	Elements []docparse.VisualElement
	Tier     Tier
}

// Text returns all page text joined in page order.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Strategy is one extraction tier with a uniform contract.
type Strategy struct {
	Tier Tier
	Run  func(ctx context.Context, filename string, data []byte) (*Document, error)
}

// Normalizer runs the tiered extraction chain.
type Normalizer struct {
	logger      *observability.Logger
	parser      docparse.Parser
	maxPageSize int
	strategies  []Strategy
	probe       func(data []byte) int // structural page count, 0 when unknown
}

// Options configures a Normalizer.
type Options struct {
	Parser      docparse.Parser
	MaxPageSize int // target size for logically split pages
}

// NewNormalizer creates a Normalizer with the standard strategy order.
func NewNormalizer(logger *observability.Logger, opts Options) *Normalizer {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = 2500
	}

	n := &Normalizer{
		logger:      logger.WithComponent("normalizer"),
		parser:      opts.Parser,
		maxPageSize: maxPageSize,
	}
	n.probe = n.probePageCount
	n.strategies = []Strategy{
		{Tier: TierService, Run: n.runService},
		{Tier: TierRawText, Run: n.runRawText},
		{Tier: TierPlaceholder, Run: n.runPlaceholder},
	}
	return n
}

// Normalize extracts pages from the PDF, trying each tier in order and
// returning the first success. The placeholder tier cannot fail, so the
// returned document is never nil.
func (n *Normalizer) Normalize(ctx context.Context, filename string, data []byte) *Document {
	for _, strategy := range n.strategies {
		doc, err := strategy.Run(ctx, filename, data)
		if err != nil {
			n.logger.Warn().
				Str("tier", string(strategy.Tier)).
				Str("filename", filename).
				Err(err).
				Msg("Extraction tier failed, advancing to next")
			continue
		}

		n.logger.Info().
			Str("tier", string(doc.Tier)).
			Str("filename", filename).
			Int("pages", len(doc.Pages)).
			Int("elements", len(doc.Elements)).
			Msg("Document normalized")
		return doc
	}

	// Unreachable: the placeholder strategy never errors.
	doc, _ := n.runPlaceholder(ctx, filename, data)
	return doc
}

// runService calls the external parsing service, re-splitting a suspiciously
// long single page into logical pages.
func (n *Normalizer) runService(ctx context.Context, filename string, data []byte) (*Document, error) {
	if n.parser == nil {
		return nil, fmt.Errorf("no parsing service configured")
	}

	result, err := n.parser.Parse(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("parse service: %w", err)
	}
	if len(result.Pages) == 0 {
		return nil, fmt.Errorf("parse service returned no pages")
	}

	doc := &Document{
		Filename: filename,
		Pages:    result.Pages,
		Elements: result.Elements,
		Tier:     TierService,
	}

	if len(result.Pages) == 1 && len(result.Pages[0].Text) > resplitThreshold {
		if expected := n.probe(data); expected == 1 {
			// The PDF structurally is a single page; the service did not
			// lose boundaries, so the long page stands.
			n.logger.Debug().Msg("Page-count probe confirms a single page, skipping re-split")
			return doc, nil
		}
		segments := SplitLogicalPages(result.Pages[0].Text, n.maxPageSize)
		if len(segments) > 1 {
			doc.Pages = pagesFromSegments(segments)
			doc.Tier = TierServiceResplit
			n.logger.Debug().
				Int("segments", len(segments)).
				Msg("Re-split single service page into logical pages")
		}
	}

	return doc, nil
}

// runRawText scans the PDF binary for text operators and stream objects.
func (n *Normalizer) runRawText(ctx context.Context, filename string, data []byte) (*Document, error) {
	text, err := extractRawText(data)
	if err != nil {
		return nil, err
	}

	segments := SplitLogicalPages(text, n.maxPageSize)
	return &Document{
		Filename: filename,
		Pages:    pagesFromSegments(segments),
		Tier:     TierRawText,
	}, nil
}

// runPlaceholder produces a deterministic single-page document so the
// pipeline stays non-fatal even when nothing could be extracted.
func (n *Normalizer) runPlaceholder(ctx context.Context, filename string, data []byte) (*Document, error) {
	text := fmt.Sprintf(
		"Document %s could not be parsed. Raw size: %d bytes. "+
			"Metric extraction will operate on an empty document.",
		filename, len(data),
	)
	return &Document{
		Filename: filename,
		Pages:    []docparse.Page{{Number: 1, Text: text}},
		Tier:     TierPlaceholder,
	}, nil
}

// probePageCount asks pdfcpu for the structural page count, deciding whether
// a single long service page really lost its boundaries. Returns 0 when the
// PDF cannot be read, which leaves the re-split heuristic in charge.
func (n *Normalizer) probePageCount(data []byte) int {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	count, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		n.logger.Debug().Err(err).Msg("pdfcpu page-count probe failed")
		return 0
	}
	return count
}

func pagesFromSegments(segments []string) []docparse.Page {
	pages := make([]docparse.Page, 0, len(segments))
	for i, seg := range segments {
		pages = append(pages, docparse.Page{Number: i + 1, Text: seg})
	}
	return pages
}
