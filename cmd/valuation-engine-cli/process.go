package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/meridianlabs/valuation-engine/internal/cache"
	"github.com/meridianlabs/valuation-engine/internal/chunk"
	"github.com/meridianlabs/valuation-engine/internal/config"
	"github.com/meridianlabs/valuation-engine/internal/docparse"
	"github.com/meridianlabs/valuation-engine/internal/embedding"
	"github.com/meridianlabs/valuation-engine/internal/extract"
	"github.com/meridianlabs/valuation-engine/internal/llm"
	"github.com/meridianlabs/valuation-engine/internal/merge"
	"github.com/meridianlabs/valuation-engine/internal/normalize"
	"github.com/meridianlabs/valuation-engine/internal/observability"
	"github.com/meridianlabs/valuation-engine/internal/pipeline"
	"github.com/meridianlabs/valuation-engine/internal/storage"
	"github.com/meridianlabs/valuation-engine/internal/validate"
)

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <report.pdf>",
		Short: "Run the full extraction pipeline on a PDF report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return runProcess(cmd.Context(), cfg, logger, args[0])
		},
	}
}

// barReporter adapts a terminal progress bar to the pipeline's reporter.
type barReporter struct {
	bar *progressbar.ProgressBar
}

func (r *barReporter) Progress(percent int, message string) {
	r.bar.Describe(message)
	_ = r.bar.Set(percent)
}

func runProcess(ctx context.Context, cfg *config.Config, logger *observability.Logger, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Connecting to services..."
	s.Start()
	pl, cleanup, err := buildPipeline(cfg, logger)
	s.Stop()
	if err != nil {
		return err
	}
	defer cleanup()

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Starting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	output, err := pl.Process(ctx, filepath.Base(path), data, &barReporter{bar: bar})
	_ = bar.Finish()
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	printOutput(output)
	return nil
}

func printOutput(output *pipeline.Output) {
	header := color.New(color.FgCyan, color.Bold)
	label := color.New(color.FgWhite)
	value := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)

	header.Printf("\n%s\n", output.Filename)
	label.Printf("  document:   ")
	value.Printf("%s\n", output.DocumentID)
	label.Printf("  pages:      ")
	value.Printf("%d (tier %s)\n", output.PageCount, output.ParseTier)
	label.Printf("  chunks:     ")
	value.Printf("%d\n", output.ChunkCount)
	label.Printf("  confidence: ")
	value.Printf("%d%%\n", output.Confidence)

	header.Printf("\nMetrics\n")
	printMetric(label, value, "enterprise value", output.Metrics.EnterpriseValue.CurrentValue)
	printMetric(label, value, "value of equity", output.Metrics.ValueOfEquity.CurrentValue)
	printMetric(label, value, "value per share", output.Metrics.ValuationPerShare.CurrentValue)
	printMetric(label, value, "company valuation", output.Metrics.CompanyValuation.TotalValue)
	printMetric(label, value, "revenue", output.Metrics.KeyFinancials.Revenue)
	printMetric(label, value, "EBITDA", output.Metrics.KeyFinancials.EBITDA)
	printMetric(label, value, "discount rate %", output.Metrics.DiscountRates.DiscountRate)
	printMetric(label, value, "total shares", output.Metrics.CapitalStructure.TotalShares)
	printMetric(label, value, "ESOP shares", output.Metrics.CapitalStructure.ESOPShares)
	printMetric(label, value, "ESOP %", output.Metrics.CapitalStructure.ESOPPercentage)
	if output.Metrics.ValuationDate != nil {
		label.Printf("  %-18s", "valuation date")
		value.Printf("%s\n", *output.Metrics.ValuationDate)
	}

	if len(output.Issues) > 0 {
		header.Printf("\nAdvisory issues\n")
		for _, issue := range output.Issues {
			warn.Printf("  - %s\n", issue)
		}
	}
}

func printMetric(label, value *color.Color, name string, v *float64) {
	label.Printf("  %-18s", name)
	if v == nil {
		color.New(color.FgHiBlack).Println("null")
		return
	}
	value.Printf("%g\n", *v)
}

// buildPipeline wires a pipeline for local, single-document runs.
func buildPipeline(cfg *config.Config, logger *observability.Logger) (*pipeline.Pipeline, func(), error) {
	driver := cfg.Database.Driver
	if driver == "sqlite" {
		driver = "sqlite3"
	}
	db, err := storage.Open(driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.EnsureSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	completer, err := llm.NewClient(logger, llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Models:     []string{cfg.LLM.PrimaryModel, cfg.LLM.SecondaryModel},
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var embedder embedding.Client
	if cfg.Embedding.APIKey == "" {
		embedder = embedding.NewMockClient(cfg.Embedding.Dimension)
	} else {
		embedder, err = embedding.NewHTTPClient(embedding.Config{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   cfg.Embedding.Timeout,
		})
		if err != nil {
			db.Close()
			return nil, nil, err
		}
	}

	var parser docparse.Parser
	if client, err := docparse.NewClient(docparse.Config{
		BaseURL: cfg.DocParse.BaseURL,
		APIKey:  cfg.DocParse.APIKey,
		Timeout: cfg.DocParse.Timeout,
	}); err == nil {
		parser = client
	}

	policy, err := merge.ParsePolicy(cfg.Pipeline.MergePolicy)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var enhancer *validate.Enhancer
	if cfg.Pipeline.EnhancedEnabled {
		enhancer = validate.NewEnhancer(logger, validate.Options{Completer: completer})
	}

	pl := pipeline.New(logger, pipeline.Options{
		Normalizer: normalize.NewNormalizer(logger, normalize.Options{
			Parser:      parser,
			MaxPageSize: cfg.Pipeline.MaxPageSize,
		}),
		Chunker: chunk.New(cfg.Pipeline.MaxChunkSize, cfg.Pipeline.ChunkOverlap),
		Batcher: embedding.NewBatcher(logger, embedder, cfg.Embedding.Concurrency),
		Extractor: extract.NewExtractor(logger, extract.Options{
			Completer:      completer,
			Cache:          cache.NewMemoryClient(cfg.Cache.ExtractCapacity),
			CacheTTL:       cfg.Cache.TTL,
			MaxSegmentSize: cfg.Pipeline.MaxSegmentSize,
		}),
		Enhancer:    enhancer,
		Documents:   storage.NewDocumentRepository(db),
		Metrics:     storage.NewMetricsRepository(db),
		MergePolicy: policy,
	})

	return pl, func() { db.Close() }, nil
}
