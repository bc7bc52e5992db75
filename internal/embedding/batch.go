package embedding

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/meridianlabs/valuation-engine/internal/observability"
)

// BatchResult holds the vectors for a batch in input order. Vectors[i] always
// corresponds to texts[i]; failed items carry a zero-valued placeholder vector
// so positions never shift.
type BatchResult struct {
	Vectors [][]float32
	Failed  int
}

// Batcher embeds many texts in bounded concurrent waves.
type Batcher struct {
	client      Client
	logger      *observability.Logger
	concurrency int
}

// NewBatcher creates a Batcher. Concurrency defaults to 12.
func NewBatcher(logger *observability.Logger, client Client, concurrency int) *Batcher {
	if concurrency <= 0 {
		concurrency = 12
	}
	return &Batcher{
		client:      client,
		logger:      logger.WithComponent("embedding"),
		concurrency: concurrency,
	}
}

// EmbedAll embeds every text, at most concurrency requests in flight. Results
// are written back by position. A failed item gets a placeholder vector
// rather than failing the batch; only context cancellation aborts. onItem, if
// non-nil, is called once per completed item and may be called concurrently.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string, onItem func(index int, ok bool)) (BatchResult, error) {
	result := BatchResult{Vectors: make([][]float32, len(texts))}
	if len(texts) == 0 {
		return result, nil
	}

	failed := make([]bool, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := b.client.Embed(gctx, text)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				b.logger.Warn().
					Int("index", i).
					Err(err).
					Msg("Embedding failed, using placeholder vector")
				vec = make([]float32, b.client.Dimension())
				failed[i] = true
			}
			result.Vectors[i] = vec
			if onItem != nil {
				onItem(i, !failed[i])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	for _, f := range failed {
		if f {
			result.Failed++
		}
	}
	if result.Failed > 0 {
		b.logger.Warn().
			Int("failed", result.Failed).
			Int("total", len(texts)).
			Msg("Batch completed with placeholder vectors")
	}
	return result, nil
}
