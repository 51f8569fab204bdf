package embedding

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Batcher splits large inputs into provider-sized batches and runs them
// with bounded concurrency. Output order matches input order.
type Batcher struct {
	Provider
	size        int
	concurrency int
}

// NewBatcher wraps p. Non-positive size defaults to 64 and concurrency to 2.
func NewBatcher(p Provider, size, concurrency int) *Batcher {
	if size <= 0 {
		size = 64
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Batcher{Provider: p, size: size, concurrency: concurrency}
}

// EmbedBatch fans batches out and stops at the first failure.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) <= b.size {
		return b.Provider.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for start := 0; start < len(texts); start += b.size {
		end := min(start+b.size, len(texts))
		g.Go(func() error {
			vectors, err := b.Provider.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
