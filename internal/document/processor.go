package document

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
	"github.com/JakeFAU/rag-crawler/internal/crawler"
	"github.com/JakeFAU/rag-crawler/internal/embedding"
	"github.com/JakeFAU/rag-crawler/internal/metrics"
	"github.com/JakeFAU/rag-crawler/internal/vectorstore"
)

// Metadata identifies where a chunk came from.
type Metadata struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	ChunkIndex int    `json:"chunkIndex"`
}

// Chunk is one embedding-sized piece of a page.
type Chunk struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Tokens   int      `json:"tokens"`
	Metadata Metadata `json:"metadata"`
}

// UpsertReport describes one Upsert call.
type UpsertReport struct {
	Batches       int      `json:"batches"`
	FailedBatches int      `json:"failedBatches"`
	Upserted      int      `json:"upserted"`
	StaleDeleted  int      `json:"staleDeleted"`
	Errors        []string `json:"errors,omitempty"`
}

// ChunkID derives a stable ID from the page URL and chunk position, so
// re-crawls overwrite instead of duplicating.
func ChunkID(url string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url+"#"+strconv.Itoa(index))).String()
}

// Options configures a Processor.
type Options struct {
	UpsertBatchSize int
	DispatchWindow  int
}

// Processor chunks pages and writes their embeddings to an Index.
type Processor struct {
	splitter  Splitter
	index     vectorstore.Index
	batchSize int
	window    int
	logger    *zap.Logger
}

// NewProcessor builds a Processor. index may be nil for chunk-only use.
func NewProcessor(splitter Splitter, index vectorstore.Index, opts Options, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.UpsertBatchSize <= 0 {
		opts.UpsertBatchSize = 100
	}
	if opts.DispatchWindow <= 0 {
		opts.DispatchWindow = 4
	}
	return &Processor{
		splitter:  splitter,
		index:     index,
		batchSize: opts.UpsertBatchSize,
		window:    opts.DispatchWindow,
		logger:    logger.Named("document"),
	}
}

// Process splits page content into chunks with stable IDs.
func (p *Processor) Process(page crawler.Page) []Chunk {
	pieces := p.splitter.Split(page.Content)
	chunks := make([]Chunk, 0, len(pieces))
	for _, text := range pieces {
		if strings.TrimSpace(text) == "" {
			continue
		}
		idx := len(chunks)
		chunks = append(chunks, Chunk{
			ID:     ChunkID(page.URL, idx),
			Text:   text,
			Tokens: EstimateTokens(text),
			Metadata: Metadata{
				URL:        page.URL,
				Title:      page.Title,
				ChunkIndex: idx,
			},
		})
	}
	return chunks
}

// Upsert embeds chunks with provider and writes them to namespace in
// batches. A failed batch is recorded without cancelling its siblings.
// Stale chunks of the page are removed only after every batch succeeded.
func (p *Processor) Upsert(
	ctx context.Context,
	namespace string,
	chunks []Chunk,
	provider embedding.Provider,
) (UpsertReport, error) {
	var report UpsertReport
	if len(chunks) == 0 {
		return report, nil
	}
	if p.index == nil {
		return report, apperr.Configuration("vector index is not configured", nil)
	}
	if namespace == "" {
		return report, apperr.InvalidInput("namespace is required to index chunks")
	}

	have, err := p.index.Dimensions(ctx, namespace)
	if err != nil {
		return report, apperr.External("read namespace dimensions", err)
	}
	if want := provider.Dimensions(); have != 0 && want != 0 && have != want {
		return report, dimensionError(namespace, have, want)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := provider.EmbedBatch(ctx, texts)
	if err != nil {
		return report, err
	}
	if len(embeddings) != len(chunks) {
		return report, apperr.External("embedding count mismatch",
			fmt.Errorf("got %d embeddings for %d chunks", len(embeddings), len(chunks)))
	}
	if have != 0 && len(embeddings[0]) != have {
		return report, dimensionError(namespace, have, len(embeddings[0]))
	}

	vectors := make([]vectorstore.Vector, len(chunks))
	for i, c := range chunks {
		vectors[i] = vectorstore.Vector{
			ID:     c.ID,
			Values: embeddings[i],
			Metadata: vectorstore.Metadata{
				URL:        c.Metadata.URL,
				Title:      c.Metadata.Title,
				ChunkIndex: c.Metadata.ChunkIndex,
				Text:       c.Text,
			},
		}
	}

	p.dispatch(ctx, namespace, vectors, &report)
	if report.FailedBatches > 0 {
		return report, apperr.External(
			fmt.Sprintf("vector upsert failed for %d of %d batches", report.FailedBatches, report.Batches),
			errors.New(strings.Join(report.Errors, "; ")),
		)
	}

	url := chunks[0].Metadata.URL
	removed, err := p.index.DeleteStale(ctx, namespace, url, len(chunks))
	if err != nil {
		p.logger.Warn("delete stale chunks failed", zap.String("url", url), zap.Error(err))
	}
	report.StaleDeleted = removed
	return report, nil
}

func (p *Processor) dispatch(ctx context.Context, namespace string, vectors []vectorstore.Vector, report *UpsertReport) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.window)
	for start := 0; start < len(vectors); start += p.batchSize {
		end := min(start+p.batchSize, len(vectors))
		batch := vectors[start:end]
		report.Batches++
		g.Go(func() error {
			err := p.index.Upsert(ctx, namespace, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.FailedBatches++
				report.Errors = append(report.Errors, fmt.Sprintf("batch %d-%d: %v", start, end-1, err))
				metrics.ObserveUpsert("failed", len(batch))
				p.logger.Error("vector upsert batch failed",
					zap.String("namespace", namespace),
					zap.Int("start", start),
					zap.Int("size", len(batch)),
					zap.Error(err))
				return nil
			}
			report.Upserted += len(batch)
			metrics.ObserveUpsert("success", len(batch))
			return nil
		})
	}
	_ = g.Wait()
}

func dimensionError(namespace string, have, got int) error {
	return apperr.New(apperr.CodeInvalidInput,
		fmt.Sprintf("namespace %q holds %d-dimension vectors, provider produces %d", namespace, have, got),
		vectorstore.ErrDimensionMismatch)
}

// Query embeds text and searches namespace.
func (p *Processor) Query(
	ctx context.Context,
	namespace, text string,
	topK int,
	provider embedding.Provider,
) ([]vectorstore.Match, error) {
	if p.index == nil {
		return nil, apperr.Configuration("vector index is not configured", nil)
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.InvalidInput("query text is required")
	}
	vec, err := provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	matches, err := p.index.Query(ctx, namespace, vec, topK)
	if errors.Is(err, vectorstore.ErrDimensionMismatch) {
		have, _ := p.index.Dimensions(ctx, namespace)
		return nil, dimensionError(namespace, have, len(vec))
	}
	if err != nil {
		return nil, apperr.External("vector query failed", err)
	}
	return matches, nil
}

// DeleteNamespace removes every vector in namespace.
func (p *Processor) DeleteNamespace(ctx context.Context, namespace string) (int, error) {
	if p.index == nil {
		return 0, apperr.Configuration("vector index is not configured", nil)
	}
	n, err := p.index.DeleteNamespace(ctx, namespace)
	if err != nil {
		return 0, apperr.External("delete namespace failed", err)
	}
	return n, nil
}
