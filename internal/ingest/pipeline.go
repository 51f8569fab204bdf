// Package ingest connects crawled pages to chunking, embedding and the
// vector index.
package ingest

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/crawler"
	"github.com/JakeFAU/rag-crawler/internal/document"
	"github.com/JakeFAU/rag-crawler/internal/embedding"
)

// Pipeline is a crawler.PageHandler. Without a namespace it only chunks.
type Pipeline struct {
	processor *document.Processor
	provider  embedding.Provider
	namespace string
	logger    *zap.Logger

	mu     sync.Mutex
	totals document.UpsertReport
	chunks int
}

var _ crawler.PageHandler = (*Pipeline)(nil)

// New builds a Pipeline. provider may be nil when namespace is empty.
func New(processor *document.Processor, provider embedding.Provider, namespace string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		processor: processor,
		provider:  provider,
		namespace: namespace,
		logger:    logger.Named("ingest"),
	}
}

// Indexing reports whether pages are embedded and upserted.
func (p *Pipeline) Indexing() bool {
	return p.namespace != "" && p.provider != nil
}

// HandlePage chunks page and, when indexing, upserts the chunks. It returns
// the estimated token count of the page.
func (p *Pipeline) HandlePage(ctx context.Context, page crawler.Page) (int, error) {
	chunks := p.processor.Process(page)
	tokens := 0
	for _, c := range chunks {
		tokens += c.Tokens
	}

	if !p.Indexing() || len(chunks) == 0 {
		p.record(len(chunks), document.UpsertReport{})
		return tokens, nil
	}

	report, err := p.processor.Upsert(ctx, p.namespace, chunks, p.provider)
	p.record(len(chunks), report)
	if err != nil {
		p.logger.Warn("index page failed",
			zap.String("url", page.URL),
			zap.String("namespace", p.namespace),
			zap.Int("chunks", len(chunks)),
			zap.Error(err))
		return 0, err
	}
	p.logger.Debug("page indexed",
		zap.String("url", page.URL),
		zap.Int("chunks", len(chunks)),
		zap.Int("stale_deleted", report.StaleDeleted))
	return tokens, nil
}

func (p *Pipeline) record(chunks int, report document.UpsertReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks += chunks
	p.totals.Batches += report.Batches
	p.totals.FailedBatches += report.FailedBatches
	p.totals.Upserted += report.Upserted
	p.totals.StaleDeleted += report.StaleDeleted
	p.totals.Errors = append(p.totals.Errors, report.Errors...)
}

// Totals returns the chunk count and combined upsert report so far.
func (p *Pipeline) Totals() (int, document.UpsertReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	totals := p.totals
	totals.Errors = append([]string(nil), p.totals.Errors...)
	return p.chunks, totals
}
