// Package worker runs queued crawls of stored URL configs.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
	"github.com/JakeFAU/rag-crawler/internal/crawler"
	"github.com/JakeFAU/rag-crawler/internal/document"
	"github.com/JakeFAU/rag-crawler/internal/embedding"
	"github.com/JakeFAU/rag-crawler/internal/ingest"
	"github.com/JakeFAU/rag-crawler/internal/metrics"
	"github.com/JakeFAU/rag-crawler/internal/store"
)

// EventCrawlCompleted is the event type published after every crawl.
const EventCrawlCompleted = "crawl.completed"

// Crawler runs one crawl. *crawler.Orchestrator satisfies it.
type Crawler interface {
	Crawl(ctx context.Context, seed string, cfg crawler.CrawlConfig, handler crawler.PageHandler) (crawler.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives crawl.completed events. Empty disables publishing.
	Topic string
}

// CompletedEvent is published when a crawl reaches a terminal status.
type CompletedEvent struct {
	URLConfigID  string       `json:"urlConfigId"`
	URL          string       `json:"url"`
	Namespace    string       `json:"namespace"`
	Mode         crawler.Mode `json:"mode"`
	Status       store.Status `json:"status"`
	PagesIndexed int          `json:"pagesIndexed"`
	FailedPages  int          `json:"failedPages"`
	TotalTokens  int          `json:"totalTokens"`
	ErrorMessage *string      `json:"errorMessage,omitempty"`
	RequestedBy  string       `json:"requestedBy,omitempty"`
	CompletedAt  time.Time    `json:"completedAt"`
}

// EventType names the event for message attributes.
func (CompletedEvent) EventType() string { return EventCrawlCompleted }

// Worker consumes queue items and runs the ingestion pipeline for each.
type Worker struct {
	id        int
	queue     crawler.Queue
	repo      store.Repository
	crawler   Crawler
	processor *document.Processor
	provider  embedding.Provider
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher may be nil.
func New(
	id int,
	queue crawler.Queue,
	repo store.Repository,
	c Crawler,
	processor *document.Processor,
	provider embedding.Provider,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		repo:      repo,
		crawler:   c,
		processor: processor,
		provider:  provider,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming queue items until ctx ends or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued crawl", zap.String("url_config_id", item.URLConfigID))
		w.Process(ctx, item)
	}
}

// Process runs the crawl for one item and records its terminal status.
// The status is written even when ctx is canceled mid-crawl so that the
// config does not stay in_progress.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("url_config_id", item.URLConfigID))
	cfg, err := w.repo.Get(ctx, item.URLConfigID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("url config vanished before crawl started")
		return
	}
	if err != nil {
		logger.Error("load url config failed", zap.Error(err))
		w.complete(ctx, logger, item, store.URLConfig{ID: item.URLConfigID}, crawler.Result{}, err, 0)
		return
	}
	if cfg.CrawlStatus != store.StatusInProgress {
		logger.Warn("url config is not in progress, skipping", zap.String("status", string(cfg.CrawlStatus)))
		return
	}

	if cfg.Namespace != "" && w.provider == nil {
		err := apperr.Configuration("no embedding provider configured for namespace "+cfg.Namespace, nil)
		logger.Error("cannot index crawl", zap.Error(err))
		w.complete(ctx, logger, item, cfg, crawler.Result{}, err, 0)
		return
	}

	pipeline := ingest.New(w.processor, w.provider, cfg.Namespace, w.logger)
	start := w.clock.Now()
	result, err := w.crawler.Crawl(ctx, cfg.URL, cfg.CrawlConfig, pipeline)
	if err != nil {
		logger.Error("crawl failed", zap.String("url", cfg.URL), zap.Error(err))
	}
	w.complete(ctx, logger, item, cfg, result, err, w.clock.Now().Sub(start))
}

func (w *Worker) complete(
	ctx context.Context,
	logger *zap.Logger,
	item crawler.QueueItem,
	cfg store.URLConfig,
	result crawler.Result,
	crawlErr error,
	elapsed time.Duration,
) {
	ctx = context.WithoutCancel(ctx)
	outcome := store.Outcome{
		PagesProcessed: result.Stats.PagesProcessed,
		FailedPages:    len(result.Stats.FailedPages),
		Errors:         result.Stats.Errors,
		TimedOut:       result.Stats.TimedOut,
		Err:            crawlErr,
	}
	status := outcome.Classify()
	metrics.ObserveCrawl(string(cfg.CrawlConfig.Mode), string(status), elapsed)

	updated, err := w.repo.CompleteCrawl(ctx, item.URLConfigID, outcome)
	if err != nil {
		logger.Error("record crawl outcome failed", zap.String("status", string(status)), zap.Error(err))
		return
	}
	logger.Info("crawl completed",
		zap.String("status", string(updated.CrawlStatus)),
		zap.Int("pages_indexed", updated.PagesIndexed),
		zap.Int("pages_failed", outcome.FailedPages),
		zap.Int("total_tokens", result.Stats.TotalTokens),
		zap.Duration("duration", elapsed),
	)
	w.publish(ctx, logger, CompletedEvent{
		URLConfigID:  updated.ID,
		URL:          updated.URL,
		Namespace:    updated.Namespace,
		Mode:         updated.CrawlConfig.Mode,
		Status:       updated.CrawlStatus,
		PagesIndexed: updated.PagesIndexed,
		FailedPages:  outcome.FailedPages,
		TotalTokens:  result.Stats.TotalTokens,
		ErrorMessage: updated.ErrorMessage,
		RequestedBy:  item.Identity,
		CompletedAt:  w.clock.Now(),
	})
}

func (w *Worker) publish(ctx context.Context, logger *zap.Logger, event CompletedEvent) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		logger.Warn("publish crawl event failed", zap.String("topic", w.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("crawl event published", zap.String("message_id", id))
}
