package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
	"github.com/JakeFAU/rag-crawler/internal/metrics"
)

// Options tunes an Orchestrator.
type Options struct {
	// Concurrency is the fixed worker pool size per crawl.
	Concurrency int
	Timeouts    Timeouts
	// MaxPagesLimit bounds maxPages for limited crawls.
	MaxPagesLimit int
	// DeepPageCap bounds the pages fetched by a deep crawl.
	DeepPageCap    int
	SnapshotPrefix string
	Headers        http.Header
}

// Orchestrator traverses a site under a CrawlConfig and hands pages to a PageHandler.
type Orchestrator struct {
	fetcher   Fetcher
	extractor *Extractor
	policy    Policy
	retry     RetryPolicy
	blobs     BlobStore
	hasher    Hasher
	clock     Clock
	opts      Options
	logger    *zap.Logger
}

// NewOrchestrator constructs an Orchestrator. policy, retry, blobs and hasher are optional.
func NewOrchestrator(
	fetcher Fetcher,
	policy Policy,
	retry RetryPolicy,
	blobs BlobStore,
	hasher Hasher,
	clock Clock,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxPagesLimit <= 0 {
		opts.MaxPagesLimit = DefaultMaxPagesLimit
	}
	if opts.DeepPageCap <= 0 {
		opts.DeepPageCap = opts.MaxPagesLimit * 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher:   fetcher,
		extractor: NewExtractor(),
		policy:    policy,
		retry:     retry,
		blobs:     blobs,
		hasher:    hasher,
		clock:     clock,
		opts:      opts,
		logger:    logger,
	}
}

// MaxPagesLimit returns the configured bound for limited crawls.
func (o *Orchestrator) MaxPagesLimit() int {
	return o.opts.MaxPagesLimit
}

// Crawl validates cfg, then fetches pages starting at seed until the mode's bound,
// the frontier or the mode's time budget is exhausted. Individual page failures
// are reported in the stats; an error is only returned for invalid input.
func (o *Orchestrator) Crawl(ctx context.Context, seed string, cfg CrawlConfig, handler PageHandler) (Result, error) {
	if err := cfg.Validate(o.opts.MaxPagesLimit); err != nil {
		return Result{}, err
	}
	seedURL, err := ParseSeed(seed)
	if err != nil {
		return Result{}, apperr.InvalidInput("invalid url: %v", err)
	}
	if handler == nil {
		handler = PageHandlerFunc(func(context.Context, Page) (int, error) { return 0, nil })
	}

	start := o.clock.Now()
	budget := o.opts.Timeouts.For(cfg.Mode)
	crawlCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	run := newCrawlRun(o, seedURL, cfg, handler)
	run.execute(crawlCtx)

	stats := run.collectStats()
	switch {
	case errors.Is(crawlCtx.Err(), context.DeadlineExceeded):
		stats.TimedOut = true
		stats.Errors = append(stats.Errors, fmt.Sprintf("crawl timed out after %s with %d pages abandoned", budget, run.abandoned))
	case errors.Is(crawlCtx.Err(), context.Canceled):
		stats.Errors = append(stats.Errors, "crawl canceled")
	}
	elapsed := o.clock.Now().Sub(start)
	stats.CrawlDurationMs = elapsed.Milliseconds()

	o.logger.Info("crawl finished",
		zap.String("url", seedURL.String()),
		zap.String("mode", string(cfg.Mode)),
		zap.Int("pages_found", stats.PagesFound),
		zap.Int("pages_processed", stats.PagesProcessed),
		zap.Int("pages_failed", len(stats.FailedPages)),
		zap.Bool("timed_out", stats.TimedOut),
		zap.Duration("duration", elapsed),
	)
	return Result{Pages: run.pages, Stats: stats}, nil
}

type frontierItem struct {
	url   *url.URL
	key   string
	depth int
}

// crawlRun holds the mutable state of one Crawl call.
type crawlRun struct {
	o       *Orchestrator
	seed    *url.URL
	cfg     CrawlConfig
	handler PageHandler
	visited visitTracker
	pageCap int

	mu        sync.Mutex
	slotFreed *sync.Cond
	inFlight  int
	processed int
	tokens    int
	abandoned int
	pages     []Page
	failed    []FailedPage
	errs      []string
}

func newCrawlRun(o *Orchestrator, seed *url.URL, cfg CrawlConfig, handler PageHandler) *crawlRun {
	r := &crawlRun{
		o:       o,
		seed:    seed,
		cfg:     cfg,
		handler: handler,
		visited: newConcurrentVisitTracker(),
	}
	switch cfg.Mode {
	case ModeSingle:
		r.pageCap = 1
	case ModeLimited:
		r.pageCap = cfg.PageCap()
	case ModeDeep:
		r.pageCap = o.opts.DeepPageCap
	}
	r.slotFreed = sync.NewCond(&r.mu)
	return r
}

func (r *crawlRun) execute(ctx context.Context) {
	key := normalize(r.seed)
	r.visited.MarkIfNew(key)
	level := []frontierItem{{url: r.seed, key: key, depth: 0}}
	for len(level) > 0 && ctx.Err() == nil && !r.capReached() {
		level = r.runLevel(ctx, level)
	}
}

// runLevel fetches one BFS level through the worker pool and returns the next level.
func (r *crawlRun) runLevel(ctx context.Context, level []frontierItem) []frontierItem {
	jobs := make(chan frontierItem)
	workers := r.o.opts.Concurrency
	if workers > len(level) {
		workers = len(level)
	}

	var (
		wg     sync.WaitGroup
		nextMu sync.Mutex
		next   []frontierItem
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				found := r.visit(ctx, item)
				if len(found) == 0 {
					continue
				}
				nextMu.Lock()
				next = append(next, found...)
				nextMu.Unlock()
			}
		}()
	}

feed:
	for _, item := range level {
		if r.capReached() {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- item:
		}
	}
	close(jobs)
	wg.Wait()
	return next
}

func (r *crawlRun) visit(ctx context.Context, item frontierItem) []frontierItem {
	if ctx.Err() != nil || !r.acquire() {
		return nil
	}
	success := false
	defer func() { r.release(success) }()

	page, links, err := r.fetchPage(ctx, item)
	if err != nil {
		if ctx.Err() != nil {
			r.abandon()
			return nil
		}
		r.fail(item.key, fmt.Sprintf("fetch failed: %v", err))
		metrics.ObservePage(item.url.Host, "failed", 0)
		return nil
	}

	tokens, err := r.handler.HandlePage(ctx, page)
	if err != nil {
		if ctx.Err() != nil {
			r.abandon()
			return nil
		}
		r.fail(item.key, fmt.Sprintf("%s: %v", apperr.CodeOf(err), err))
		metrics.ObservePage(item.url.Host, "failed", 0)
		return nil
	}
	success = true
	r.succeed(page, tokens)
	metrics.ObservePage(item.url.Host, "processed", len(page.Content))
	return r.discover(item, links)
}

// acquire reserves a fetch slot, blocking while in-flight fetches could still fill the page cap.
func (r *crawlRun) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pageCap <= 0 {
		r.inFlight++
		return true
	}
	for r.processed < r.pageCap && r.processed+r.inFlight >= r.pageCap {
		r.slotFreed.Wait()
	}
	if r.processed >= r.pageCap {
		return false
	}
	r.inFlight++
	return true
}

func (r *crawlRun) release(success bool) {
	r.mu.Lock()
	r.inFlight--
	if success {
		r.processed++
	}
	r.mu.Unlock()
	r.slotFreed.Broadcast()
}

func (r *crawlRun) capReached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pageCap > 0 && r.processed >= r.pageCap
}

// expands reports whether links found at depth are worth collecting.
func (r *crawlRun) expands(depth int) bool {
	switch r.cfg.Mode {
	case ModeLimited:
		return true
	case ModeDeep:
		return depth < r.cfg.DepthCap()
	default:
		return false
	}
}

func (r *crawlRun) discover(item frontierItem, links []*url.URL) []frontierItem {
	if !r.expands(item.depth) || r.capReached() {
		return nil
	}
	var next []frontierItem
	for _, link := range links {
		if !SameSite(link, r.seed) {
			continue
		}
		key := normalize(link)
		if !r.visited.MarkIfNew(key) {
			continue
		}
		next = append(next, frontierItem{url: link, key: key, depth: item.depth + 1})
	}
	return next
}

func (r *crawlRun) fetchPage(ctx context.Context, item frontierItem) (Page, []*url.URL, error) {
	target := item.key
	if r.o.policy != nil {
		if err := r.o.policy.Wait(ctx, target); err != nil {
			return Page{}, nil, fmt.Errorf("politeness wait: %w", err)
		}
	}
	resp, err := r.o.fetchWithRetry(ctx, FetchRequest{URL: target, Depth: item.depth, Headers: r.o.opts.Headers})
	if err != nil {
		return Page{}, nil, err
	}

	finalURL := item.url
	if resp.URL != "" {
		if parsed, perr := url.Parse(resp.URL); perr == nil {
			finalURL = parsed
		}
	}

	page := Page{URL: item.key, Depth: item.depth}
	var links []*url.URL
	contentType := strings.ToLower(resp.Headers.Get("Content-Type"))
	switch {
	case isHTML(contentType):
		ext, err := r.o.extractor.Extract(resp.Body, finalURL, r.expands(item.depth))
		if err != nil {
			return Page{}, nil, err
		}
		page.Title = ext.Title
		page.Content = ext.Content
		links = ext.Links
	case strings.HasPrefix(contentType, "text/"):
		page.Content = strings.TrimSpace(string(resp.Body))
	default:
		return Page{}, nil, fmt.Errorf("unsupported content type %q", contentType)
	}
	if strings.TrimSpace(page.Content) == "" {
		return Page{}, nil, errors.New("page has no extractable text")
	}

	r.storeSnapshot(ctx, &page, finalURL, resp.Body)
	return page, links, nil
}

// storeSnapshot hashes the raw body and stores it when a blob store is configured. Failures are logged only.
func (r *crawlRun) storeSnapshot(ctx context.Context, page *Page, pageURL *url.URL, body []byte) {
	if r.o.hasher == nil {
		return
	}
	hash, err := r.o.hasher.Hash(body)
	if err != nil {
		r.o.logger.Warn("hash page failed", zap.String("url", page.URL), zap.Error(err))
		return
	}
	page.ContentHash = hash
	if r.o.blobs == nil {
		return
	}
	objectPath := path.Join(strings.Trim(r.o.opts.SnapshotPrefix, "/"), pageURL.Hostname(), hash+".html")
	uri, err := r.o.blobs.PutObject(ctx, objectPath, "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		r.o.logger.Warn("snapshot upload failed", zap.String("url", page.URL), zap.Error(err))
		return
	}
	page.SnapshotURI = uri
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := o.fetcher.Fetch(ctx, req)
		if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
			err = &StatusError{URL: req.URL, StatusCode: resp.StatusCode}
		}
		if err == nil {
			return resp, nil
		}
		if o.retry == nil || !o.retry.ShouldRetry(err, attempt) {
			return FetchResponse{}, err
		}
		o.logger.Debug("retrying fetch", zap.String("url", req.URL), zap.Int("attempt", attempt), zap.Error(err))
		if !sleepCtx(ctx, o.retry.Backoff(attempt)) {
			return FetchResponse{}, fmt.Errorf("retry wait: %w", ctx.Err())
		}
	}
}

func (r *crawlRun) succeed(page Page, tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = append(r.pages, page)
	r.tokens += tokens
}

func (r *crawlRun) fail(pageURL, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, FailedPage{URL: pageURL, Error: reason})
	r.errs = append(r.errs, pageURL+": "+reason)
}

func (r *crawlRun) abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned++
}

func (r *crawlRun) collectStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		PagesFound:     r.visited.Len(),
		PagesProcessed: r.processed,
		FailedPages:    append([]FailedPage(nil), r.failed...),
		Errors:         append([]string(nil), r.errs...),
		TotalTokens:    r.tokens,
	}
}

func isHTML(contentType string) bool {
	return contentType == "" ||
		strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml")
}
