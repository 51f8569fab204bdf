package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
)

type fakePage struct {
	status int
	links  []string
	slow   bool
}

// fakeSite serves generated HTML pages keyed by absolute URL.
type fakeSite struct {
	mu      sync.Mutex
	pages   map[string]fakePage
	fetched []string
}

func newFakeSite() *fakeSite {
	return &fakeSite{pages: make(map[string]fakePage)}
}

func (s *fakeSite) add(url string, page fakePage) {
	if page.status == 0 {
		page.status = http.StatusOK
	}
	s.pages[url] = page
}

func (s *fakeSite) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, req.URL)
	page, ok := s.pages[req.URL]
	s.mu.Unlock()

	if page.slow {
		<-ctx.Done()
		return FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	}
	if !ok {
		return FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound, Headers: http.Header{}}, nil
	}
	var body strings.Builder
	fmt.Fprintf(&body, "<html><head><title>Page %s</title></head><body><p>Content for %s.</p>", req.URL, req.URL)
	for _, link := range page.links {
		fmt.Fprintf(&body, `<a href="%s">link</a>`, link)
	}
	body.WriteString("</body></html>")
	return FetchResponse{
		URL:        req.URL,
		StatusCode: page.status,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body.String()),
	}, nil
}

func (s *fakeSite) fetchedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestOrchestrator(site Fetcher, opts Options) *Orchestrator {
	if opts.Concurrency == 0 {
		opts.Concurrency = 3
	}
	return NewOrchestrator(site, nil, nil, nil, nil, fixedClock{now: time.Unix(0, 0)}, opts, zap.NewNop())
}

func countingHandler() (PageHandler, *int) {
	var mu sync.Mutex
	calls := 0
	return PageHandlerFunc(func(_ context.Context, page Page) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return len(page.Content) / 3, nil
	}), &calls
}

func TestCrawlRejectsInvalidConfigBeforeFetching(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add("https://example.com/", fakePage{})
	o := newTestOrchestrator(site, Options{})

	five := 5
	_, err := o.Crawl(context.Background(), "https://example.com/", CrawlConfig{Mode: ModeSingle, MaxPages: &five}, nil)
	require.Error(t, err)
	require.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = o.Crawl(context.Background(), "https://example.com/", Deep(4), nil)
	require.Error(t, err)
	require.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = o.Crawl(context.Background(), "ftp://example.com/", Single(), nil)
	require.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	require.Empty(t, site.fetchedURLs())
}

func TestCrawlSingleFetchesOnlySeed(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add("https://example.com/", fakePage{links: []string{"https://example.com/a", "https://example.com/b"}})
	site.add("https://example.com/a", fakePage{})
	o := newTestOrchestrator(site, Options{})

	handler, calls := countingHandler()
	res, err := o.Crawl(context.Background(), "https://example.com", Single(), handler)
	require.NoError(t, err)

	require.Equal(t, []string{"https://example.com/"}, site.fetchedURLs())
	require.Equal(t, 1, res.Stats.PagesFound)
	require.Equal(t, 1, res.Stats.PagesProcessed)
	require.Equal(t, 1, *calls)
	require.Len(t, res.Pages, 1)
	require.Contains(t, res.Pages[0].Title, "Page")
	require.Contains(t, res.Pages[0].Content, "Content for")
	require.Positive(t, res.Stats.TotalTokens)
}

func TestCrawlLimitedCapsProcessedPages(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	var links []string
	for i := 0; i < 100; i++ {
		link := fmt.Sprintf("https://example.com/p%d", i)
		links = append(links, link)
		site.add(link, fakePage{links: []string{"https://example.com/"}})
	}
	site.add("https://example.com/", fakePage{links: links})
	o := newTestOrchestrator(site, Options{Concurrency: 4})

	res, err := o.Crawl(context.Background(), "https://example.com/", Limited(5), nil)
	require.NoError(t, err)

	require.LessOrEqual(t, res.Stats.PagesProcessed, 5)
	require.Equal(t, 5, res.Stats.PagesProcessed)
	require.Len(t, res.Pages, 5)
	require.Len(t, site.fetchedURLs(), 5)
	require.Equal(t, 101, res.Stats.PagesFound)
}

func TestCrawlLimitedRefillsSlotsAfterFailures(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add("https://example.com/", fakePage{links: []string{
		"https://example.com/missing-1",
		"https://example.com/missing-2",
		"https://example.com/ok-1",
		"https://example.com/ok-2",
	}})
	site.add("https://example.com/ok-1", fakePage{})
	site.add("https://example.com/ok-2", fakePage{})
	o := newTestOrchestrator(site, Options{Concurrency: 1})

	res, err := o.Crawl(context.Background(), "https://example.com/", Limited(3), nil)
	require.NoError(t, err)
	require.Equal(t, 3, res.Stats.PagesProcessed)
	require.Len(t, res.Stats.FailedPages, 2)
}

func TestCrawlDeepNeverExceedsMaxDepth(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add("https://example.com/", fakePage{links: []string{"https://example.com/d1"}})
	site.add("https://example.com/d1", fakePage{links: []string{"https://example.com/d2", "https://example.com/"}})
	site.add("https://example.com/d2", fakePage{links: []string{"https://example.com/d3"}})
	site.add("https://example.com/d3", fakePage{links: []string{"https://example.com/d4"}})
	site.add("https://example.com/d4", fakePage{})
	o := newTestOrchestrator(site, Options{})

	res, err := o.Crawl(context.Background(), "https://example.com/", Deep(2), nil)
	require.NoError(t, err)

	fetched := site.fetchedURLs()
	require.ElementsMatch(t, []string{"https://example.com/", "https://example.com/d1", "https://example.com/d2"}, fetched)
	require.NotContains(t, fetched, "https://example.com/d3")
	require.Equal(t, 3, res.Stats.PagesProcessed)
	for _, page := range res.Pages {
		require.LessOrEqual(t, page.Depth, 2)
	}
}

func TestCrawlDeepUsesShortestPath(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add("https://example.com/", fakePage{links: []string{"https://example.com/a", "https://example.com/b"}})
	site.add("https://example.com/a", fakePage{links: []string{"https://example.com/b"}})
	site.add("https://example.com/b", fakePage{links: []string{"https://example.com/c"}})
	site.add("https://example.com/c", fakePage{links: []string{"https://example.com/d"}})
	o := newTestOrchestrator(site, Options{})

	res, err := o.Crawl(context.Background(), "https://example.com/", Deep(2), nil)
	require.NoError(t, err)
	require.ElementsMatch(t,
		[]string{"https://example.com/", "https://example.com/a", "https://example.com/b", "https://example.com/c"},
		site.fetchedURLs(),
	)
	require.Equal(t, 4, res.Stats.PagesProcessed)
}

func TestCrawlPartialFailures(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	var links []string
	for i := 1; i <= 9; i++ {
		link := fmt.Sprintf("https://example.com/doc%d", i)
		links = append(links, link)
		status := http.StatusOK
		if i <= 3 {
			status = http.StatusInternalServerError
		}
		site.add(link, fakePage{status: status})
	}
	site.add("https://example.com/", fakePage{links: links})
	o := newTestOrchestrator(site, Options{})

	res, err := o.Crawl(context.Background(), "https://example.com/", Limited(20), nil)
	require.NoError(t, err)

	require.Equal(t, 10, res.Stats.PagesFound)
	require.Equal(t, 7, res.Stats.PagesProcessed)
	require.Len(t, res.Stats.FailedPages, 3)
	require.Len(t, res.Stats.Errors, 3)
	for _, failed := range res.Stats.FailedPages {
		require.Contains(t, failed.Error, "unexpected status 500")
	}
}

func TestCrawlAllPagesFail(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	o := newTestOrchestrator(site, Options{})

	res, err := o.Crawl(context.Background(), "https://example.com/missing", Limited(10), nil)
	require.NoError(t, err)
	require.Zero(t, res.Stats.PagesProcessed)
	require.Len(t, res.Stats.FailedPages, 1)
	require.NotEmpty(t, res.Stats.Errors)
	require.Empty(t, res.Pages)
}

func TestCrawlHandlerErrorMarksPageFailed(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add("https://example.com/", fakePage{links: []string{"https://example.com/a"}})
	site.add("https://example.com/a", fakePage{})
	o := newTestOrchestrator(site, Options{})

	handler := PageHandlerFunc(func(_ context.Context, page Page) (int, error) {
		if strings.HasSuffix(page.URL, "/a") {
			return 0, apperr.External("vector upsert failed", fmt.Errorf("503"))
		}
		return 10, nil
	})
	res, err := o.Crawl(context.Background(), "https://example.com/", Limited(5), handler)
	require.NoError(t, err)
	require.Equal(t, 1, res.Stats.PagesProcessed)
	require.Equal(t, 10, res.Stats.TotalTokens)
	require.Len(t, res.Stats.FailedPages, 1)
	require.Contains(t, res.Stats.FailedPages[0].Error, string(apperr.CodeExternalService))
}

func TestCrawlIgnoresOffSiteLinks(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add("https://example.com/", fakePage{links: []string{"https://other.org/", "https://www.example.com/in"}})
	site.add("https://www.example.com/in", fakePage{})
	site.add("https://other.org/", fakePage{})
	o := newTestOrchestrator(site, Options{})

	_, err := o.Crawl(context.Background(), "https://example.com/", Limited(10), nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"https://example.com/", "https://www.example.com/in"}, site.fetchedURLs())
}

func TestCrawlTimeoutReturnsPartialResults(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add("https://example.com/", fakePage{links: []string{"https://example.com/slow-1", "https://example.com/slow-2"}})
	site.add("https://example.com/slow-1", fakePage{slow: true})
	site.add("https://example.com/slow-2", fakePage{slow: true})
	o := newTestOrchestrator(site, Options{Timeouts: Timeouts{Limited: 150 * time.Millisecond}})

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.Crawl(context.Background(), "https://example.com/", Limited(10), nil)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		require.NoError(t, out.err)
		res := out.res
		require.True(t, res.Stats.TimedOut)
		require.Equal(t, 1, res.Stats.PagesProcessed)
		require.Len(t, res.Pages, 1)
		require.Empty(t, res.Stats.FailedPages, "abandoned fetches are not page failures")
		require.Contains(t, res.Stats.Errors[len(res.Stats.Errors)-1], "timed out")
	case <-time.After(5 * time.Second):
		t.Fatal("crawl did not honor its timeout")
	}
}

type countingRetry struct {
	mu    sync.Mutex
	tries int
}

func (c *countingRetry) ShouldRetry(err error, attempt int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tries++
	return err != nil && attempt < 3
}

func (c *countingRetry) Backoff(int) time.Duration { return time.Millisecond }

func TestCrawlRetriesFailedFetches(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add("https://example.com/", fakePage{status: http.StatusBadGateway})
	retry := &countingRetry{}
	o := NewOrchestrator(site, nil, retry, nil, nil, fixedClock{}, Options{}, zap.NewNop())

	res, err := o.Crawl(context.Background(), "https://example.com/", Single(), nil)
	require.NoError(t, err)
	require.Len(t, site.fetchedURLs(), 3)
	require.Len(t, res.Stats.FailedPages, 1)
}

type recordingBlobs struct {
	mu    sync.Mutex
	paths []string
}

func (b *recordingBlobs) PutObject(_ context.Context, path string, _ string, _ io.Reader) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths = append(b.paths, path)
	return "memory://" + path, nil
}

type staticHasher struct{}

func (staticHasher) Hash([]byte) (string, error) { return "abc123", nil }

func TestCrawlStoresSnapshots(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add("https://example.com/", fakePage{})
	blobs := &recordingBlobs{}
	o := NewOrchestrator(site, nil, nil, blobs, staticHasher{}, fixedClock{}, Options{SnapshotPrefix: "pages"}, zap.NewNop())

	res, err := o.Crawl(context.Background(), "https://example.com/", Single(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"pages/example.com/abc123.html"}, blobs.paths)
	require.Equal(t, "memory://pages/example.com/abc123.html", res.Pages[0].SnapshotURI)
	require.Equal(t, "abc123", res.Pages[0].ContentHash)
}
