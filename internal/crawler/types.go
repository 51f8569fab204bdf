package crawler

import (
	"net/http"
	"time"
)

// Page is a successfully fetched document ready for chunking.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	Depth       int    `json:"depth"`
	ContentHash string `json:"contentHash,omitempty"`
	SnapshotURI string `json:"snapshotUri,omitempty"`
}

// FailedPage records why a page did not make it into the index.
type FailedPage struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Stats summarises one crawl invocation.
type Stats struct {
	PagesFound      int          `json:"pagesFound"`
	PagesProcessed  int          `json:"pagesProcessed"`
	FailedPages     []FailedPage `json:"failedPages"`
	Errors          []string     `json:"errors"`
	TotalTokens     int          `json:"totalTokens"`
	CrawlDurationMs int64        `json:"crawlDuration"`
	TimedOut        bool         `json:"timedOut,omitempty"`
}

// CrawlDuration returns the wall-clock duration of the run.
func (s Stats) CrawlDuration() time.Duration {
	return time.Duration(s.CrawlDurationMs) * time.Millisecond
}

// Result is returned by Orchestrator.Crawl.
type Result struct {
	Pages []Page `json:"pages"`
	Stats Stats  `json:"crawlStats"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Depth   int
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// QueueItem wraps a crawl run waiting for a worker.
type QueueItem struct {
	URLConfigID string
	Identity    string
	Attempt     int
	Submitted   int64
}
