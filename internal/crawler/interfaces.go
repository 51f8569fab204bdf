package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ErrQueueClosed is returned by Dequeue once a queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Queue provides enqueue/dequeue semantics for crawl runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Policy throttles fetches per host.
type Policy interface {
	Wait(ctx context.Context, url string) error
}

// RetryPolicy decides whether a failed fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for snapshots.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// PageHandler consumes a fetched page and reports the tokens it produced.
type PageHandler interface {
	HandlePage(ctx context.Context, page Page) (int, error)
}

// PageHandlerFunc adapts a function to PageHandler.
type PageHandlerFunc func(ctx context.Context, page Page) (int, error)

// HandlePage calls f.
func (f PageHandlerFunc) HandlePage(ctx context.Context, page Page) (int, error) {
	return f(ctx, page)
}
