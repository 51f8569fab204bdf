package crawler

import (
	"context"
	"sync"
	"time"
)

// visitTracker provides thread-safe visited URL tracking to prevent revisits.
type visitTracker interface {
	MarkIfNew(url string) bool
	Len() int
}

type concurrentVisitTracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newConcurrentVisitTracker() *concurrentVisitTracker {
	return &concurrentVisitTracker{seen: make(map[string]struct{})}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *concurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[url]; ok {
		return false
	}
	t.seen[url] = struct{}{}
	return true
}

// Len returns the number of distinct URLs seen.
func (t *concurrentVisitTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// sleepCtx waits for delay or until ctx ends, reporting whether the full delay elapsed.
func sleepCtx(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
