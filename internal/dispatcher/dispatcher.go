// Package dispatcher fans queued crawls out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/rag-crawler/internal/crawler"
)

// Runner is one queue consumer. *worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher owns the queue and its workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
	wg      sync.WaitGroup
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers ...Runner) *Dispatcher {
	return &Dispatcher{queue: queue, workers: workers}
}

// Start launches every worker and returns immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	for _, w := range d.workers {
		d.wg.Add(1)
		go func(r Runner) {
			defer d.wg.Done()
			r.Run(ctx)
		}(w)
	}
}

// Run starts the workers and blocks until they have all returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.Start(ctx)
	d.Wait()
}

// Wait blocks until every started worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
