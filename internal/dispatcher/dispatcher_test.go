package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rag-crawler/internal/crawler"
	memoryqueue "github.com/JakeFAU/rag-crawler/internal/queue/memory"
)

type countingRunner struct {
	started *atomic.Int32
}

func (r countingRunner) Run(ctx context.Context) {
	r.started.Add(1)
	<-ctx.Done()
}

func TestDispatcherRunStartsWorkersAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	d := New(memoryqueue.NewQueue(1), countingRunner{&started}, countingRunner{&started}, countingRunner{&started})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return started.Load() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

type errorQueue struct{}

func (errorQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return errors.New("boom")
}

func (errorQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, crawler.ErrQueueClosed
}

func TestDispatcherEnqueueWrapsErrors(t *testing.T) {
	t.Parallel()

	err := New(errorQueue{}).Enqueue(context.Background(), crawler.QueueItem{URLConfigID: "cfg-1"})
	require.ErrorContains(t, err, "queue enqueue: boom")
}

func TestDispatcherEnqueueForwards(t *testing.T) {
	t.Parallel()

	q := memoryqueue.NewQueue(1)
	d := New(q)
	require.NoError(t, d.Enqueue(context.Background(), crawler.QueueItem{URLConfigID: "cfg-1"}))

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "cfg-1", item.URLConfigID)
}
