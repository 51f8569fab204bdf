package ratelimit

import (
	"context"
	"sync"
	"time"
)

// staleAfter is how long an expired record is kept before Sweep evicts it.
const staleAfter = time.Hour

// Record holds both windows for one key.
type Record struct {
	Identity          string
	WindowStart       time.Time
	Count             int64
	HourlyWindowStart time.Time
	HourlyCount       int64
}

// MemoryBackend keeps counters in process memory. It is only correct for a
// single instance.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]*Record)}
}

// Incr counts into the hourly slot for windows of an hour or more and into
// the short slot otherwise. Expired windows are reset before counting.
func (m *MemoryBackend) Incr(_ context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	start := windowStart(now, window)

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		rec = &Record{Identity: key}
		m.records[key] = rec
	}
	if window >= time.Hour {
		if !rec.HourlyWindowStart.Equal(start) {
			rec.HourlyWindowStart = start
			rec.HourlyCount = 0
		}
		rec.HourlyCount++
		return rec.HourlyCount, start, nil
	}
	if !rec.WindowStart.Equal(start) {
		rec.WindowStart = start
		rec.Count = 0
	}
	rec.Count++
	return rec.Count, start, nil
}

// Sweep evicts records whose windows both ended more than an hour before now
// and returns how many were removed.
func (m *MemoryBackend) Sweep(now time.Time) int {
	cutoff := now.Add(-staleAfter)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, rec := range m.records {
		minuteEnd := rec.WindowStart.Add(time.Minute)
		hourEnd := rec.HourlyWindowStart.Add(time.Hour)
		if minuteEnd.Before(cutoff) && hourEnd.Before(cutoff) {
			delete(m.records, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// StartSweeper runs Sweep every interval until ctx is done. The returned
// channel closes when the goroutine exits.
func (m *MemoryBackend) StartSweeper(ctx context.Context, interval time.Duration, clock Clock) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(clock.Now())
			}
		}
	}()
	return done
}

// Name returns "memory".
func (m *MemoryBackend) Name() string { return BackendMemory }

// Close drops all records.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*Record)
	return nil
}
