package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisBackendCountsPerBucket(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	b, err := NewRedisBackend("redis://"+mr.Addr()+"/0", "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 30, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		count, start, err := b.Incr(ctx, "user-1", time.Minute, now)
		require.NoError(t, err)
		require.EqualValues(t, i, count)
		require.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), start)
	}

	key := "test:user-1:60:" + itoa(now.Unix()/60)
	require.True(t, mr.Exists(key))
	require.Equal(t, time.Minute, mr.TTL(key))

	count, _, err := b.Incr(ctx, "user-1", time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestRedisBackendWithService(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	b, err := NewRedisBackend("redis://"+mr.Addr(), "")
	require.NoError(t, err)

	svc := NewService(b, Options{PerMinute: 5, PerHour: 20, Clock: newManualClock()}, nil)
	t.Cleanup(func() { _ = svc.Close() })

	for range 5 {
		status, err := svc.Check(context.Background(), "user-1")
		require.NoError(t, err)
		require.True(t, status.Allowed)
		require.Equal(t, BackendRedis, status.Backend)
	}
	status, err := svc.Check(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, status.Allowed)
	require.Positive(t, status.RetryAfter)
}

func TestRedisBackendUnreachableFailsOpen(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	b, err := NewRedisBackend("redis://"+addr, "")
	require.NoError(t, err)
	svc := NewService(b, Options{PerMinute: 5, PerHour: 20}, nil)
	t.Cleanup(func() { _ = svc.Close() })

	status, err := svc.Check(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, status.Allowed)
	require.True(t, status.Degraded)
	require.Equal(t, BackendRedis, status.Backend)
}

func TestRedisBackendClosed(t *testing.T) {
	t.Parallel()

	b, err := NewRedisBackend("redis://localhost:6379", "")
	require.NoError(t, err)
	require.NoError(t, b.Close())
	_, _, err = b.Incr(context.Background(), "k", time.Minute, time.Now())
	require.Error(t, err)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
