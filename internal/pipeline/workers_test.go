package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsEveryJob(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]bool{}
	err := NewWorkerPool(4).Run(context.Background(), 100, func(_ context.Context, i int) error {
		mu.Lock()
		seen[i] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 100)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	err := NewWorkerPool(3).Run(context.Background(), 30, func(_ context.Context, _ int) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestWorkerPoolStopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int32
	err := NewWorkerPool(1).Run(context.Background(), 50, func(_ context.Context, i int) error {
		ran.Add(1)
		if i == 4 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	// One worker: job 4 fails and at most the job already handed over runs after.
	assert.LessOrEqual(t, ran.Load(), int32(6))
}

func TestWorkerPoolCancelsSiblingsOnError(t *testing.T) {
	boom := errors.New("boom")
	var cancelled atomic.Int32
	err := NewWorkerPool(4).Run(context.Background(), 4, func(ctx context.Context, i int) error {
		if i == 0 {
			return boom
		}
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), cancelled.Load())
}

func TestWorkerPoolReportsParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Int32
	err := NewWorkerPool(1).Run(ctx, 50, func(_ context.Context, i int) error {
		ran.Add(1)
		if i == 2 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, ran.Load(), int32(50))
}

func TestWorkerPoolZeroJobs(t *testing.T) {
	called := false
	err := NewWorkerPool(2).Run(context.Background(), 0, func(context.Context, int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}
