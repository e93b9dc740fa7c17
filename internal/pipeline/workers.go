package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkerPool runs jobs with at most size in flight. The first job error
// cancels the context handed to the remaining jobs and stops dispatch.
type WorkerPool struct {
	size int
}

func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{size: size}
}

func (p *WorkerPool) Size() int { return p.size }

// Run calls fn for every index in [0, n) and returns the first error, or
// the parent context's error when it was cancelled before all jobs ran.
func (p *WorkerPool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for i := 0; i < n && gctx.Err() == nil; i++ {
		g.Go(func() error {
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
