package face

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many verifications run at once.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool with the given number of workers.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Run executes fn on a worker and waits for it or for ctx. When ctx ends
// first, fn keeps its slot until it returns.
func (p *Pool) Run(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		done <- fn(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
