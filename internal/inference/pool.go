package inference

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"inferd/internal/generation"
)

// pool offloads CPU/GPU-bound generations to a bounded set of goroutines so
// request handlers only block on the result.
type pool struct {
	sem  *semaphore.Weighted
	size int
	wait time.Duration
}

func newPool(size int, wait time.Duration) *pool {
	return &pool{sem: semaphore.NewWeighted(int64(size)), size: size, wait: wait}
}

// Do runs fn on a worker once one is free. Panics in fn are returned as
// errors. A canceled ctx while queued returns a canceled-stage error; an
// expired queue wait returns tooBusyError.
func (p *pool) Do(ctx context.Context, fn func() error) error {
	acquireCtx := ctx
	if p.wait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.wait)
		defer cancel()
	}
	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return &generation.StageError{Stage: generation.StageCanceled, Err: ctx.Err()}
		}
		return tooBusyError{workers: p.size}
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		workersBusy.Inc()
		defer workersBusy.Dec()
		defer func() {
			if r := recover(); r != nil {
				done <- panicError{v: r}
			}
		}()
		done <- fn()
	}()
	return <-done
}
