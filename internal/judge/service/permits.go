package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"judgerunner/internal/judge/metrics"
	appErr "judgerunner/pkg/errors"

	"golang.org/x/sync/semaphore"
)

// Permits bounds how many judge sessions hold sandboxes at once.
type Permits struct {
	sem  *semaphore.Weighted
	wait time.Duration
}

// NewPermits creates a pool of size permits. A positive wait bounds how long
// Acquire queues before reporting JudgeQueueFull.
func NewPermits(size int, wait time.Duration) *Permits {
	if size <= 0 {
		size = 1
	}
	return &Permits{sem: semaphore.NewWeighted(int64(size)), wait: wait}
}

// Acquire takes one permit. The returned release is safe to call more than
// once.
func (p *Permits) Acquire(ctx context.Context) (func(), error) {
	acquireCtx := ctx
	if p.wait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.wait)
		defer cancel()
	}
	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, appErr.New(appErr.JudgeQueueFull)
		}
		return nil, err
	}
	metrics.PermitsInUse.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.sem.Release(1)
			metrics.PermitsInUse.Dec()
		})
	}, nil
}
