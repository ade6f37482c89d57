package limiter

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of in-flight calls to one external dependency.
// Each rate-limited dependency gets its own instance so the mailbox API and
// the ML service cannot starve each other. Waiters are served FIFO.
type Limiter struct {
	sem *semaphore.Weighted
	max int
}

// New creates a limiter with max concurrent permits. A non-positive max is
// treated as 1.
func New(max int) *Limiter {
	if max <= 0 {
		max = 1
	}
	return &Limiter{
		sem: semaphore.NewWeighted(int64(max)),
		max: max,
	}
}

// Acquire blocks until a permit is free or the context is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryAcquire grabs a permit without blocking.
func (l *Limiter) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

// Release returns a permit.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Max returns the configured permit count.
func (l *Limiter) Max() int {
	return l.max
}
