package semaphore

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Semaphore bounds the number of events that are applied concurrently.
//
// The zero-value imposes no limit.
type Semaphore struct {
	n   int
	sem *semaphore.Weighted
}

// New returns a semaphore that allows n events to be applied concurrently.
// If n is not positive there is no limit.
func New(n int) Semaphore {
	if n <= 0 {
		return Semaphore{}
	}

	return Semaphore{n, semaphore.NewWeighted(int64(n))}
}

// Limit returns the number of events that can be applied concurrently, or 0 if
// there is no limit.
func (s *Semaphore) Limit() int {
	return s.n
}

// Acquire blocks until the caller may apply an event, or until ctx is
// canceled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s.sem == nil {
		return ctx.Err()
	}

	return s.sem.Acquire(ctx, 1)
}

// Release signals that the caller has finished applying an event.
func (s *Semaphore) Release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}
