package cachestore

import (
	"context"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
)

// DefaultLockPollStrategy is the backoff strategy used between attempts to
// acquire a contended lock.
var DefaultLockPollStrategy backoff.Strategy = backoff.WithTransforms(
	backoff.Exponential(5*time.Millisecond),
	linger.FullJitter,
	linger.Limiter(1*time.Millisecond, 250*time.Millisecond),
)

// PollLock calls try until it reports that the lock was acquired, it returns
// an error, or ctx is canceled.
//
// s is the backoff strategy used between attempts. If it is nil,
// DefaultLockPollStrategy is used.
func PollLock(
	ctx context.Context,
	s backoff.Strategy,
	try func(context.Context) (bool, error),
) error {
	if s == nil {
		s = DefaultLockPollStrategy
	}

	counter := backoff.Counter{Strategy: s}

	for {
		ok, err := try(ctx)
		if err != nil || ok {
			return err
		}

		if err := counter.Sleep(ctx, nil); err != nil {
			return err
		}
	}
}
