package retry

import (
	"context"
	"time"

	"github.com/dogmatiq/linger"
)

// Sleep blocks until a delivery that has failed n times is due to be retried,
// or until ctx is canceled.
//
// If notify is non-nil it is called with the delay before sleeping begins.
func Sleep(
	ctx context.Context,
	p Policy,
	n uint,
	cause error,
	notify func(delay time.Duration),
) error {
	until := p.NextRetry(time.Now(), n, cause)

	if notify != nil {
		notify(time.Until(until))
	}

	return linger.SleepUntil(ctx, until)
}
