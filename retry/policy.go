package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy determines when a delivery that failed with a transient error should
// next be attempted.
type Policy interface {
	// NextRetry returns the time at which to retry a delivery that has
	// already failed n times, most recently because of cause.
	NextRetry(now time.Time, n uint, cause error) time.Time
}

// DefaultPolicy is the policy used when none is configured.
var DefaultPolicy Policy = ExponentialBackoff{
	Min:    100 * time.Millisecond,
	Max:    30 * time.Second,
	Jitter: 0.25,
}

// ExponentialBackoff is a Policy that doubles the delay with each failure.
type ExponentialBackoff struct {
	// Min is the delay after the first failure.
	Min time.Duration

	// Max caps the delay, before jitter is applied.
	Max time.Duration

	// Jitter is the maximum fraction of the delay that is randomly added to
	// it.
	Jitter float64
}

// NextRetry returns the time at which to retry a delivery that has already
// failed n times.
func (p ExponentialBackoff) NextRetry(now time.Time, n uint, _ error) time.Time {
	return now.Add(p.Delay(n))
}

// Delay returns the delay to use after the n'th failure, where n is 1 for the
// first failure.
func (p ExponentialBackoff) Delay(n uint) time.Duration {
	if n > 0 {
		n--
	}

	s := math.Pow(2, float64(n)) * p.Min.Seconds()

	if s > p.Max.Seconds() {
		s = p.Max.Seconds()
	}

	s *= 1 + (rand.Float64() * p.Jitter)

	return time.Duration(s * float64(time.Second))
}
