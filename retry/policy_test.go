package retry_test

import (
	"context"
	"errors"
	"math"
	"time"

	. "github.com/dogmatiq/vista/retry"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type ExponentialBackoff", func() {
	var (
		now   time.Time
		p     ExponentialBackoff
		cause error
	)

	BeforeEach(func() {
		now = time.Now()
		p = ExponentialBackoff{
			Min: 100 * time.Millisecond,
			Max: 1 * time.Hour,
		}
		cause = errors.New("<error>")
	})

	It("uses the minimum delay after the first failure", func() {
		next := p.NextRetry(now, 1, cause)
		Expect(next.Sub(now)).To(Equal(100 * time.Millisecond))
	})

	It("treats zero failures the same as one", func() {
		Expect(p.Delay(0)).To(Equal(p.Delay(1)))
	})

	It("increases the delay with subsequent failures", func() {
		var prev time.Time

		for n := uint(1); n <= 6; n++ {
			next := p.NextRetry(now, n, cause)
			Expect(next).To(BeTemporally(">", prev))
			prev = next
		}
	})

	It("caps the delay at the maximum delay", func() {
		next := p.NextRetry(now, math.MaxUint32, cause)
		Expect(next.Sub(now)).To(Equal(1 * time.Hour))
	})

	It("supports random jitter", func() {
		p.Jitter = 0.1

		first := p.Delay(1)
		Expect(first).To(BeNumerically("~", 105*time.Millisecond, 5*time.Millisecond))

		for i := 0; i < 100; i++ {
			if p.Delay(1) != first {
				return
			}
		}

		Fail("100 iterations returned results with no jitter")
	})
})

var _ = Describe("func Sleep()", func() {
	It("returns when the retry is due", func() {
		p := ExponentialBackoff{Min: 5 * time.Millisecond, Max: 5 * time.Millisecond}

		start := time.Now()
		err := Sleep(context.Background(), p, 1, nil, nil)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically(">=", 5*time.Millisecond))
	})

	It("returns an error if the context is canceled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Sleep(ctx, DefaultPolicy, 10, nil, nil)
		Expect(err).To(Equal(context.Canceled))
	})

	It("reports the delay computed by the policy before sleeping", func() {
		p := ExponentialBackoff{Min: 5 * time.Millisecond, Max: 5 * time.Millisecond}

		var delay time.Duration
		start := time.Now()
		err := Sleep(context.Background(), p, 1, nil, func(d time.Duration) {
			delay = d
			Expect(time.Since(start)).To(BeNumerically("<", 5*time.Millisecond))
		})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(delay).To(BeNumerically(">", 0))
		Expect(delay).To(BeNumerically("<=", 5*time.Millisecond))
	})
})
