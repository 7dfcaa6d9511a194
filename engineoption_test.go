package vista

import (
	"os"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/vista/cachestore/memorycache"
	"github.com/dogmatiq/vista/eventstream/memorystream"
	"github.com/dogmatiq/vista/retry"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/metric/noop"
)

var _ = Describe("func WithRole()", func() {
	It("adds the role", func() {
		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithRole(DelayRole),
		)

		Expect(opts.Roles).To(Equal([]Role{StateRole, DelayRole}))
	})

	It("panics if the same role is added twice", func() {
		Expect(func() {
			resolveEngineOptions(
				WithRole(DtoRole),
				WithRole(DtoRole),
			)
		}).To(PanicWith("the dto role is already configured"))
	})

	It("panics if the role is not recognized", func() {
		Expect(func() {
			WithRole("<unknown>")
		}).To(Panic())
	})

	It("panics if no WithRole() options are provided", func() {
		Expect(func() {
			resolveEngineOptions(
				WithHandlerTimeout(1 * time.Second), // provide something else
			)
		}).To(PanicWith("no roles configured, see vista.WithRole()"))
	})
})

var _ = Describe("func WithEventLog()", func() {
	It("sets the event log", func() {
		l := &memorystream.Log{}

		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithEventLog(l),
		)

		Expect(opts.EventLog).To(BeIdenticalTo(l))
	})

	It("leaves the log unset if it is nil", func() {
		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithEventLog(nil),
		)

		Expect(opts.EventLog).To(BeNil())
	})
})

var _ = Describe("func WithCacheStore()", func() {
	It("sets the cache store", func() {
		s := &memorycache.Store{}

		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithCacheStore(s),
		)

		Expect(opts.CacheStore).To(BeIdenticalTo(s))
	})
})

var _ = Describe("func WithConsumerName()", func() {
	It("sets the consumer name", func() {
		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithConsumerName("<name>"),
		)

		Expect(opts.ConsumerName).To(Equal("<name>"))
	})

	It("uses the default name if it is empty", func() {
		a := resolveEngineOptions(WithRole(StateRole), WithConsumerName(""))
		b := resolveEngineOptions(WithRole(StateRole))

		Expect(a.ConsumerName).To(Equal(DefaultConsumerName))
		Expect(b.ConsumerName).To(Equal(DefaultConsumerName))
	})

	It("defaults to the same name each time the process starts", func() {
		host, err := os.Hostname()
		Expect(err).ShouldNot(HaveOccurred())
		Expect(DefaultConsumerName).To(Equal(host))
	})
})

var _ = Describe("func WithHandlerTimeout()", func() {
	It("sets the handler timeout", func() {
		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithHandlerTimeout(10*time.Minute),
		)

		Expect(opts.HandlerTimeout).To(Equal(10 * time.Minute))
	})

	It("uses the default if the duration is zero", func() {
		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithHandlerTimeout(0),
		)

		Expect(opts.HandlerTimeout).To(Equal(DefaultHandlerTimeout))
	})

	It("panics if the duration is less than zero", func() {
		Expect(func() {
			WithHandlerTimeout(-1)
		}).To(PanicWith("duration must not be negative"))
	})
})

var _ = Describe("func WithRetryPolicy()", func() {
	It("sets the retry policy", func() {
		p := retry.ExponentialBackoff{Min: time.Second, Max: time.Minute}

		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithRetryPolicy(p),
		)

		Expect(opts.RetryPolicy).To(Equal(p))
	})

	It("uses the default if the policy is nil", func() {
		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithRetryPolicy(nil),
		)

		Expect(opts.RetryPolicy).To(Equal(DefaultRetryPolicy))
	})
})

var _ = Describe("func WithRestartBackoff()", func() {
	It("sets the backoff strategy", func() {
		s := backoff.Constant(10 * time.Second)

		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithRestartBackoff(s),
		)

		Expect(opts.RestartBackoff(nil, 1)).To(Equal(10 * time.Second))
	})

	It("uses the default if the strategy is nil", func() {
		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithRestartBackoff(nil),
		)

		Expect(opts.RestartBackoff).ToNot(BeNil())
	})
})

var _ = Describe("func WithConcurrencyLimit()", func() {
	It("sets the concurrency limit", func() {
		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithConcurrencyLimit(10),
		)

		Expect(opts.ConcurrencyLimit).To(BeNumerically("==", 10))
	})
})

var _ = Describe("func WithClock()", func() {
	It("sets the clock", func() {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		opts := resolveEngineOptions(
			WithRole(DelayRole),
			WithClock(func() time.Time { return now }),
		)

		Expect(opts.Clock()).To(Equal(now))
	})

	It("uses the system clock if the clock is nil", func() {
		opts := resolveEngineOptions(
			WithRole(DelayRole),
			WithClock(nil),
		)

		Expect(opts.Clock()).To(BeTemporally("~", time.Now(), time.Second))
	})
})

var _ = Describe("func WithMeter()", func() {
	It("sets the meter", func() {
		m := noop.NewMeterProvider().Meter("<meter>")

		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithMeter(m),
		)

		Expect(opts.Meter).To(Equal(m))
	})
})

var _ = Describe("func WithLogger()", func() {
	It("sets the logger", func() {
		logger := &logging.BufferedLogger{}

		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithLogger(logger),
		)

		Expect(opts.Logger).To(BeIdenticalTo(logger))
	})

	It("uses the default if the logger is nil", func() {
		opts := resolveEngineOptions(
			WithRole(StateRole),
			WithLogger(nil),
		)

		Expect(opts.Logger).To(Equal(DefaultLogger))
	})
})
