package delay_test

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/vista/cachestore"
	"github.com/dogmatiq/vista/cachestore/memorycache"
	. "github.com/dogmatiq/vista/delay"
	"github.com/dogmatiq/vista/eventstream"
	. "github.com/dogmatiq/vista/fixtures"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Monitor", func() {
	var (
		ctx     context.Context
		now     time.Time
		store   *CacheStoreStub
		logger  *logging.BufferedLogger
		monitor *Monitor
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		store = &CacheStoreStub{Store: &memorycache.Store{}}
		logger = &logging.BufferedLogger{}

		monitor = &Monitor{
			Store:  store,
			Stream: "template2",
			Group:  "t2-delay",
			Clock:  func() time.Time { return now },
			Logger: logger,
		}
	})

	event := func(pos uint64, createdAt time.Time) eventstream.Event {
		ev := NewEvent(pos, "order-42", "Created", "")
		ev.CreatedAt = createdAt
		return ev
	}

	Describe("func HandleEvent()", func() {
		It("records the time since the event was created", func() {
			err := monitor.HandleEvent(ctx, event(7, now.Add(-1500*time.Millisecond)))
			Expect(err).ShouldNot(HaveOccurred())

			s, ok, err := monitor.Latest(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(s).To(Equal(Sample{
				Stream:     "template2",
				Group:      "t2-delay",
				Delay:      1500 * time.Millisecond,
				ObservedAt: now,
				Position:   7,
			}))
		})

		It("writes the sample under the well-known key", func() {
			err := monitor.HandleEvent(ctx, event(1, now.Add(-time.Second)))
			Expect(err).ShouldNot(HaveOccurred())

			_, ok, err := store.Load(ctx, "delay:template2:t2-delay")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("clamps negative delays to zero", func() {
			err := monitor.HandleEvent(ctx, event(1, now.Add(time.Minute)))
			Expect(err).ShouldNot(HaveOccurred())

			s, _, err := monitor.Latest(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(s.Delay).To(Equal(time.Duration(0)))
		})

		It("replaces the latest sample with each event", func() {
			err := monitor.HandleEvent(ctx, event(1, now.Add(-5*time.Second)))
			Expect(err).ShouldNot(HaveOccurred())

			err = monitor.HandleEvent(ctx, event(2, now.Add(-1*time.Second)))
			Expect(err).ShouldNot(HaveOccurred())

			s, _, err := monitor.Latest(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(s.Position).To(BeEquivalentTo(2))
			Expect(s.Delay).To(Equal(1 * time.Second))
		})

		It("keeps the maximum delay within the window", func() {
			err := monitor.HandleEvent(ctx, event(1, now.Add(-5*time.Second)))
			Expect(err).ShouldNot(HaveOccurred())

			err = monitor.HandleEvent(ctx, event(2, now.Add(-1*time.Second)))
			Expect(err).ShouldNot(HaveOccurred())

			s, ok, err := monitor.Max(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(s.Position).To(BeEquivalentTo(1))
			Expect(s.Delay).To(Equal(5 * time.Second))
		})

		It("replaces the maximum delay once the window has elapsed", func() {
			monitor.Window = 10 * time.Second

			err := monitor.HandleEvent(ctx, event(1, now.Add(-5*time.Second)))
			Expect(err).ShouldNot(HaveOccurred())

			now = now.Add(10 * time.Second)

			err = monitor.HandleEvent(ctx, event(2, now.Add(-1*time.Second)))
			Expect(err).ShouldNot(HaveOccurred())

			s, _, err := monitor.Max(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(s.Position).To(BeEquivalentTo(2))
		})

		It("logs and does not return an error if the store is unavailable", func() {
			store.SaveFunc = func(
				context.Context,
				string,
				cachestore.Record,
				uint64,
				time.Duration,
			) error {
				return errors.New("<unavailable>")
			}

			err := monitor.HandleEvent(ctx, event(1, now))
			Expect(err).ShouldNot(HaveOccurred())

			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "unable to record latest delay: <unavailable>",
				},
			))
		})

		It("gives up after repeated conflicts", func() {
			store.SaveFunc = func(
				context.Context,
				string,
				cachestore.Record,
				uint64,
				time.Duration,
			) error {
				return cachestore.ErrConflict
			}

			err := monitor.HandleEvent(ctx, event(1, now))
			Expect(err).ShouldNot(HaveOccurred())

			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "unable to record latest delay: delay:template2:t2-delay was modified concurrently 3 times",
				},
			))
		})
	})

	Describe("func Latest()", func() {
		It("returns false if no sample has been recorded", func() {
			_, ok, err := monitor.Latest(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})
})
