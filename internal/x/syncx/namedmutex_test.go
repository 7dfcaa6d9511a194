package syncx_test

import (
	"context"
	"time"

	. "github.com/dogmatiq/vista/internal/x/syncx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type MutexNamespace", func() {
	var (
		ctx context.Context
		ns  *MutexNamespace
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 250*time.Millisecond)
		DeferCleanup(cancel)

		ns = &MutexNamespace{}
	})

	Describe("func Lock()", func() {
		It("returns an unlock function", func() {
			u, err := ns.Lock(ctx, "<name>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(u).NotTo(BeNil())
			u()
		})

		It("allows re-locking of the same mutex", func() {
			u, err := ns.Lock(ctx, "<name>")
			Expect(err).ShouldNot(HaveOccurred())
			u()

			u, err = ns.Lock(ctx, "<name>")
			Expect(err).ShouldNot(HaveOccurred())
			u()
		})

		It("allows locking of two different mutexes", func() {
			u1, err := ns.Lock(ctx, "<name-1>")
			Expect(err).ShouldNot(HaveOccurred())
			defer u1()

			u2, err := ns.Lock(ctx, "<name-2>")
			Expect(err).ShouldNot(HaveOccurred())
			u2()
		})

		It("discards mutexes that are no longer referenced", func() {
			u, err := ns.Lock(ctx, "<name>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ns.Len()).To(Equal(1))

			u()
			u() // second call has no effect
			Expect(ns.Len()).To(Equal(0))
		})

		When("the mutex is already locked", func() {
			var unlock UnlockFunc

			BeforeEach(func() {
				var err error
				unlock, err = ns.Lock(ctx, "<name>")
				Expect(err).ShouldNot(HaveOccurred())
				DeferCleanup(func() { unlock() })
			})

			It("blocks until the mutex is unlocked", func() {
				go func() {
					time.Sleep(20 * time.Millisecond)
					unlock()
				}()

				u, err := ns.Lock(ctx, "<name>")
				Expect(err).ShouldNot(HaveOccurred())
				u()
			})

			It("returns an error if the deadline is exceeded", func() {
				ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
				defer cancel()

				u, err := ns.Lock(ctx, "<name>")
				Expect(u).To(BeNil())
				Expect(err).To(Equal(context.DeadlineExceeded))
			})
		})
	})

	Describe("func TryLock()", func() {
		It("acquires an unlocked mutex", func() {
			u, ok := ns.TryLock("<name>")
			Expect(ok).To(BeTrue())
			u()
		})

		It("returns false if the mutex is locked", func() {
			u, err := ns.Lock(ctx, "<name>")
			Expect(err).ShouldNot(HaveOccurred())
			defer u()

			_, ok := ns.TryLock("<name>")
			Expect(ok).To(BeFalse())
			Expect(ns.Len()).To(Equal(1))
		})
	})
})
