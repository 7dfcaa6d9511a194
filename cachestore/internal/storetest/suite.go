package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/dogmatiq/vista/cachestore"
	"github.com/dogmatiq/vista/internal/x/gomegax"
	"github.com/google/uuid"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

// Declare declares generic behavioral tests for a cachestore.Store
// implementation.
//
// setup returns the store under test and a function that releases its
// resources.
func Declare(setup func(context.Context) (cachestore.Store, func())) {
	var (
		ctx   context.Context
		store cachestore.Store
		key   string
	)

	ginkgo.BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)
		ginkgo.DeferCleanup(cancel)

		var teardown func()
		store, teardown = setup(ctx)
		ginkgo.DeferCleanup(teardown)

		// Keys are unique per test so that shared servers need no flushing.
		key = cachestore.ProjectionKey("<kind>", uuid.NewString())
	})

	ginkgo.Describe("func Load()", func() {
		ginkgo.It("returns false if the key does not exist", func() {
			_, ok, err := store.Load(ctx, key)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())
		})

		ginkgo.It("returns the saved record", func() {
			rec := cachestore.Record{
				Version:   3,
				MediaType: "application/json",
				Data:      []byte(`{"value":1}`),
			}

			err := store.Save(ctx, key, rec, 0, 0)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			r, ok, err := store.Load(ctx, key)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(r).To(gomegax.EqualX(rec))
		})
	})

	ginkgo.Describe("func Save()", func() {
		ginkgo.It("replaces the record if the expected version matches", func() {
			err := store.Save(ctx, key, cachestore.Record{Version: 1, Data: []byte("<one>")}, 0, 0)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			err = store.Save(ctx, key, cachestore.Record{Version: 2, Data: []byte("<two>")}, 1, 0)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			r, _, err := store.Load(ctx, key)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(r.Version).To(gomega.BeEquivalentTo(2))
			gomega.Expect(string(r.Data)).To(gomega.Equal("<two>"))
		})

		ginkgo.It("returns ErrConflict if the key exists but zero is expected", func() {
			err := store.Save(ctx, key, cachestore.Record{Version: 1}, 0, 0)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			err = store.Save(ctx, key, cachestore.Record{Version: 2}, 0, 0)
			gomega.Expect(err).To(gomega.Equal(cachestore.ErrConflict))
		})

		ginkgo.It("returns ErrConflict if the stored version differs", func() {
			err := store.Save(ctx, key, cachestore.Record{Version: 1}, 0, 0)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			err = store.Save(ctx, key, cachestore.Record{Version: 3}, 2, 0)
			gomega.Expect(err).To(gomega.Equal(cachestore.ErrConflict))

			r, _, err := store.Load(ctx, key)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(r.Version).To(gomega.BeEquivalentTo(1))
		})

		ginkgo.It("returns ErrConflict if the key does not exist but a version is expected", func() {
			err := store.Save(ctx, key, cachestore.Record{Version: 2}, 1, 0)
			gomega.Expect(err).To(gomega.Equal(cachestore.ErrConflict))
		})

		ginkgo.It("expires the record after the TTL", func() {
			err := store.Save(ctx, key, cachestore.Record{Version: 1}, 0, 50*time.Millisecond)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			gomega.Eventually(func() bool {
				_, ok, err := store.Load(ctx, key)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				return ok
			}).WithTimeout(time.Second).Should(gomega.BeFalse())

			// An expired record is treated as absent by the version check.
			err = store.Save(ctx, key, cachestore.Record{Version: 1}, 0, 0)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
		})

		ginkgo.It("allows exactly one of several concurrent writers to succeed", func() {
			const writers = 10

			var (
				g         sync.WaitGroup
				m         sync.Mutex
				succeeded int
			)

			for i := 0; i < writers; i++ {
				g.Add(1)
				go func() {
					defer g.Done()
					defer ginkgo.GinkgoRecover()

					err := store.Save(ctx, key, cachestore.Record{Version: 1}, 0, 0)
					if err == cachestore.ErrConflict {
						return
					}
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

					m.Lock()
					succeeded++
					m.Unlock()
				}()
			}

			g.Wait()
			gomega.Expect(succeeded).To(gomega.Equal(1))
		})
	})

	ginkgo.Describe("func Lock()", func() {
		ginkgo.It("blocks while another owner holds the lock", func() {
			lk := cachestore.LockKey("<kind>", key)

			l, err := store.Lock(ctx, lk, time.Second)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()

			_, err = store.Lock(shortCtx, lk, time.Second)
			gomega.Expect(err).To(gomega.Equal(context.DeadlineExceeded))

			err = l.Release(ctx)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			l, err = store.Lock(ctx, lk, time.Second)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			err = l.Release(ctx)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
		})

		ginkgo.It("unblocks a waiting owner when the lock is released", func() {
			lk := cachestore.LockKey("<kind>", key)

			held, err := store.Lock(ctx, lk, time.Second)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			go func() {
				time.Sleep(20 * time.Millisecond)
				held.Release(ctx)
			}()

			l, err := store.Lock(ctx, lk, time.Second)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			err = l.Release(ctx)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
		})
	})
}
