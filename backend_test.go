package vista_test

import (
	"context"

	. "github.com/dogmatiq/vista"
	"github.com/dogmatiq/vista/cachestore/boltcache"
	"github.com/dogmatiq/vista/cachestore/memorycache"
	"github.com/dogmatiq/vista/eventstream/memorystream"
	"github.com/dogmatiq/vista/internal/testing/boltdbtest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func OpenEventLog()", func() {
	It("returns an in-memory log for the memory scheme", func() {
		l, err := OpenEventLog(context.Background(), "memory://", nil)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(l).To(BeAssignableToTypeOf(&memorystream.Log{}))
	})

	It("returns an error if the scheme is not supported", func() {
		_, err := OpenEventLog(context.Background(), "nats://localhost", nil)
		Expect(err).To(MatchError(`unable to parse event log URI: unsupported scheme "nats"`))
	})

	It("returns an error if the URI has no scheme", func() {
		_, err := OpenEventLog(context.Background(), "localhost", nil)
		Expect(err).To(MatchError(`unable to parse event log URI: "localhost" has no scheme`))
	})

	It("returns an error if the Kafka URI names no brokers", func() {
		_, err := OpenEventLog(context.Background(), "kafka://", nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("func OpenCacheStore()", func() {
	It("returns an in-memory store for the memory scheme", func() {
		s, err := OpenCacheStore(context.Background(), "memory://")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(s).To(BeAssignableToTypeOf(&memorycache.Store{}))
	})

	It("opens a BoltDB store for the bolt scheme", func() {
		path, remove := boltdbtest.TempPath()
		DeferCleanup(remove)

		s, err := OpenCacheStore(context.Background(), "bolt://"+path)
		Expect(err).ShouldNot(HaveOccurred())
		DeferCleanup(s.Close)

		Expect(s).To(BeAssignableToTypeOf(&boltcache.Store{}))
	})

	It("returns an error if the scheme is not supported", func() {
		_, err := OpenCacheStore(context.Background(), "memcached://localhost")
		Expect(err).To(MatchError(`unable to parse cache store URI: unsupported scheme "memcached"`))
	})
})
