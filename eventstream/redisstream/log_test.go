package redisstream_test

import (
	"context"
	"os"
	"time"

	"github.com/dogmatiq/vista/eventstream"
	"github.com/dogmatiq/vista/eventstream/internal/logtest"
	. "github.com/dogmatiq/vista/eventstream/redisstream"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
)

// redisURI returns the URI of the Redis server used for testing, skipping the
// test if none is configured.
func redisURI() string {
	uri := os.Getenv("VISTA_TEST_REDIS_URI")
	if uri == "" {
		Skip("VISTA_TEST_REDIS_URI is not set")
	}

	return uri
}

var _ = Describe("type Log", func() {
	logtest.Declare(
		func(ctx context.Context, in logtest.In) logtest.Out {
			l, err := Dial(ctx, redisURI())
			Expect(err).ShouldNot(HaveOccurred())

			l.PollInterval = 50 * time.Millisecond

			return logtest.Out{
				Log: l,
				Append: func(ctx context.Context, events ...eventstream.Event) {
					for _, ev := range events {
						err := l.Client.XAdd(ctx, &redis.XAddArgs{
							Stream: in.Stream,
							Values: Values(ev),
						}).Err()
						Expect(err).ShouldNot(HaveOccurred())
					}
				},
				AckTimeout: 250 * time.Millisecond,
				Teardown: func() {
					ctx := context.Background()
					l.Client.Del(ctx, in.Stream, eventstream.ParkedStreamName(in.Stream))
					l.Close()
				},
			}
		},
	)

	Describe("func Dial()", func() {
		It("returns an error if the URI is invalid", func() {
			_, err := Dial(context.Background(), "<invalid>")
			Expect(err).To(MatchError(ContainSubstring("unable to parse event log URI")))
		})
	})
})
