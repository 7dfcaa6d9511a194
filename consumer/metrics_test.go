package consumer_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	. "github.com/dogmatiq/vista/consumer"
	"github.com/dogmatiq/vista/eventstream"
	"github.com/dogmatiq/vista/eventstream/memorystream"
	. "github.com/dogmatiq/vista/fixtures"
	"github.com/dogmatiq/vista/projection"
	"github.com/dogmatiq/vista/retry"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var _ = Describe("type Metrics", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		reader   *sdkmetric.ManualReader
		log      *memorystream.Log
		handler  *HandlerStub
		consumer *Consumer
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		DeferCleanup(cancel)

		reader = sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		DeferCleanup(func() {
			provider.Shutdown(context.Background())
		})

		log = &memorystream.Log{}
		handler = &HandlerStub{}

		consumer = &Consumer{
			Name: "<name>",
			Log:  log,
			Subscription: eventstream.SubscriptionOptions{
				Stream:     "<stream>",
				Group:      "<group>",
				Consumer:   "<consumer>",
				AckTimeout: time.Minute,
			},
			Handler:     handler,
			RetryPolicy: retry.ExponentialBackoff{Min: time.Millisecond, Max: time.Millisecond},
			GracePeriod: 500 * time.Millisecond,
			Meter:       provider.Meter("<test>"),
			Logger:      &logging.BufferedLogger{},
		}

		go consumer.Run(ctx)
	})

	// sum returns the value of the named counter, or -1 if the counter has not
	// recorded anything yet.
	sum := func(name string) int64 {
		var rm metricdata.ResourceMetrics
		Expect(reader.Collect(ctx, &rm)).To(Succeed())

		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name != name {
					continue
				}

				data := m.Data.(metricdata.Sum[int64])

				var total int64
				for _, dp := range data.DataPoints {
					stream, _ := dp.Attributes.Value("vista.stream")
					group, _ := dp.Attributes.Value("vista.group")
					Expect(stream).To(Equal(attribute.StringValue("<stream>")))
					Expect(group).To(Equal(attribute.StringValue("<group>")))

					total += dp.Value
				}

				return total
			}
		}

		return -1
	}

	It("counts events that are applied", func() {
		log.Append(
			"<stream>",
			NewEvent(0, "<entity-1>", "Created", ""),
			NewEvent(0, "<entity-2>", "Created", ""),
		)

		Eventually(func() int64 {
			return sum("vista.consumer.applied")
		}).Should(BeNumerically("==", 2))
	})

	It("counts retried attempts and parked events", func() {
		var calls atomic.Int32
		handler.HandleEventFunc = func(context.Context, eventstream.Event) error {
			if calls.Add(1) == 1 {
				return &projection.LockTimeoutError{Kind: projection.State, ID: "<entity>"}
			}

			return &projection.FoldError{
				Kind:     projection.State,
				ID:       "<entity>",
				Position: 1,
				Cause:    errors.New("<rejected>"),
			}
		}

		log.Append("<stream>", NewEvent(0, "<entity>", "Created", ""))

		Eventually(func() int64 {
			return sum("vista.consumer.parked")
		}).Should(BeNumerically("==", 1))

		Expect(sum("vista.consumer.retried")).To(BeNumerically("==", 1))
		Expect(sum("vista.consumer.applied")).To(BeNumerically("==", -1))
	})
})
