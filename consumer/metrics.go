package consumer

import (
	"context"

	"github.com/dogmatiq/vista/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
)

// meterName is the instrumentation scope used when no meter is configured.
const meterName = "github.com/dogmatiq/vista/consumer"

// Metrics encapsulates the metrics collected by a Consumer.
type Metrics struct {
	// Applied counts events that were handled successfully and acknowledged.
	Applied metric.Int64Counter

	// Retried counts failed attempts that are to be retried.
	Retried metric.Int64Counter

	// Parked counts events that were moved to the dead-letter stream.
	Parked metric.Int64Counter

	// HandlingTime records the time spent in each attempt to handle an event,
	// in seconds.
	HandlingTime metric.Float64Histogram

	attrs metric.MeasurementOption
}

// NewMetrics creates the consumer's instruments using m, labelling every
// measurement with the stream and consumer group.
//
// If m is nil, the global meter provider is used.
func NewMetrics(m metric.Meter, stream, group string) (*Metrics, error) {
	if m == nil {
		m = otel.GetMeterProvider().Meter(meterName)
	}

	var (
		x   Metrics
		err error
		e   error
	)

	x.Applied, e = m.Int64Counter(
		"vista.consumer.applied",
		metric.WithDescription("Number of events handled and acknowledged"),
		metric.WithUnit("{event}"),
	)
	err = multierr.Append(err, e)

	x.Retried, e = m.Int64Counter(
		"vista.consumer.retried",
		metric.WithDescription("Number of failed attempts that are retried"),
		metric.WithUnit("{attempt}"),
	)
	err = multierr.Append(err, e)

	x.Parked, e = m.Int64Counter(
		"vista.consumer.parked",
		metric.WithDescription("Number of events moved to the dead-letter stream"),
		metric.WithUnit("{event}"),
	)
	err = multierr.Append(err, e)

	x.HandlingTime, e = m.Float64Histogram(
		"vista.consumer.handling_time",
		metric.WithDescription("Time spent handling each event"),
		metric.WithUnit("s"),
	)
	err = multierr.Append(err, e)

	x.attrs = telemetry.SubscriptionAttributes(stream, group, "")

	return &x, err
}

func (x *Metrics) add(ctx context.Context, c metric.Int64Counter) {
	c.Add(ctx, 1, x.attrs)
}
