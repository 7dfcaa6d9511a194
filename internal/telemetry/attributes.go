// Package telemetry defines the attributes attached to the metrics recorded by
// consumers.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// StreamKey is a metric attribute key for the name of the stream being
	// consumed.
	StreamKey = attribute.Key("vista.stream")

	// GroupKey is a metric attribute key for the name of the consumer group.
	GroupKey = attribute.Key("vista.group")

	// ConsumerKey is a metric attribute key for the name of a member of a
	// consumer group.
	ConsumerKey = attribute.Key("vista.consumer")
)

// SubscriptionAttributes returns a measurement option that sets the standard
// attributes describing a consumer group subscription.
//
// Empty values are omitted.
func SubscriptionAttributes(stream, group, consumer string) metric.MeasurementOption {
	var attrs []attribute.KeyValue

	if stream != "" {
		attrs = append(attrs, StreamKey.String(stream))
	}

	if group != "" {
		attrs = append(attrs, GroupKey.String(group))
	}

	if consumer != "" {
		attrs = append(attrs, ConsumerKey.String(consumer))
	}

	return metric.WithAttributeSet(attribute.NewSet(attrs...))
}
