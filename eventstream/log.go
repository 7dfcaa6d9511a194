package eventstream

import (
	"context"
	"errors"
	"time"
)

// ErrSubscriptionClosed is returned by a subscription's methods after it has
// been closed.
var ErrSubscriptionClosed = errors.New("subscription is closed")

// DefaultAckTimeout is the default duration after which an unacknowledged
// delivery becomes eligible for redelivery.
const DefaultAckTimeout = 30 * time.Second

// StartPosition determines where a newly created consumer group begins
// reading from a stream.
type StartPosition int

const (
	// FromBeginning starts a new group at the first event on the stream.
	FromBeginning StartPosition = iota

	// FromEnd starts a new group after the last event currently on the stream.
	FromEnd
)

func (p StartPosition) String() string {
	if p == FromEnd {
		return "end"
	}

	return "beginning"
}

// ParseStartPosition parses the textual form of a StartPosition.
func ParseStartPosition(s string) (StartPosition, error) {
	switch s {
	case "", "beginning", "start":
		return FromBeginning, nil
	case "end", "now":
		return FromEnd, nil
	default:
		return 0, errors.New("start position must be 'beginning' or 'end'")
	}
}

// UnmarshalText parses the textual form of a StartPosition.
func (p *StartPosition) UnmarshalText(text []byte) error {
	v, err := ParseStartPosition(string(text))
	if err != nil {
		return err
	}

	*p = v
	return nil
}

// SubscriptionOptions describes a durable consumer group subscription.
type SubscriptionOptions struct {
	// Stream is the name of the logical stream to consume.
	Stream string

	// Group is the name of the consumer group.
	Group string

	// Consumer is the name of this member within the group.
	//
	// A subscription that joins the group under the name of a member that
	// has gone away takes over that member's unacknowledged deliveries
	// immediately, rather than waiting for them to time out. The name should
	// therefore be stable across restarts of the same process.
	Consumer string

	// From is the position at which the group begins reading if the group is
	// created by this subscription. It has no effect on an existing group.
	From StartPosition

	// AckTimeout is the duration after which an unacknowledged delivery is
	// redelivered. If it is non-positive, DefaultAckTimeout is used.
	AckTimeout time.Duration
}

// Log is an append-only, ordered event log that supports durable consumer
// groups.
type Log interface {
	// Subscribe opens or joins a durable consumer group subscription.
	//
	// Creating a group that already exists is not an error.
	Subscribe(ctx context.Context, opts SubscriptionOptions) (Subscription, error)

	// Close releases the log's resources.
	Close() error
}

// Subscription is a member's view of a consumer group.
//
// Every event is delivered to the group at least once. Deliveries that are not
// acknowledged within the ack timeout are redelivered.
//
// Next never returns an event while an earlier event for the same entity is
// pending in the group, unless that earlier event was itself returned by this
// subscription. Such later events are held back until the earlier event is
// acknowledged or parked, or is redelivered to this subscription.
//
// Next must not be called concurrently, but Ack and Park may be called from
// any goroutine.
type Subscription interface {
	// Next blocks until the next delivery is available or ctx is canceled.
	Next(ctx context.Context) (Delivery, error)

	// Ack acknowledges a delivery, advancing the group's durable position so
	// that the event is not redelivered.
	Ack(ctx context.Context, d Delivery) error

	// Park moves a delivery to the stream's dead-letter destination along with
	// the reason it could not be processed, then acknowledges it.
	Park(ctx context.Context, d Delivery, cause error) error

	// Close stops the subscription. Unacknowledged deliveries are redelivered
	// to the group.
	Close() error
}

// GroupName returns the consumer group name used by a specific role within a
// shared group namespace.
//
// Each role maintains its own acknowledgment position, so roles that consume
// the same stream must not share a group.
func GroupName(namespace, role string) string {
	if role == "" {
		return namespace
	}

	return namespace + "-" + role
}

// ParkedStreamName returns the name of the dead-letter destination for the
// given stream.
func ParkedStreamName(stream string) string {
	return stream + "-parked"
}

// AckTimeoutOrDefault returns opts.AckTimeout, or DefaultAckTimeout if it is
// non-positive.
func (opts SubscriptionOptions) AckTimeoutOrDefault() time.Duration {
	if opts.AckTimeout > 0 {
		return opts.AckTimeout
	}

	return DefaultAckTimeout
}
