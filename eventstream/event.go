package eventstream

import (
	"fmt"
	"time"
)

// Event is an immutable domain event read from an event log.
type Event struct {
	// ID is the unique identifier of the event, as assigned by its producer.
	ID string

	// Position is the position of the event within the log.
	//
	// Positions are unique within a stream and increase monotonically for
	// the events of any single entity.
	Position uint64

	// EntityID is the identity of the entity that the event describes.
	EntityID string

	// Type is the event's type tag.
	Type string

	// Payload is the serialized event body.
	Payload []byte

	// CreatedAt is the time at which the event was produced.
	CreatedAt time.Time
}

// String returns a short human-readable description of the event.
func (e Event) String() string {
	return fmt.Sprintf("%s@%d[%s]", e.Type, e.Position, e.EntityID)
}

// Delivery is a single attempt at delivering an event to a consumer group
// member.
type Delivery struct {
	// Event is the delivered event.
	Event Event

	// Attempt is the 1-based number of times this event has been delivered to
	// the group. It is greater than 1 for redeliveries.
	Attempt uint

	// Ref is a log-specific reference used to acknowledge or park the delivery.
	// It is opaque to consumers.
	Ref any
}

// IsRedelivery returns true if the event has been delivered before.
func (d Delivery) IsRedelivery() bool {
	return d.Attempt > 1
}
