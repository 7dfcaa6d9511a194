package kafkastream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/dogmatiq/vista/eventstream"
)

// envelope is the JSON representation of an event within a Kafka message.
type envelope struct {
	ID        string          `json:"id"`
	EntityID  string          `json:"entity_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewMessage returns the Kafka message that represents ev on the given topic.
//
// The message is keyed by the entity ID so that all events for an entity are
// written to the same partition. ev.Payload must be valid JSON.
func NewMessage(topic string, ev eventstream.Event) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(envelope{
		ID:        ev.ID,
		EntityID:  ev.EntityID,
		Type:      ev.Type,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.EntityID),
		Value: sarama.ByteEncoder(data),
	}, nil
}

// decodeMessage converts a consumed Kafka message into an event.
//
// The event's position is the message offset plus one, so that position zero
// always means "no events".
func decodeMessage(m *sarama.ConsumerMessage) (eventstream.Event, error) {
	var env envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return eventstream.Event{}, fmt.Errorf(
			"message at %s/%d:%d is not a valid event envelope: %w",
			m.Topic,
			m.Partition,
			m.Offset,
			err,
		)
	}

	ev := eventstream.Event{
		ID:        env.ID,
		Position:  uint64(m.Offset) + 1,
		EntityID:  env.EntityID,
		Type:      env.Type,
		Payload:   env.Payload,
		CreatedAt: env.CreatedAt,
	}

	if ev.EntityID == "" {
		ev.EntityID = string(m.Key)
	}

	if ev.EntityID == "" {
		return eventstream.Event{}, fmt.Errorf(
			"message at %s/%d:%d has no entity ID",
			m.Topic,
			m.Partition,
			m.Offset,
		)
	}

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.Timestamp
	}

	if ev.ID == "" {
		ev.ID = fmt.Sprintf("%s/%d:%d", m.Topic, m.Partition, m.Offset)
	}

	return ev, nil
}

// parkedMessage returns the message written to the parked topic for a
// message that could not be processed.
func parkedMessage(topic, group string, key, value []byte, cause error) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic: eventstream.ParkedStreamName(topic),
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("reason"), Value: []byte(cause.Error())},
			{Key: []byte("group"), Value: []byte(group)},
		},
	}
}
