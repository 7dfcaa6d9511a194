package kafkastream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/vista/eventstream"
	"github.com/dogmatiq/vista/eventstream/internal/inflight"
)

// subscription is an eventstream.Subscription for a Kafka consumer group.
type subscription struct {
	log      *Log
	opts     eventstream.SubscriptionOptions
	group    sarama.ConsumerGroup
	producer sarama.SyncProducer

	deliveries chan eventstream.Delivery
	inflight   inflight.Tracker[key]

	// m guards sess and marks, which are replaced on each rebalance.
	m     sync.Mutex
	sess  *session
	marks map[partition]*inflight.Watermark

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// session is a single generation of group membership.
type session struct {
	sarama.ConsumerGroupSession
}

type partition struct {
	topic string
	id    int32
}

type key struct {
	partition
	offset int64
}

// ref identifies a delivery and the session generation that produced it.
type ref struct {
	key
	sess *session
}

func newSubscription(
	l *Log,
	opts eventstream.SubscriptionOptions,
	g sarama.ConsumerGroup,
	p sarama.SyncProducer,
) *subscription {
	ctx, cancel := context.WithCancel(context.Background())

	return &subscription{
		log:        l,
		opts:       opts,
		group:      g,
		producer:   p,
		deliveries: make(chan eventstream.Delivery),
		inflight: inflight.Tracker[key]{
			Timeout: opts.AckTimeoutOrDefault(),
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// start begins consuming from the group in the background. Consume() returns
// on every rebalance, so it is called repeatedly until the subscription is
// closed.
func (s *subscription) start() {
	go func() {
		defer close(s.done)

		counter := backoff.Counter{}

		for {
			err := s.group.Consume(s.ctx, []string{s.opts.Stream}, s)
			if s.ctx.Err() != nil {
				return
			}

			if err == nil {
				counter.Reset()
				continue
			}

			delay := counter.Fail(err)

			logging.Log(
				s.log.Logger,
				"consumer group '%s' failed, rejoining in %s: %s",
				s.opts.Group,
				delay,
				err,
			)

			if linger.Sleep(s.ctx, delay) != nil {
				return
			}
		}
	}()

	go func() {
		for err := range s.group.Errors() {
			logging.Log(
				s.log.Logger,
				"consumer group '%s' error: %s",
				s.opts.Group,
				err,
			)
		}
	}()
}

// Setup is called by sarama at the beginning of a new session.
func (s *subscription) Setup(sess sarama.ConsumerGroupSession) error {
	s.m.Lock()
	defer s.m.Unlock()

	s.sess = &session{sess}
	s.marks = map[partition]*inflight.Watermark{}

	// Deliveries from the previous generation can no longer be committed by
	// this member. They will be consumed again by whichever member now owns
	// their partitions.
	s.inflight.Drain()

	return nil
}

// Cleanup is called by sarama at the end of a session.
func (s *subscription) Cleanup(sarama.ConsumerGroupSession) error {
	s.m.Lock()
	defer s.m.Unlock()

	s.sess = nil
	s.marks = nil

	return nil
}

// ConsumeClaim forwards messages from a partition claim to Next().
func (s *subscription) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	p := partition{claim.Topic(), claim.Partition()}

	s.m.Lock()
	current := s.sess
	wm := &inflight.Watermark{}
	s.marks[p] = wm
	s.m.Unlock()

	for {
		select {
		case <-sess.Context().Done():
			return nil

		case m, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			wm.Deliver(m.Offset)
			r := ref{key{p, m.Offset}, current}

			ev, err := decodeMessage(m)
			if err != nil {
				logging.Log(s.log.Logger, "parking malformed message: %s", err)

				if err := s.park(sess.Context(), r, m.Key, m.Value, err); err != nil {
					return err
				}

				continue
			}

			d := eventstream.Delivery{
				Event:   ev,
				Attempt: 1,
				Ref:     r,
			}

			s.inflight.Add(r.key, d, time.Now())

			select {
			case s.deliveries <- d:
			case <-sess.Context().Done():
				return nil
			}
		}
	}
}

// Next blocks until the next delivery is available or ctx is canceled.
//
// Deliveries that have not been acknowledged within the ack timeout are
// redelivered before new messages.
func (s *subscription) Next(ctx context.Context) (eventstream.Delivery, error) {
	ticker := time.NewTicker(s.inflight.Timeout / 4)
	defer ticker.Stop()

	for {
		if expired := s.inflight.Expired(time.Now()); len(expired) > 0 {
			// Only the first expired delivery is returned. The others have
			// their timeout restarted and are picked up again later, which
			// keeps redelivery from flooding the consumer.
			return expired[0], nil
		}

		select {
		case <-ctx.Done():
			return eventstream.Delivery{}, ctx.Err()
		case <-s.ctx.Done():
			return eventstream.Delivery{}, eventstream.ErrSubscriptionClosed
		case d := <-s.deliveries:
			return d, nil
		case <-ticker.C:
		}
	}
}

// Ack acknowledges a delivery, committing the partition's offset if every
// earlier delivery on that partition has also been acknowledged.
func (s *subscription) Ack(ctx context.Context, d eventstream.Delivery) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	r := d.Ref.(ref)
	s.inflight.Remove(r.key)
	s.mark(r)

	return nil
}

// Park writes the delivery to the parked topic then acknowledges it.
func (s *subscription) Park(ctx context.Context, d eventstream.Delivery, cause error) error {
	r := d.Ref.(ref)

	msg, err := NewMessage(eventstream.ParkedStreamName(s.opts.Stream), d.Event)
	if err != nil {
		return err
	}

	value, err := msg.Value.Encode()
	if err != nil {
		return err
	}

	if err := s.park(ctx, r, []byte(d.Event.EntityID), value, cause); err != nil {
		return err
	}

	s.inflight.Remove(r.key)

	return nil
}

func (s *subscription) park(
	ctx context.Context,
	r ref,
	key, value []byte,
	cause error,
) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	msg := parkedMessage(r.topic, s.opts.Group, key, value, cause)

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("unable to park message at offset %d: %w", r.offset, err)
	}

	s.mark(r)

	return nil
}

// mark advances the committed offset of r's partition if possible.
//
// Marks from a previous session generation are discarded, since the partition
// may now be owned by another member.
func (s *subscription) mark(r ref) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.sess == nil || s.sess != r.sess {
		return
	}

	wm, ok := s.marks[r.partition]
	if !ok {
		return
	}

	if next, advanced := wm.Ack(r.offset); advanced {
		s.sess.MarkOffset(r.topic, r.id, next, "")
	}
}

// Close leaves the consumer group. Uncommitted offsets are consumed again by
// the group.
func (s *subscription) Close() error {
	err := eventstream.ErrSubscriptionClosed

	s.once.Do(func() {
		s.cancel()
		err = s.group.Close()
		<-s.done
	})

	return err
}
