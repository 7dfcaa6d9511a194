package logtest

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/vista/eventstream"
	"github.com/google/uuid"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

// In is the input to a setup function.
type In struct {
	// Stream is the name of a stream that is unique to the test.
	Stream string
}

// Out is the output of a setup function.
type Out struct {
	// Log is the log under test.
	Log eventstream.Log

	// Append writes events to the stream named by In.Stream.
	Append func(ctx context.Context, events ...eventstream.Event)

	// Timeout bounds each test. If it is zero, a default suited to in-process
	// logs is used.
	Timeout time.Duration

	// AckTimeout is the ack timeout used by subscriptions in the tests. If it
	// is zero, a default suited to in-process logs is used.
	AckTimeout time.Duration

	// JoinDelay is the time it takes a new subscription to establish its
	// starting position.
	JoinDelay time.Duration

	// Teardown releases the log's resources. It may be nil.
	Teardown func()
}

// Declare declares generic behavioral tests for an eventstream.Log
// implementation.
func Declare(setup func(context.Context, In) Out) {
	var (
		ctx    context.Context
		in     In
		out    Out
		events []eventstream.Event
	)

	ginkgo.BeforeEach(func() {
		setupCtx, cancelSetup := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelSetup()

		in = In{
			Stream: "stream-" + uuid.NewString(),
		}

		out = setup(setupCtx, in)
		if out.Teardown != nil {
			ginkgo.DeferCleanup(out.Teardown)
		}

		if out.Timeout == 0 {
			out.Timeout = 5 * time.Second
		}

		if out.AckTimeout == 0 {
			out.AckTimeout = 100 * time.Millisecond
		}

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), out.Timeout)
		ginkgo.DeferCleanup(cancel)

		events = []eventstream.Event{
			newEvent("<entity-1>", "<type-a>"),
			newEvent("<entity-2>", "<type-b>"),
			newEvent("<entity-1>", "<type-c>"),
		}
	})

	subscribeAs := func(group, consumer string) eventstream.Subscription {
		sub, err := out.Log.Subscribe(ctx, eventstream.SubscriptionOptions{
			Stream:     in.Stream,
			Group:      group,
			Consumer:   consumer,
			From:       eventstream.FromBeginning,
			AckTimeout: out.AckTimeout,
		})
		gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
		ginkgo.DeferCleanup(func() { sub.Close() })

		return sub
	}

	subscribe := func(group string, from eventstream.StartPosition) eventstream.Subscription {
		sub, err := out.Log.Subscribe(ctx, eventstream.SubscriptionOptions{
			Stream:     in.Stream,
			Group:      group,
			Consumer:   "consumer-" + uuid.NewString(),
			From:       from,
			AckTimeout: out.AckTimeout,
		})
		gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
		ginkgo.DeferCleanup(func() { sub.Close() })

		return sub
	}

	next := func(sub eventstream.Subscription) eventstream.Delivery {
		d, err := sub.Next(ctx)
		gomega.ExpectWithOffset(1, err).ShouldNot(gomega.HaveOccurred())
		return d
	}

	// expectNothing asserts that no delivery is made within a few ack
	// timeouts.
	expectNothing := func(sub eventstream.Subscription) {
		waitCtx, cancel := context.WithTimeout(ctx, 3*out.AckTimeout)
		defer cancel()

		d, err := sub.Next(waitCtx)
		gomega.ExpectWithOffset(1, err).To(
			gomega.MatchError(context.DeadlineExceeded),
			"unexpected delivery of %s",
			d.Event.ID,
		)
	}

	ginkgo.Describe("func Subscribe()", func() {
		ginkgo.It("delivers events in the order they were appended", func() {
			out.Append(ctx, events...)
			sub := subscribe("<group>", eventstream.FromBeginning)

			var prev uint64
			for _, ev := range events {
				d := next(sub)

				gomega.Expect(d.Event.ID).To(gomega.Equal(ev.ID))
				gomega.Expect(d.Event.EntityID).To(gomega.Equal(ev.EntityID))
				gomega.Expect(d.Event.Type).To(gomega.Equal(ev.Type))
				gomega.Expect(d.Event.Payload).To(gomega.MatchJSON(ev.Payload))
				gomega.Expect(d.Event.CreatedAt).To(gomega.BeTemporally("~", ev.CreatedAt, time.Millisecond))
				gomega.Expect(d.Attempt).To(gomega.BeNumerically("==", 1))
				gomega.Expect(d.IsRedelivery()).To(gomega.BeFalse())

				if d.Event.EntityID == events[0].EntityID {
					gomega.Expect(d.Event.Position).To(gomega.BeNumerically(">", prev))
					prev = d.Event.Position
				}

				gomega.Expect(sub.Ack(ctx, d)).To(gomega.Succeed())
			}
		})

		ginkgo.It("delivers events appended after the subscription started", func() {
			sub := subscribe("<group>", eventstream.FromBeginning)
			out.Append(ctx, events[0])

			d := next(sub)
			gomega.Expect(d.Event.ID).To(gomega.Equal(events[0].ID))
		})

		ginkgo.It("starts a new group after existing events if requested", func() {
			out.Append(ctx, events[0])
			sub := subscribe("<group>", eventstream.FromEnd)
			time.Sleep(out.JoinDelay)
			out.Append(ctx, events[1])

			d := next(sub)
			gomega.Expect(d.Event.ID).To(gomega.Equal(events[1].ID))
		})

		ginkgo.It("delivers every event to each group", func() {
			out.Append(ctx, events[0])

			a := subscribe("<group-a>", eventstream.FromBeginning)
			b := subscribe("<group-b>", eventstream.FromBeginning)

			gomega.Expect(next(a).Event.ID).To(gomega.Equal(events[0].ID))
			gomega.Expect(next(b).Event.ID).To(gomega.Equal(events[0].ID))
		})

		ginkgo.It("resumes an existing group from its acknowledged position", func() {
			out.Append(ctx, events[0])

			sub := subscribe("<group>", eventstream.FromBeginning)
			gomega.Expect(sub.Ack(ctx, next(sub))).To(gomega.Succeed())
			gomega.Expect(sub.Close()).To(gomega.Succeed())

			out.Append(ctx, events[1])

			// FromEnd has no effect on a group that already exists.
			sub = subscribe("<group>", eventstream.FromEnd)
			gomega.Expect(next(sub).Event.ID).To(gomega.Equal(events[1].ID))
		})
	})

	ginkgo.Describe("func Ack()", func() {
		ginkgo.It("prevents the event from being redelivered", func() {
			out.Append(ctx, events[0])
			sub := subscribe("<group>", eventstream.FromBeginning)

			gomega.Expect(sub.Ack(ctx, next(sub))).To(gomega.Succeed())
			expectNothing(sub)
		})

		ginkgo.It("redelivers unacknowledged events after the ack timeout", func() {
			out.Append(ctx, events[0])
			sub := subscribe("<group>", eventstream.FromBeginning)

			first := next(sub)
			again := next(sub)

			gomega.Expect(again.Event.ID).To(gomega.Equal(first.Event.ID))
			gomega.Expect(again.Event.Position).To(gomega.Equal(first.Event.Position))
			gomega.Expect(again.Attempt).To(gomega.BeNumerically(">", first.Attempt))
			gomega.Expect(again.IsRedelivery()).To(gomega.BeTrue())

			gomega.Expect(sub.Ack(ctx, again)).To(gomega.Succeed())
			expectNothing(sub)
		})

		ginkgo.It("redelivers events left unacknowledged by a closed subscription", func() {
			out.Append(ctx, events[0])

			sub := subscribe("<group>", eventstream.FromBeginning)
			next(sub)
			gomega.Expect(sub.Close()).To(gomega.Succeed())

			sub = subscribe("<group>", eventstream.FromBeginning)
			gomega.Expect(next(sub).Event.ID).To(gomega.Equal(events[0].ID))
		})
	})

	ginkgo.Describe("func Next()", func() {
		// Events left pending by a subscription that has gone away.
		var abandoned eventstream.Event

		ginkgo.BeforeEach(func() {
			abandoned = events[0]
			out.Append(ctx, abandoned)

			sub := subscribeAs("<group>", "<consumer-a>")
			gomega.Expect(next(sub).Event.ID).To(gomega.Equal(abandoned.ID))
			gomega.Expect(sub.Close()).To(gomega.Succeed())

			// events[2] is a later event for the same entity as events[0].
			out.Append(ctx, events[2], events[1])
		})

		// consume acknowledges deliveries until the given event has been seen,
		// returning the events in delivery order.
		consume := func(sub eventstream.Subscription, until eventstream.Event) []string {
			var ids []string

			for {
				d := next(sub)
				gomega.Expect(sub.Ack(ctx, d)).To(gomega.Succeed())

				ids = append(ids, d.Event.ID)
				if d.Event.ID == until.ID {
					return ids
				}
			}
		}

		ginkgo.It("does not deliver a later event for an entity before a pending earlier one", func() {
			sub := subscribeAs("<group>", "<consumer-b>")
			ids := consume(sub, events[2])

			gomega.Expect(ids).To(gomega.ContainElement(abandoned.ID))
			gomega.Expect(indexOf(ids, abandoned.ID)).To(gomega.BeNumerically("<", indexOf(ids, events[2].ID)))
		})

		ginkgo.It("redelivers pending events first to a consumer that rejoins under the same name", func() {
			sub := subscribeAs("<group>", "<consumer-a>")

			d := next(sub)
			gomega.Expect(d.Event.ID).To(gomega.Equal(abandoned.ID))
			gomega.Expect(sub.Ack(ctx, d)).To(gomega.Succeed())

			ids := consume(sub, events[2])
			gomega.Expect(ids).NotTo(gomega.ContainElement(abandoned.ID))
		})
	})

	ginkgo.Describe("func Park()", func() {
		ginkgo.It("acknowledges the event", func() {
			out.Append(ctx, events[0], events[1])
			sub := subscribe("<group>", eventstream.FromBeginning)

			d := next(sub)
			gomega.Expect(d.Event.ID).To(gomega.Equal(events[0].ID))

			err := sub.Park(ctx, d, errors.New("<cause>"))
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			d = next(sub)
			gomega.Expect(d.Event.ID).To(gomega.Equal(events[1].ID))
			gomega.Expect(sub.Ack(ctx, d)).To(gomega.Succeed())

			expectNothing(sub)
		})
	})

	ginkgo.Describe("func Close()", func() {
		ginkgo.It("causes Next() to return ErrSubscriptionClosed", func() {
			sub := subscribe("<group>", eventstream.FromBeginning)
			gomega.Expect(sub.Close()).To(gomega.Succeed())

			_, err := sub.Next(ctx)
			gomega.Expect(err).To(gomega.Equal(eventstream.ErrSubscriptionClosed))
		})

		ginkgo.It("returns ErrSubscriptionClosed if the subscription is already closed", func() {
			sub := subscribe("<group>", eventstream.FromBeginning)
			gomega.Expect(sub.Close()).To(gomega.Succeed())
			gomega.Expect(sub.Close()).To(gomega.Equal(eventstream.ErrSubscriptionClosed))
		})
	})
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}

	return -1
}

func newEvent(entityID, eventType string) eventstream.Event {
	id := uuid.NewString()

	return eventstream.Event{
		ID:        id,
		EntityID:  entityID,
		Type:      eventType,
		Payload:   []byte(`{"id":"` + id + `"}`),
		CreatedAt: time.Now().Truncate(time.Millisecond).UTC(),
	}
}
