package order_test

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/vista/cachestore/memorycache"
	"github.com/dogmatiq/vista/eventstream"
	. "github.com/dogmatiq/vista/internal/order"
	"github.com/dogmatiq/vista/projection"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func mustEvent(pos uint64, eventType string, v any) eventstream.Event {
	ev, err := NewEvent("order-42", eventType, v)
	if err != nil {
		panic(err)
	}

	ev.ID = eventType
	ev.Position = pos
	ev.CreatedAt = time.Date(2026, 1, 1, 0, 0, int(pos), 0, time.UTC)

	return ev
}

var _ = Describe("order projections", func() {
	var (
		ctx     context.Context
		store   *memorycache.Store
		state   *projection.CacheRepository[State]
		summary *projection.CacheRepository[Summary]
		events  []eventstream.Event
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = &memorycache.Store{}

		state = &projection.CacheRepository[State]{
			Kind:  projection.State,
			Store: store,
			Fold:  FoldState,
		}

		summary = &projection.CacheRepository[Summary]{
			Kind:  projection.Dto,
			Store: store,
			Fold:  FoldSummary,
		}

		events = []eventstream.Event{
			mustEvent(1, CreatedType, Created{Customer: "<customer>"}),
			mustEvent(2, ItemAddedType, ItemAdded{SKU: "<sku>", Quantity: 2, Price: 150}),
			mustEvent(3, ShippedType, Shipped{Carrier: "<carrier>"}),
		}
	})

	applyAll := func() {
		for _, ev := range events {
			_, err := state.ApplyEvent(ctx, ev.EntityID, ev)
			Expect(err).ShouldNot(HaveOccurred())

			_, err = summary.ApplyEvent(ctx, ev.EntityID, ev)
			Expect(err).ShouldNot(HaveOccurred())
		}
	}

	It("builds the state of the order from its history", func() {
		applyAll()

		s, ok, err := state.Get(ctx, "order-42")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(s).To(Equal(projection.Snapshot[State]{
			Value: State{
				ID:       "order-42",
				Customer: "<customer>",
				Items: []Item{
					{SKU: "<sku>", Quantity: 2, Price: 150},
				},
				Status:  ShippedStatus,
				Carrier: "<carrier>",
			},
			Version: 3,
		}))
	})

	It("builds a summary that is consistent with the state", func() {
		applyAll()

		s, ok, err := summary.Get(ctx, "order-42")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(s).To(Equal(projection.Snapshot[Summary]{
			Value: Summary{
				OrderID:   "order-42",
				Customer:  "<customer>",
				ItemCount: 2,
				Total:     300,
				Status:    ShippedStatus,
				UpdatedAt: events[2].CreatedAt,
			},
			Version: 3,
		}))
	})

	It("ignores a replay of an event that has already been applied", func() {
		applyAll()

		beforeState, _, err := state.Get(ctx, "order-42")
		Expect(err).ShouldNot(HaveOccurred())

		beforeSummary, _, err := summary.Get(ctx, "order-42")
		Expect(err).ShouldNot(HaveOccurred())

		_, err = state.ApplyEvent(ctx, "order-42", events[1])
		Expect(err).ShouldNot(HaveOccurred())

		_, err = summary.ApplyEvent(ctx, "order-42", events[1])
		Expect(err).ShouldNot(HaveOccurred())

		afterState, _, err := state.Get(ctx, "order-42")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(afterState).To(Equal(beforeState))

		afterSummary, _, err := summary.Get(ctx, "order-42")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(afterSummary).To(Equal(beforeSummary))
	})

	DescribeTable(
		"rejects events that violate the order lifecycle",
		func(history []eventstream.Event, ev eventstream.Event, expect string) {
			for _, h := range history {
				_, err := state.ApplyEvent(ctx, h.EntityID, h)
				Expect(err).ShouldNot(HaveOccurred())

				_, err = summary.ApplyEvent(ctx, h.EntityID, h)
				Expect(err).ShouldNot(HaveOccurred())
			}

			var foldErr *projection.FoldError

			_, err := state.ApplyEvent(ctx, ev.EntityID, ev)
			Expect(errors.As(err, &foldErr)).To(BeTrue())
			Expect(foldErr.Cause).To(MatchError(expect))

			_, err = summary.ApplyEvent(ctx, ev.EntityID, ev)
			Expect(errors.As(err, &foldErr)).To(BeTrue())
			Expect(foldErr.Cause).To(MatchError(expect))
		},
		Entry(
			"item added before the order is created",
			[]eventstream.Event{},
			mustEvent(1, ItemAddedType, ItemAdded{SKU: "<sku>", Quantity: 1}),
			"order has not been created",
		),
		Entry(
			"order created twice",
			[]eventstream.Event{mustEvent(1, CreatedType, Created{})},
			mustEvent(2, CreatedType, Created{}),
			"order has already been created",
		),
		Entry(
			"item added after shipping",
			[]eventstream.Event{
				mustEvent(1, CreatedType, Created{}),
				mustEvent(2, ShippedType, Shipped{}),
			},
			mustEvent(3, ItemAddedType, ItemAdded{SKU: "<sku>", Quantity: 1}),
			"can not add items to a shipped order",
		),
		Entry(
			"non-positive quantity",
			[]eventstream.Event{mustEvent(1, CreatedType, Created{})},
			mustEvent(2, ItemAddedType, ItemAdded{SKU: "<sku>", Quantity: 0}),
			"item quantity must be positive, got 0",
		),
		Entry(
			"shipped twice",
			[]eventstream.Event{
				mustEvent(1, CreatedType, Created{}),
				mustEvent(2, ShippedType, Shipped{}),
			},
			mustEvent(3, ShippedType, Shipped{}),
			"order has already been shipped",
		),
		Entry(
			"unrecognized event type",
			[]eventstream.Event{mustEvent(1, CreatedType, Created{})},
			mustEvent(2, "OrderCancelled", struct{}{}),
			"unrecognized event type: OrderCancelled",
		),
	)
})
