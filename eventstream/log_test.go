package eventstream_test

import (
	"time"

	. "github.com/dogmatiq/vista/eventstream"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func GroupName()", func() {
	It("qualifies the namespace with the role", func() {
		Expect(GroupName("t2", "state")).To(Equal("t2-state"))
	})

	It("returns the namespace if there is no role", func() {
		Expect(GroupName("t2", "")).To(Equal("t2"))
	})
})

var _ = Describe("func ParkedStreamName()", func() {
	It("appends the parked suffix", func() {
		Expect(ParkedStreamName("template2")).To(Equal("template2-parked"))
	})
})

var _ = Describe("type StartPosition", func() {
	DescribeTable(
		"func ParseStartPosition()",
		func(s string, expect StartPosition) {
			p, err := ParseStartPosition(s)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(p).To(Equal(expect))
		},
		Entry("empty", "", FromBeginning),
		Entry("beginning", "beginning", FromBeginning),
		Entry("start", "start", FromBeginning),
		Entry("end", "end", FromEnd),
		Entry("now", "now", FromEnd),
	)

	It("returns an error for an unknown position", func() {
		_, err := ParseStartPosition("<position>")
		Expect(err).To(MatchError("start position must be 'beginning' or 'end'"))
	})

	It("can be unmarshaled from text", func() {
		var p StartPosition
		Expect(p.UnmarshalText([]byte("end"))).To(Succeed())
		Expect(p).To(Equal(FromEnd))
		Expect(p.String()).To(Equal("end"))
	})
})

var _ = Describe("type SubscriptionOptions", func() {
	Describe("func AckTimeoutOrDefault()", func() {
		It("returns the ack timeout if it is positive", func() {
			opts := SubscriptionOptions{AckTimeout: time.Second}
			Expect(opts.AckTimeoutOrDefault()).To(Equal(time.Second))
		})

		It("returns the default if the ack timeout is not positive", func() {
			opts := SubscriptionOptions{AckTimeout: -time.Second}
			Expect(opts.AckTimeoutOrDefault()).To(Equal(DefaultAckTimeout))
		})
	})
})

var _ = Describe("type Delivery", func() {
	It("is a redelivery after the first attempt", func() {
		Expect(Delivery{Attempt: 1}.IsRedelivery()).To(BeFalse())
		Expect(Delivery{Attempt: 2}.IsRedelivery()).To(BeTrue())
	})
})

var _ = Describe("type Event", func() {
	It("describes itself by type, position and entity", func() {
		ev := Event{Type: "OrderShipped", Position: 3, EntityID: "order-42"}
		Expect(ev.String()).To(Equal("OrderShipped@3[order-42]"))
	})
})
