package inflight_test

import (
	. "github.com/dogmatiq/vista/eventstream/internal/inflight"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Watermark", func() {
	var wm *Watermark

	BeforeEach(func() {
		wm = &Watermark{}
		wm.Deliver(10)
		wm.Deliver(11)
		wm.Deliver(13)
	})

	It("advances past consecutive acknowledged offsets", func() {
		next, ok := wm.Ack(10)
		Expect(ok).To(BeTrue())
		Expect(next).To(BeNumerically("==", 11))
		Expect(wm.Pending()).To(Equal(2))
	})

	It("does not advance past an unacknowledged offset", func() {
		next, ok := wm.Ack(11)
		Expect(ok).To(BeFalse())
		Expect(next).To(BeNumerically("==", 10))

		next, ok = wm.Ack(10)
		Expect(ok).To(BeTrue())
		Expect(next).To(BeNumerically("==", 12))
	})

	It("skips gaps between delivered offsets", func() {
		wm.Ack(10)
		wm.Ack(11)

		next, ok := wm.Ack(13)
		Expect(ok).To(BeTrue())
		Expect(next).To(BeNumerically("==", 14))
		Expect(wm.Pending()).To(Equal(0))
	})

	It("ignores a local redelivery of an offset", func() {
		wm.Deliver(11)
		Expect(wm.Pending()).To(Equal(3))
	})
})
