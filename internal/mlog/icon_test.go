package mlog_test

import (
	"strings"

	. "github.com/dogmatiq/vista/internal/mlog"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Icon", func() {
	Describe("func String()", func() {
		It("returns the icon string", func() {
			Expect(EventIDIcon.String()).To(Equal("="))
		})
	})

	Describe("func WriteTo()", func() {
		It("renders the zero-value as a space", func() {
			w := &strings.Builder{}

			n, err := Icon("").WriteTo(w)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(n).To(BeEquivalentTo(1))
			Expect(w.String()).To(Equal(" "))
		})
	})

	Describe("func WithLabel()", func() {
		It("returns the icon and label", func() {
			Expect(
				PositionIcon.WithLabel("<foo>").String(),
			).To(Equal("@ <foo>"))
		})

		It("uses a hyphen in place of an empty label", func() {
			Expect(
				PositionIcon.WithLabel("").String(),
			).To(Equal("@ -"))
		})
	})

	Describe("func WithID()", func() {
		It("returns the icon and the formatted ID", func() {
			Expect(
				EventIDIcon.WithID("47d10297-8192-40c4-aa77-ad63e7d4a8cb").String(),
			).To(Equal("= 47d10297"))
		})

		It("shows non-UUID identifiers in full", func() {
			Expect(
				EntityIDIcon.WithID("order-42").String(),
			).To(Equal("⋲ order-42"))
		})
	})
})
