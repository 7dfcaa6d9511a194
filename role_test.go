package vista_test

import (
	. "github.com/dogmatiq/vista"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func ParseRole()", func() {
	DescribeTable(
		"it parses known roles",
		func(s string, expect Role) {
			r, err := ParseRole(s)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(r).To(Equal(expect))
		},
		Entry("delay", "delay", DelayRole),
		Entry("dto", "dto", DtoRole),
		Entry("state", "state", StateRole),
		Entry("mixed case", "State", StateRole),
		Entry("surrounding whitespace", " dto ", DtoRole),
	)

	It("returns an error for an unknown role", func() {
		_, err := ParseRole("<unknown>")
		Expect(err).To(MatchError(`unrecognized consumer role "<unknown>", expected one of delay, dto or state`))
	})
})
