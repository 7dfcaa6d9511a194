package mlog_test

import (
	"strings"

	. "github.com/dogmatiq/vista/internal/mlog"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Line", func() {
	labels := []IconWithLabel{
		EventIDIcon.WithLabel("123"),
		EntityIDIcon.WithLabel("order-42"),
		PositionIcon.WithLabel("7"),
	}

	entries := []any{
		Entry(
			"renders labels, icons and text",
			"= 123  ⋲ order-42  @ 7  ▼ ↻  <foo> ● <bar>",
			Line{
				Labels: labels,
				Icons:  []Icon{ConsumeIcon, RetryIcon},
				Text:   []string{"<foo>", "<bar>"},
			},
		),
		Entry(
			"renders a hyphen in place of empty labels",
			"= 123  ⋲ order-42  @ -  ▼    <foo>",
			Line{
				Labels: []IconWithLabel{
					EventIDIcon.WithLabel("123"),
					EntityIDIcon.WithLabel("order-42"),
					PositionIcon.WithLabel(""),
				},
				Icons: []Icon{ConsumeIcon, ""},
				Text:  []string{"<foo>"},
			},
		),
		Entry(
			"skips empty text",
			"= 123  ⋲ order-42  @ 7  ⧖    <foo> ● <bar>",
			Line{
				Labels: labels,
				Icons:  []Icon{DelayIcon, ""},
				Text:   []string{"", "<foo>", "", "<bar>"},
			},
		),
		Entry(
			"renders a line without text",
			"= 123  ⋲ order-42  @ 7  ▽ ⊘ ",
			Line{
				Labels: labels,
				Icons:  []Icon{ConsumeErrorIcon, ParkIcon},
			},
		),
	}

	DescribeTable(
		"func String()",
		append([]any{
			func(expected string, l Line) {
				Expect(l.String()).To(Equal(expected))
			},
		}, entries...)...,
	)

	DescribeTable(
		"func WriteTo()",
		append([]any{
			func(expected string, l Line) {
				var w strings.Builder

				n, err := l.WriteTo(&w)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(n).To(BeNumerically("==", len(expected)))
				Expect(w.String()).To(Equal(expected))
			},
		}, entries...)...,
	)
})
