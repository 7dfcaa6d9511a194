package mlog_test

import (
	"errors"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/vista/eventstream"
	. "github.com/dogmatiq/vista/internal/mlog"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("log functions", func() {
	var (
		logger *logging.BufferedLogger
		ev     eventstream.Event
	)

	BeforeEach(func() {
		logger = &logging.BufferedLogger{CaptureDebug: true}
		ev = eventstream.Event{
			ID:       "<id>",
			Position: 3,
			EntityID: "order-42",
			Type:     "Shipped",
		}
	})

	Describe("func LogApply()", func() {
		It("logs in the correct format", func() {
			LogApply(logger, "state", eventstream.Delivery{Event: ev})

			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "= <id>  ⋲ order-42  @ 3  ▼    state ● Shipped",
				},
			))
		})

		It("shows a retry icon for redeliveries", func() {
			LogApply(logger, "state", eventstream.Delivery{Event: ev, Attempt: 2})

			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "= <id>  ⋲ order-42  @ 3  ▼ ↻  state ● Shipped",
				},
			))
		})
	})

	Describe("func LogSkip()", func() {
		It("logs a debug message in the correct format", func() {
			LogSkip(logger, "dto", ev, 5)

			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "= <id>  ⋲ order-42  @ 3  ▼ ≈  dto ● Shipped ● already applied at version 5",
					IsDebug: true,
				},
			))
		})
	})

	Describe("func LogRetry()", func() {
		It("logs in the correct format", func() {
			LogRetry(
				logger,
				eventstream.Delivery{Event: ev},
				errors.New("<error>"),
				5*time.Second,
			)

			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "= <id>  ⋲ order-42  @ 3  ▽ ✖  Shipped ● <error> ● next retry in 5s",
				},
			))
		})
	})

	Describe("func LogPark()", func() {
		It("logs in the correct format", func() {
			LogPark(
				logger,
				eventstream.Delivery{Event: ev},
				errors.New("<error>"),
			)

			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "= <id>  ⋲ order-42  @ 3  ▽ ⊘  Shipped ● <error> ● parked",
				},
			))
		})
	})

	Describe("func LogDelay()", func() {
		It("logs a debug message in the correct format", func() {
			LogDelay(logger, ev, "t2-delay", 1500*time.Millisecond)

			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "= <id>  ⋲ order-42  @ 3  ⧖    t2-delay ● delay is 1.5s",
					IsDebug: true,
				},
			))
		})
	})
})
