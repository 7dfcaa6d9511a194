package mlog

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/vista/eventstream"
)

// LogApply logs a message indicating that an event has been folded into a
// projection.
func LogApply(
	log logging.Logger,
	kind string,
	d eventstream.Delivery,
) {
	logging.LogString(
		log,
		Line{
			Labels: eventLabels(d.Event),
			Icons:  []Icon{ConsumeIcon, retryIcon(d.Attempt)},
			Text:   []string{kind, d.Event.Type},
		}.String(),
	)
}

// LogSkip logs a debug message indicating that an event was ignored because
// the projection already reflects it.
func LogSkip(
	log logging.Logger,
	kind string,
	ev eventstream.Event,
	version uint64,
) {
	logging.Debug(
		log,
		"%s",
		Line{
			Labels: eventLabels(ev),
			Icons:  []Icon{ConsumeIcon, SkipIcon},
			Text: []string{
				kind,
				ev.Type,
				fmt.Sprintf("already applied at version %d", version),
			},
		},
	)
}

// LogRetry logs a message indicating that an event could not be handled and
// will be retried.
func LogRetry(
	log logging.Logger,
	d eventstream.Delivery,
	cause error,
	delay time.Duration,
) {
	logging.LogString(
		log,
		Line{
			Labels: eventLabels(d.Event),
			Icons:  []Icon{ConsumeErrorIcon, ErrorIcon},
			Text: []string{
				d.Event.Type,
				cause.Error(),
				fmt.Sprintf("next retry in %s", delay),
			},
		}.String(),
	)
}

// LogPark logs a message indicating that an event was moved to the dead-letter
// stream.
func LogPark(
	log logging.Logger,
	d eventstream.Delivery,
	cause error,
) {
	logging.LogString(
		log,
		Line{
			Labels: eventLabels(d.Event),
			Icons:  []Icon{ConsumeErrorIcon, ParkIcon},
			Text:   []string{d.Event.Type, cause.Error(), "parked"},
		}.String(),
	)
}

// LogDelay logs a debug message describing a delay measurement.
func LogDelay(
	log logging.Logger,
	ev eventstream.Event,
	group string,
	delay time.Duration,
) {
	logging.Debug(
		log,
		"%s",
		Line{
			Labels: eventLabels(ev),
			Icons:  []Icon{DelayIcon, ""},
			Text:   []string{group, fmt.Sprintf("delay is %s", delay)},
		},
	)
}

func eventLabels(ev eventstream.Event) []IconWithLabel {
	return []IconWithLabel{
		EventIDIcon.WithID(ev.ID),
		EntityIDIcon.WithID(ev.EntityID),
		PositionIcon.WithLabel("%s", strconv.FormatUint(ev.Position, 10)),
	}
}

func retryIcon(attempt uint) Icon {
	if attempt <= 1 {
		return ""
	}

	return RetryIcon
}
