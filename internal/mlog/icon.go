package mlog

import (
	"fmt"
	"io"

	"github.com/dogmatiq/iago/must"
)

const (
	// EventIDIcon is the icon shown directly before an event ID. It is an
	// "equals sign", indicating that this event "has exactly" the displayed ID.
	EventIDIcon Icon = "="

	// EntityIDIcon is the icon shown directly before an entity ID. It is the
	// mathematical "member of set" symbol, indicating that the event belongs
	// to the history of the displayed entity.
	EntityIDIcon Icon = "⋲"

	// PositionIcon is the icon shown directly before a stream position.
	PositionIcon Icon = "@"

	// ConsumeIcon is the icon shown to indicate that an event is being
	// consumed. It is a downward pointing arrow, as events are "downloaded"
	// from the log.
	ConsumeIcon Icon = "▼"

	// ConsumeErrorIcon is a hollow variant of ConsumeIcon used when an event
	// could not be consumed.
	ConsumeErrorIcon Icon = "▽"

	// RetryIcon is shown when an event is being re-attempted. It is an
	// open-circle with an arrow, indicating that the event has "come around
	// again".
	RetryIcon Icon = "↻"

	// SkipIcon is shown when an event has already been folded into a
	// projection and is ignored.
	SkipIcon Icon = "≈"

	// ParkIcon is shown when an event is moved to the dead-letter stream.
	ParkIcon Icon = "⊘"

	// ErrorIcon is the icon shown when logging information about an error.
	// It is a heavy cross, indicating a failure.
	ErrorIcon Icon = "✖"

	// ProjectionIcon is shown when a log message relates to a projection. It
	// is the mathematical "sum" symbol, representing the aggregation of
	// events.
	ProjectionIcon Icon = "Σ"

	// DelayIcon is shown when a log message relates to a delay measurement.
	// It is an hourglass.
	DelayIcon Icon = "⧖"

	// SystemIcon is an icon shown when a log message relates to the internals
	// of the consumer. It is a sprocket, representing the inner workings of
	// the machine.
	SystemIcon Icon = "⚙"

	// SeparatorIcon is used to separate strings of unrelated text inside a log
	// message.
	SeparatorIcon Icon = "●"
)

// Icon is a unicode symbol used as an icon in log messages.
type Icon string

func (i Icon) String() string {
	return string(i)
}

// WriteTo writes the icon to w. The zero-value is rendered as a single space
// so that columns line up.
func (i Icon) WriteTo(w io.Writer) (int64, error) {
	s := string(i)
	if s == "" {
		s = " "
	}

	n, err := io.WriteString(w, s)
	return int64(n), err
}

// WithLabel returns an IconWithLabel containing this icon and the given label.
func (i Icon) WithLabel(f string, v ...any) IconWithLabel {
	label := fmt.Sprintf(f, v...)
	if label == "" {
		label = "-"
	}

	return IconWithLabel{i, label}
}

// WithID returns an IconWithLabel containing this icon and the given ID.
//
// UUIDs are shortened to their first 8 characters. Any other ID, such as an
// entity ID, is shown in full.
func (i Icon) WithID(id string) IconWithLabel {
	if len(id) == 36 && id[8] == '-' && id[13] == '-' {
		id = id[:8]
	}

	return i.WithLabel("%s", id)
}

// IconWithLabel is an icon and its associated text label.
type IconWithLabel struct {
	Icon  Icon
	Label string
}

func (i IconWithLabel) String() string {
	return i.Icon.String() + " " + i.Label
}

// WriteTo writes the icon and its label to w.
func (i IconWithLabel) WriteTo(w io.Writer) (_ int64, err error) {
	defer must.Recover(&err)

	n := must.WriteTo(w, i.Icon)
	n += must.Write(w, space1)
	n += must.WriteString(w, i.Label)

	return int64(n), err
}
