package mlog

import (
	"io"
	"strings"

	"github.com/dogmatiq/iago/must"
)

// Line is a single log message.
//
// It is rendered as a fixed-width column of labels, followed by a column of
// icons, followed by the non-empty text fragments joined by SeparatorIcon.
type Line struct {
	Labels []IconWithLabel
	Icons  []Icon
	Text   []string
}

func (l Line) String() string {
	var w strings.Builder
	l.WriteTo(&w) // strings.Builder never fails
	return w.String()
}

// WriteTo writes the log line to w.
func (l Line) WriteTo(w io.Writer) (_ int64, err error) {
	defer must.Recover(&err)

	var n int

	for _, v := range l.Labels {
		n += must.WriteTo(w, v)
		n += must.Write(w, space2)
	}

	for _, v := range l.Icons {
		n += must.WriteTo(w, v)
		n += must.Write(w, space1)
	}

	first := true
	for _, v := range l.Text {
		if v == "" {
			continue
		}

		n += must.Write(w, space1)

		if !first {
			n += must.WriteTo(w, SeparatorIcon)
			n += must.Write(w, space1)
		}

		n += must.WriteString(w, v)
		first = false
	}

	return int64(n), nil
}

var (
	space1 = []byte{' '}
	space2 = []byte{' ', ' '}
)
