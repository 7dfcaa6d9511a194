// Package delay measures how far a consumer group trails the head of a
// stream.
package delay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/vista/cachestore"
	"github.com/dogmatiq/vista/eventstream"
	"github.com/dogmatiq/vista/internal/mlog"
	"github.com/dogmatiq/vista/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// DefaultWindow is the default period over which the maximum delay is
// tracked.
const DefaultWindow = 1 * time.Minute

// mediaType is the media type of stored samples.
const mediaType = "application/json"

// maxSaveAttempts is the number of times a sample write is attempted when it
// conflicts with a write by another member of the group.
const maxSaveAttempts = 3

// Sample is a single delay measurement.
type Sample struct {
	Stream     string        `json:"stream"`
	Group      string        `json:"group"`
	Delay      time.Duration `json:"delay_ns"`
	ObservedAt time.Time     `json:"observed_at"`
	Position   uint64        `json:"position"`
}

// Monitor is a consumer handler that records the time between the creation of
// each event and its observation.
//
// The latest sample and the maximum sample within a rolling window are written
// to the cache store under well-known keys.
type Monitor struct {
	// Store is the cache store that samples are written to.
	Store cachestore.Store

	// Stream and Group identify the consumer group being measured.
	Stream string
	Group  string

	// Window is the period over which the maximum delay is tracked. If it is
	// zero, DefaultWindow is used.
	Window time.Duration

	// Clock returns the current time. If it is nil, time.Now is used.
	Clock func() time.Time

	// Meter is used to create the delay histogram. If it is nil, the global
	// meter provider is used.
	Meter metric.Meter

	// Logger is the target for log messages. If it is nil,
	// logging.DefaultLogger is used.
	Logger logging.Logger

	once      sync.Once
	histogram metric.Float64Histogram
}

// HandleEvent records the delay of ev.
//
// It never fails. A sample that can not be written is logged and dropped, as
// the next event produces a new one.
func (m *Monitor) HandleEvent(ctx context.Context, ev eventstream.Event) error {
	s := m.sample(ev)

	mlog.LogDelay(m.Logger, ev, m.Group, s.Delay)
	m.record(ctx, s)

	if err := m.write(ctx, cachestore.DelayKey(m.Stream, m.Group), s, alwaysReplace); err != nil {
		logging.Log(m.Logger, "unable to record latest delay: %s", err)
	}

	window := m.Window
	if window <= 0 {
		window = DefaultWindow
	}

	replaceMax := func(prev Sample) bool {
		return s.Delay >= prev.Delay || s.ObservedAt.Sub(prev.ObservedAt) >= window
	}

	if err := m.write(ctx, cachestore.DelayMaxKey(m.Stream, m.Group), s, replaceMax); err != nil {
		logging.Log(m.Logger, "unable to record maximum delay: %s", err)
	}

	return nil
}

// Latest returns the most recent sample.
func (m *Monitor) Latest(ctx context.Context) (Sample, bool, error) {
	s, _, ok, err := m.load(ctx, cachestore.DelayKey(m.Stream, m.Group))
	return s, ok, err
}

// Max returns the sample with the largest delay within the current window.
func (m *Monitor) Max(ctx context.Context) (Sample, bool, error) {
	s, _, ok, err := m.load(ctx, cachestore.DelayMaxKey(m.Stream, m.Group))
	return s, ok, err
}

// sample measures the delay of ev. Events that appear to have been created
// in the future, due to clock skew, have a delay of zero.
func (m *Monitor) sample(ev eventstream.Event) Sample {
	now := time.Now()
	if m.Clock != nil {
		now = m.Clock()
	}

	d := now.Sub(ev.CreatedAt)
	if d < 0 {
		d = 0
	}

	return Sample{
		Stream:     m.Stream,
		Group:      m.Group,
		Delay:      d,
		ObservedAt: now,
		Position:   ev.Position,
	}
}

func (m *Monitor) record(ctx context.Context, s Sample) {
	m.once.Do(func() {
		meter := m.Meter
		if meter == nil {
			meter = otel.GetMeterProvider().Meter("github.com/dogmatiq/vista/delay")
		}

		h, err := meter.Float64Histogram(
			"vista.consumer.delay",
			metric.WithDescription("Time between the creation of an event and its observation"),
			metric.WithUnit("s"),
		)
		if err != nil {
			logging.Log(m.Logger, "unable to create delay histogram: %s", err)
			return
		}

		m.histogram = h
	})

	if m.histogram == nil {
		return
	}

	m.histogram.Record(
		ctx,
		s.Delay.Seconds(),
		telemetry.SubscriptionAttributes(s.Stream, s.Group, ""),
	)
}

func alwaysReplace(Sample) bool {
	return true
}

// write stores s under k if there is no existing sample or replace returns
// true for the existing sample.
func (m *Monitor) write(
	ctx context.Context,
	k string,
	s Sample,
	replace func(prev Sample) bool,
) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	for i := 0; i < maxSaveAttempts; i++ {
		prev, version, ok, err := m.load(ctx, k)
		if err != nil {
			return err
		}

		if ok && !replace(prev) {
			return nil
		}

		err = m.Store.Save(
			ctx,
			k,
			cachestore.Record{
				Version:   version + 1,
				MediaType: mediaType,
				Data:      data,
			},
			version,
			0,
		)
		if !errors.Is(err, cachestore.ErrConflict) {
			return err
		}
	}

	return fmt.Errorf("%s was modified concurrently %d times", k, maxSaveAttempts)
}

// load returns the sample stored under k along with the record's version.
func (m *Monitor) load(ctx context.Context, k string) (Sample, uint64, bool, error) {
	rec, ok, err := m.Store.Load(ctx, k)
	if err != nil || !ok {
		return Sample{}, 0, false, err
	}

	var s Sample
	if err := json.Unmarshal(rec.Data, &s); err != nil {
		// An unreadable sample is overwritten by the next write.
		return Sample{}, rec.Version, false, nil
	}

	return s, rec.Version, true, nil
}
