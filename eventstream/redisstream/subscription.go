package redisstream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/vista/eventstream"
	"github.com/redis/go-redis/v9"
)

// subscription is an eventstream.Subscription for a Redis consumer group.
type subscription struct {
	log     *Log
	opts    eventstream.SubscriptionOptions
	timeout time.Duration

	// The remaining fields are only accessed by Next().

	// buffer holds deliveries that are ready to be returned.
	buffer []eventstream.Delivery

	// held holds deliveries, in entry ID order, that have been read from Redis
	// but are held back because an earlier entry for the same entity is
	// pending for another consumer.
	held []eventstream.Delivery

	// foreign maps an entity ID to the lowest ID of its entries that are
	// pending for other consumers in the group.
	foreign map[string]string

	drained       bool
	historyCursor string
	claimCursor   string
	nextClaim     time.Time
	nextRelease   time.Time

	once   sync.Once
	closed chan struct{}
}

// ref identifies a delivery by its stream entry ID.
type ref struct {
	entryID string
}

// Next blocks until the next delivery is available or ctx is canceled.
//
// Entries left pending for this consumer name by an earlier subscription are
// delivered first. After that, entries that have been idle in the group's
// pending list for longer than the ack timeout are reclaimed and redelivered
// before new entries are read.
func (s *subscription) Next(ctx context.Context) (eventstream.Delivery, error) {
	for {
		select {
		case <-ctx.Done():
			return eventstream.Delivery{}, ctx.Err()
		case <-s.closed:
			return eventstream.Delivery{}, eventstream.ErrSubscriptionClosed
		default:
		}

		if len(s.buffer) > 0 {
			d := s.buffer[0]
			s.buffer = s.buffer[1:]
			return d, nil
		}

		var err error

		switch {
		case !s.drained:
			err = s.readHistory(ctx)
		case len(s.held) > 0 && !time.Now().Before(s.nextRelease):
			err = s.release(ctx)
		default:
			err = s.claim(ctx)
			if err == nil && len(s.buffer) == 0 {
				err = s.read(ctx)
			}
		}

		if err != nil {
			return eventstream.Delivery{}, err
		}
	}
}

// readHistory reads the entries that are already pending for this consumer
// name, such as those left behind by a previous run of the same process.
func (s *subscription) readHistory(ctx context.Context) error {
	if s.historyCursor == "" {
		s.historyCursor = "0"

		if err := s.refreshForeign(ctx); err != nil {
			return err
		}
	}

	streams, err := s.log.Client.XReadGroup(
		ctx,
		&redis.XReadGroupArgs{
			Group:    s.opts.Group,
			Consumer: s.opts.Consumer,
			Streams:  []string{s.opts.Stream, s.historyCursor},
			Count:    s.log.batchSize(),
			Block:    -1,
		},
	).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("unable to read pending entries from stream '%s': %w", s.opts.Stream, err)
	}

	var messages []redis.XMessage
	for _, str := range streams {
		messages = append(messages, str.Messages...)
	}

	if len(messages) == 0 {
		s.drained = true
		return nil
	}

	for _, m := range messages {
		s.historyCursor = m.ID

		attempt, err := s.attempt(ctx, m.ID)
		if err != nil {
			return err
		}

		s.enqueue(ctx, m, attempt)
	}

	return nil
}

// claim reclaims entries that have been pending for longer than the ack
// timeout. It runs at most once per half ack timeout.
func (s *subscription) claim(ctx context.Context) error {
	now := time.Now()
	if now.Before(s.nextClaim) {
		return nil
	}

	if s.claimCursor == "" {
		s.claimCursor = "0-0"
	}

	messages, cursor, err := s.log.Client.XAutoClaim(
		ctx,
		&redis.XAutoClaimArgs{
			Stream:   s.opts.Stream,
			Group:    s.opts.Group,
			Consumer: s.opts.Consumer,
			MinIdle:  s.timeout,
			Start:    s.claimCursor,
			Count:    s.log.batchSize(),
		},
	).Result()
	if err != nil {
		return fmt.Errorf("unable to reclaim pending entries: %w", err)
	}

	s.claimCursor = cursor

	// A cursor of "0-0" means the whole pending list has been scanned, so
	// there is no need to look again until more entries could have expired.
	if cursor == "0-0" || len(messages) == 0 {
		s.nextClaim = now.Add(s.timeout / 2)
	}

	if len(messages) == 0 {
		return nil
	}

	if err := s.refreshForeign(ctx); err != nil {
		return err
	}

	for _, m := range messages {
		attempt, err := s.attempt(ctx, m.ID)
		if err != nil {
			return err
		}

		s.enqueue(ctx, m, attempt)
	}

	return s.release(ctx)
}

// attempt returns the number of times the entry with the given ID has been
// delivered to the group.
func (s *subscription) attempt(ctx context.Context, id string) (uint, error) {
	pending, err := s.log.Client.XPendingExt(
		ctx,
		&redis.XPendingExtArgs{
			Stream: s.opts.Stream,
			Group:  s.opts.Group,
			Start:  id,
			End:    id,
			Count:  1,
		},
	).Result()
	if err != nil {
		return 0, fmt.Errorf("unable to query pending entry %s: %w", id, err)
	}

	if len(pending) == 0 || pending[0].RetryCount < 2 {
		return 2, nil
	}

	return uint(pending[0].RetryCount), nil
}

// read reads new entries that have never been delivered to the group.
func (s *subscription) read(ctx context.Context) error {
	block := s.log.pollInterval()
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < block {
			block = d
		}
	}

	if block <= 0 {
		return context.DeadlineExceeded
	}

	streams, err := s.log.Client.XReadGroup(
		ctx,
		&redis.XReadGroupArgs{
			Group:    s.opts.Group,
			Consumer: s.opts.Consumer,
			Streams:  []string{s.opts.Stream, ">"},
			Count:    s.log.batchSize(),
			Block:    block,
		},
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("unable to read from stream '%s': %w", s.opts.Stream, err)
	}

	// Another consumer may have read earlier entries for the same entities
	// since the pending list was last inspected.
	if err := s.refreshForeign(ctx); err != nil {
		return err
	}

	for _, str := range streams {
		for _, m := range str.Messages {
			s.enqueue(ctx, m, 1)
		}
	}

	return nil
}

// refreshForeign rebuilds the map of entities that have entries pending for
// other consumers in the group.
func (s *subscription) refreshForeign(ctx context.Context) error {
	var ids []string
	start := "-"

	for {
		pending, err := s.log.Client.XPendingExt(
			ctx,
			&redis.XPendingExtArgs{
				Stream: s.opts.Stream,
				Group:  s.opts.Group,
				Start:  start,
				End:    "+",
				Count:  s.log.batchSize(),
			},
		).Result()
		if err != nil {
			return fmt.Errorf("unable to query pending entries: %w", err)
		}

		for _, p := range pending {
			if p.Consumer != s.opts.Consumer {
				ids = append(ids, p.ID)
			}
		}

		if int64(len(pending)) < s.log.batchSize() {
			break
		}

		start = "(" + pending[len(pending)-1].ID
	}

	s.foreign = map[string]string{}

	if len(ids) == 0 {
		return nil
	}

	pipe := s.log.Client.Pipeline()
	cmds := make([]*redis.XMessageSliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.XRange(ctx, s.opts.Stream, id, id)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unable to read pending entries: %w", err)
	}

	// ids is in ascending order, so the first entry seen for each entity is
	// its lowest.
	for i, cmd := range cmds {
		for _, m := range cmd.Val() {
			entity := stringField(m.Values, fieldEntityID)
			if _, ok := s.foreign[entity]; !ok && entity != "" {
				s.foreign[entity] = ids[i]
			}
		}
	}

	return nil
}

// release moves held deliveries that are no longer blocked to the buffer.
//
// The entries that remain held are claimed again so that their idle time does
// not reach the ack timeout while they wait.
func (s *subscription) release(ctx context.Context) error {
	s.nextRelease = time.Now().Add(s.log.pollInterval())

	if err := s.refreshForeign(ctx); err != nil {
		return err
	}

	held := s.held
	s.held = nil

	for _, d := range held {
		if s.heldBack(d) {
			s.held = append(s.held, d)
		} else {
			s.buffer = append(s.buffer, d)
		}
	}

	if len(s.held) == 0 {
		return nil
	}

	ids := make([]string, len(s.held))
	for i, d := range s.held {
		ids[i] = d.Ref.(ref).entryID
	}

	if err := s.log.Client.XClaimJustID(
		ctx,
		&redis.XClaimArgs{
			Stream:   s.opts.Stream,
			Group:    s.opts.Group,
			Consumer: s.opts.Consumer,
			Messages: ids,
		},
	).Err(); err != nil {
		return fmt.Errorf("unable to retain held entries: %w", err)
	}

	return nil
}

// heldBack returns true if d must wait for an earlier entry for the same
// entity, either one pending for another consumer or one that is itself held.
func (s *subscription) heldBack(d eventstream.Delivery) bool {
	id := d.Ref.(ref).entryID

	if f, ok := s.foreign[d.Event.EntityID]; ok && entryIDLess(f, id) {
		return true
	}

	for _, h := range s.held {
		if h.Event.EntityID == d.Event.EntityID && entryIDLess(h.Ref.(ref).entryID, id) {
			return true
		}
	}

	return false
}

// enqueue decodes m and adds it to either the buffer or the held list.
// Entries that can not be decoded are parked immediately, as no handler could
// ever process them.
func (s *subscription) enqueue(
	ctx context.Context,
	m redis.XMessage,
	attempt uint,
) {
	ev, err := decodeEntry(m.ID, m.Values)
	if err != nil {
		logging.Log(
			s.log.Logger,
			"parking malformed entry %s on stream '%s': %s",
			m.ID,
			s.opts.Stream,
			err,
		)

		if perr := s.park(ctx, m.ID, m.Values, err); perr != nil {
			logging.Log(
				s.log.Logger,
				"unable to park malformed entry %s: %s",
				m.ID,
				perr,
			)
		}

		return
	}

	d := eventstream.Delivery{
		Event:   ev,
		Attempt: attempt,
		Ref:     ref{m.ID},
	}

	for _, h := range s.held {
		if h.Ref.(ref).entryID == m.ID {
			return
		}
	}

	if !s.heldBack(d) {
		s.buffer = append(s.buffer, d)
		return
	}

	i := sort.Search(len(s.held), func(i int) bool {
		return entryIDLess(m.ID, s.held[i].Ref.(ref).entryID)
	})

	if len(s.held) == 0 {
		s.nextRelease = time.Now().Add(s.log.pollInterval())
	}

	s.held = slices.Insert(s.held, i, d)
}

// Ack acknowledges a delivery.
func (s *subscription) Ack(ctx context.Context, d eventstream.Delivery) error {
	r := d.Ref.(ref)

	if err := s.log.Client.XAck(ctx, s.opts.Stream, s.opts.Group, r.entryID).Err(); err != nil {
		return fmt.Errorf("unable to acknowledge entry %s: %w", r.entryID, err)
	}

	return nil
}

// Park appends the delivery to the parked stream and acknowledges it within a
// single transaction.
func (s *subscription) Park(ctx context.Context, d eventstream.Delivery, cause error) error {
	r := d.Ref.(ref)
	return s.park(ctx, r.entryID, Values(d.Event), cause)
}

func (s *subscription) park(
	ctx context.Context,
	id string,
	values map[string]any,
	cause error,
) error {
	parked := make(map[string]any, len(values)+3)
	for k, v := range values {
		parked[k] = v
	}

	parked[fieldReason] = cause.Error()
	parked[fieldGroup] = s.opts.Group
	parked[fieldSourceID] = id

	tx := s.log.Client.TxPipeline()
	tx.XAdd(ctx, &redis.XAddArgs{
		Stream: eventstream.ParkedStreamName(s.opts.Stream),
		Values: parked,
	})
	tx.XAck(ctx, s.opts.Stream, s.opts.Group, id)

	if _, err := tx.Exec(ctx); err != nil {
		return fmt.Errorf("unable to park entry %s: %w", id, err)
	}

	return nil
}

// Close stops the subscription. Entries read but not yet acknowledged remain
// in the group's pending list. They are reclaimed after the ack timeout, or
// immediately by a subscription that joins under the same consumer name.
func (s *subscription) Close() error {
	err := eventstream.ErrSubscriptionClosed

	s.once.Do(func() {
		err = nil
		close(s.closed)
	})

	return err
}
