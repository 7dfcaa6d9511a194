package redisstream

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dogmatiq/vista/eventstream"
)

// Field names used within stream entries.
const (
	fieldID        = "id"
	fieldPosition  = "position"
	fieldEntityID  = "entity_id"
	fieldType      = "type"
	fieldPayload   = "payload"
	fieldCreatedAt = "created_at"
	fieldReason    = "reason"
	fieldGroup     = "group"
	fieldSourceID  = "source_id"
)

// Values returns the stream entry fields that represent ev.
//
// It is the inverse of decodeEntry() and is used by producers and tests that
// append events to a stream.
func Values(ev eventstream.Event) map[string]any {
	v := map[string]any{
		fieldID:        ev.ID,
		fieldEntityID:  ev.EntityID,
		fieldType:      ev.Type,
		fieldPayload:   string(ev.Payload),
		fieldCreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	if ev.Position != 0 {
		v[fieldPosition] = strconv.FormatUint(ev.Position, 10)
	}

	return v
}

// decodeEntry converts a stream entry into an event.
//
// If the entry carries no explicit position, one is derived from the entry ID,
// which Redis guarantees to increase monotonically within a stream.
func decodeEntry(id string, values map[string]any) (eventstream.Event, error) {
	ms, seq, err := parseEntryID(id)
	if err != nil {
		return eventstream.Event{}, err
	}

	ev := eventstream.Event{
		ID:        stringField(values, fieldID),
		EntityID:  stringField(values, fieldEntityID),
		Type:      stringField(values, fieldType),
		Payload:   []byte(stringField(values, fieldPayload)),
		Position:  ms<<20 | seq,
		CreatedAt: time.UnixMilli(int64(ms)),
	}

	if ev.ID == "" {
		ev.ID = id
	}

	if ev.EntityID == "" {
		return eventstream.Event{}, fmt.Errorf("entry %s has no %s field", id, fieldEntityID)
	}

	if s := stringField(values, fieldPosition); s != "" {
		ev.Position, err = strconv.ParseUint(s, 10, 64)
		if err != nil {
			return eventstream.Event{}, fmt.Errorf("entry %s has an invalid %s field: %w", id, fieldPosition, err)
		}
	}

	if s := stringField(values, fieldCreatedAt); s != "" {
		ev.CreatedAt, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return eventstream.Event{}, fmt.Errorf("entry %s has an invalid %s field: %w", id, fieldCreatedAt, err)
		}
	}

	return ev, nil
}

// parseEntryID splits a Redis stream entry ID into its millisecond and
// sequence components.
func parseEntryID(id string) (ms, seq uint64, err error) {
	l, r, ok := strings.Cut(id, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed stream entry ID: %s", id)
	}

	if ms, err = strconv.ParseUint(l, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed stream entry ID: %s", id)
	}

	if seq, err = strconv.ParseUint(r, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed stream entry ID: %s", id)
	}

	return ms, seq, nil
}

// entryIDLess returns true if the entry ID a precedes b within a stream.
// Malformed IDs sort before well-formed ones.
func entryIDLess(a, b string) bool {
	ams, aseq, aerr := parseEntryID(a)
	bms, bseq, berr := parseEntryID(b)

	switch {
	case aerr != nil || berr != nil:
		return aerr != nil && berr == nil
	case ams != bms:
		return ams < bms
	default:
		return aseq < bseq
	}
}

func stringField(values map[string]any, k string) string {
	switch v := values[k].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
