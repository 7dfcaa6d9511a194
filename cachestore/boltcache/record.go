package boltcache

import (
	"fmt"
	"time"

	"github.com/dogmatiq/vista/cachestore"
	"google.golang.org/protobuf/encoding/protowire"
)

// Records are stored in the protocol buffers wire format using the following
// field numbers. Fields with zero values may be omitted. Unknown fields are
// ignored when decoding.
const (
	versionField   protowire.Number = 1 // uint64
	expiresField   protowire.Number = 2 // int64, unix nanoseconds
	mediaTypeField protowire.Number = 3 // string
	dataField      protowire.Number = 4 // bytes
)

// marshal encodes r, which expires at the given time, or never if expires is
// the zero time.
func marshal(r cachestore.Record, expires time.Time) []byte {
	var buf []byte

	if r.Version != 0 {
		buf = protowire.AppendTag(buf, versionField, protowire.VarintType)
		buf = protowire.AppendVarint(buf, r.Version)
	}

	if !expires.IsZero() {
		buf = protowire.AppendTag(buf, expiresField, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(expires.UnixNano()))
	}

	if r.MediaType != "" {
		buf = protowire.AppendTag(buf, mediaTypeField, protowire.BytesType)
		buf = protowire.AppendString(buf, r.MediaType)
	}

	if len(r.Data) != 0 {
		buf = protowire.AppendTag(buf, dataField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, r.Data)
	}

	return buf
}

// unmarshal decodes a record produced by marshal.
func unmarshal(data []byte) (r cachestore.Record, expires time.Time, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return cachestore.Record{}, time.Time{}, decodeError(n)
		}
		data = data[n:]

		switch {
		case num == versionField && typ == protowire.VarintType:
			r.Version, n = protowire.ConsumeVarint(data)

		case num == expiresField && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			expires = time.Unix(0, int64(v))

		case num == mediaTypeField && typ == protowire.BytesType:
			r.MediaType, n = protowire.ConsumeString(data)

		case num == dataField && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(data)
			// bbolt values are only valid for the life of the transaction.
			r.Data = append([]byte(nil), v...)

		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}

		if n < 0 {
			return cachestore.Record{}, time.Time{}, decodeError(n)
		}
		data = data[n:]
	}

	return r, expires, nil
}

func decodeError(n int) error {
	return fmt.Errorf("unable to decode record: %w", protowire.ParseError(n))
}
