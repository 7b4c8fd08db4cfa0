package proto

import (
	"errors"

	"github.com/tomato-kv/tomatokv/internal/encoding"
)

// ErrMalformedValueRecord indicates a stored value's flags/ttl header could
// not be decoded; this should never happen for a value this package wrote
// itself, so its appearance indicates on-disk corruption.
var ErrMalformedValueRecord = errors.New("proto: malformed value record")

// EncodeValueRecord packs a client's flags/ttl/payload into the opaque byte
// string handed to the storage core as a value. The core never interprets
// these bytes; only EncodeValueRecord/DecodeValueRecord need agree on the
// format, so a get can hand flags and ttl back to the client unchanged.
//
// Format: varint32 flags | varint32 ttl | payload.
func EncodeValueRecord(flags, ttl uint32, payload []byte) []byte {
	buf := make([]byte, 0, encoding.MaxVarint32Length*2+len(payload))
	buf = encoding.AppendVarint32(buf, flags)
	buf = encoding.AppendVarint32(buf, ttl)
	buf = append(buf, payload...)
	return buf
}

// DecodeValueRecord is EncodeValueRecord's inverse.
func DecodeValueRecord(raw []byte) (flags, ttl uint32, payload []byte, err error) {
	s := encoding.NewSlice(raw)
	flags, ok := s.GetVarint32()
	if !ok {
		return 0, 0, nil, ErrMalformedValueRecord
	}
	ttl, ok = s.GetVarint32()
	if !ok {
		return 0, 0, nil, ErrMalformedValueRecord
	}
	return flags, ttl, s.Data(), nil
}
