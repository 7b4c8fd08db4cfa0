// Package record defines the on-disk encoding of a logical value (a live
// payload, or a tombstone) as the opaque value bytes an SSTable entry
// stores. The block and table layers never interpret a value's contents;
// only the memtable flush path (encode) and the catalog/store read paths
// (decode) need to agree on this format.
package record

// liveMarker and tombstoneMarker are the leading byte of an encoded value.
const (
	tombstoneMarker byte = 0
	liveMarker      byte = 1
)

// Encode returns the SSTable value bytes for a live value or a tombstone.
// deleted implies value is ignored.
func Encode(value []byte, deleted bool) []byte {
	if deleted {
		return []byte{tombstoneMarker}
	}
	buf := make([]byte, 1+len(value))
	buf[0] = liveMarker
	copy(buf[1:], value)
	return buf
}

// Decode splits a stored SSTable value back into its payload and whether it
// represents a tombstone.
func Decode(raw []byte) (value []byte, deleted bool) {
	if len(raw) == 0 || raw[0] == tombstoneMarker {
		return nil, true
	}
	return raw[1:], false
}
