// Package wal implements the write-ahead log: an append-only, fsync'd
// record of mutations that lets a memtable's contents be reconstructed
// after a crash, before they have been durably flushed to an SSTable.
//
// A segment file is a sequence of records: record_len(varint) followed by
// record_bytes, the serialized LogEntry. Each append writes one record and
// fsyncs it before returning, so a successful append is durable.
package wal

import (
	"fmt"

	"github.com/tomato-kv/tomatokv/internal/encoding"
)

// LogEntry is a single mutation: a key paired with either a value (a set)
// or no value (a delete tombstone).
type LogEntry struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// Encode serializes e as [key: length-prefixed][deleted: 1 byte][value:
// length-prefixed, only present if !deleted].
func (e LogEntry) Encode() []byte {
	size := encoding.VarintLength(uint64(len(e.Key))) + len(e.Key) + 1
	if !e.Deleted {
		size += encoding.VarintLength(uint64(len(e.Value))) + len(e.Value)
	}

	buf := make([]byte, 0, size)
	buf = encoding.AppendLengthPrefixedSlice(buf, e.Key)
	if e.Deleted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
		buf = encoding.AppendLengthPrefixedSlice(buf, e.Value)
	}
	return buf
}

// DecodeLogEntry parses a LogEntry from its Encode representation.
func DecodeLogEntry(data []byte) (LogEntry, error) {
	s := encoding.NewSlice(data)

	key, ok := s.GetLengthPrefixedSlice()
	if !ok {
		return LogEntry{}, fmt.Errorf("wal: truncated log entry (key)")
	}

	deletedByte, ok := s.GetBytes(1)
	if !ok {
		return LogEntry{}, fmt.Errorf("wal: truncated log entry (deleted flag)")
	}
	if deletedByte[0] != 0 {
		return LogEntry{Key: key, Deleted: true}, nil
	}

	value, ok := s.GetLengthPrefixedSlice()
	if !ok {
		return LogEntry{}, fmt.Errorf("wal: truncated log entry (value)")
	}
	return LogEntry{Key: key, Value: value}, nil
}
