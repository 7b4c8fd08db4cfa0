package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tomato-kv/tomatokv/internal/encoding"
)

// Segment is a single WAL file: a sequence of varint-length-prefixed
// LogEntry records, fsync'd after every append.
type Segment struct {
	file    *os.File
	path    string
	deleted bool
}

// OpenSegment opens (creating if necessary) the segment file at path.
// O_APPEND is required even though Append never seeks on its own: reopening
// an existing non-empty segment (e.g. the tail segment after WAL replay on
// restart) must resume writing after its current contents, not at offset 0,
// or the first post-restart mutation would overwrite already-durable records.
func OpenSegment(path string) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment %s: %w", path, err)
	}
	return &Segment{file: f, path: path}, nil
}

// Path returns the segment's file path.
func (s *Segment) Path() string {
	return s.path
}

// Deleted reports whether this segment has been truncated away.
func (s *Segment) Deleted() bool {
	return s.deleted
}

// Append writes entry as a new record and fsyncs it before returning. A
// successful return guarantees the entry is durable.
func (s *Segment) Append(entry LogEntry) error {
	if s.deleted {
		return fmt.Errorf("wal: append to deleted segment %s", s.path)
	}

	body := entry.Encode()
	record := encoding.AppendVarint64(nil, uint64(len(body)))
	record = append(record, body...)

	if _, err := s.file.Write(record); err != nil {
		return fmt.Errorf("wal: write record to %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync %s: %w", s.path, err)
	}
	return nil
}

// Delete removes the segment's backing file. Once deleted, a segment is
// skipped by replay and must not be appended to.
func (s *Segment) Delete() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("wal: close %s before delete: %w", s.path, err)
	}
	if err := os.Remove(s.path); err != nil {
		return fmt.Errorf("wal: remove %s: %w", s.path, err)
	}
	s.deleted = true
	return nil
}

// Close closes the segment's file without deleting it.
func (s *Segment) Close() error {
	return s.file.Close()
}

// Iterator replays a segment's records in the order they were appended. A
// truncated tail record (a short read on the length varint or the record
// body) is treated as the end of the log, not an error: it corresponds to
// an append that never completed.
type Iterator struct {
	r   *bufio.Reader
	err error
}

// NewIterator returns an Iterator reading from the start of the segment's
// current on-disk contents.
func (s *Segment) NewIterator() (*Iterator, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s for replay: %w", s.path, err)
	}
	return &Iterator{r: bufio.NewReader(f)}, nil
}

// Next returns the next entry, or io.EOF once the segment is exhausted
// (including when it ends in a partial, uncommitted record).
func (it *Iterator) Next() (LogEntry, error) {
	if it.err != nil {
		return LogEntry{}, it.err
	}

	length, err := readVarint64(it.r)
	if err != nil {
		return LogEntry{}, io.EOF
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(it.r, body); err != nil {
		// Partial tail record: an append that started but never completed
		// (or completed without its fsync landing before a crash).
		return LogEntry{}, io.EOF
	}

	entry, err := DecodeLogEntry(body)
	if err != nil {
		return LogEntry{}, io.EOF
	}
	return entry, nil
}

// readVarint64 reads a varint-encoded uint64 one byte at a time, since the
// record length is not known in advance.
func readVarint64(r *bufio.Reader) (uint64, error) {
	var result uint64
	var shift uint
	for shift < 64 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return result, nil
		}
		shift += 7
	}
	return 0, errors.New("wal: varint overflow")
}
