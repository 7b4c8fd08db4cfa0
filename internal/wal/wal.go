package wal

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// segmentFileName formats a WAL segment's file name from its monotonic file
// number: a zero-padded, lexicographically-sortable "NNNNNN.wal".
func segmentFileName(fileNum uint64) string {
	return fmt.Sprintf("%06d.wal", fileNum)
}

// WAL manages the sequence of segment files in a working directory,
// presenting them as a single append-only, truncatable log.
type WAL struct {
	dir         string
	segments    []*Segment
	nextFileNum uint64
}

// Open enumerates *.wal files already present in dir (sorted
// lexicographically, which matches creation order since file numbers are
// zero-padded) and returns a WAL ready to append to or replay.
func Open(dir string) (*WAL, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.wal"))
	if err != nil {
		return nil, fmt.Errorf("wal: glob %s: %w", dir, err)
	}
	sort.Strings(matches)

	w := &WAL{dir: dir}
	for _, path := range matches {
		seg, err := OpenSegment(path)
		if err != nil {
			return nil, err
		}
		w.segments = append(w.segments, seg)

		base := strings.TrimSuffix(filepath.Base(path), ".wal")
		if n, err := strconv.ParseUint(base, 10, 64); err == nil && n+1 > w.nextFileNum {
			w.nextFileNum = n + 1
		}
	}

	return w, nil
}

// SegmentCount returns the number of live (non-deleted) segments.
func (w *WAL) SegmentCount() int {
	live := 0
	for _, seg := range w.segments {
		if !seg.Deleted() {
			live++
		}
	}
	return live
}

// NewSegment rotates to a fresh, empty segment file, which becomes the
// target of subsequent Append calls.
func (w *WAL) NewSegment() error {
	path := filepath.Join(w.dir, segmentFileName(w.nextFileNum))
	w.nextFileNum++

	seg, err := OpenSegment(path)
	if err != nil {
		return err
	}
	w.segments = append(w.segments, seg)
	return nil
}

// Append durably records entry in the current (most recently created)
// segment, creating the first segment if none exists yet.
func (w *WAL) Append(entry LogEntry) error {
	if len(w.segments) == 0 {
		if err := w.NewSegment(); err != nil {
			return err
		}
	}
	return w.segments[len(w.segments)-1].Append(entry)
}

// Truncate deletes the oldest n non-deleted segments and unlinks their
// backing files. Callers must only truncate segments whose memtable
// contents have already been durably flushed to an SSTable referenced by a
// fsynced manifest update.
func (w *WAL) Truncate(n int) error {
	truncated := 0
	for _, seg := range w.segments {
		if truncated >= n {
			break
		}
		if seg.Deleted() {
			continue
		}
		if err := seg.Delete(); err != nil {
			return err
		}
		truncated++
	}
	return nil
}

// ReplayIterator yields every LogEntry across all non-deleted segments, in
// commit order, for reconstructing memtable state after a restart.
type ReplayIterator struct {
	segments []*Segment
	index    int
	cur      *Iterator
}

// NewReplayIterator returns a ReplayIterator over w's current segments.
func (w *WAL) NewReplayIterator() *ReplayIterator {
	live := make([]*Segment, 0, len(w.segments))
	for _, seg := range w.segments {
		if !seg.Deleted() {
			live = append(live, seg)
		}
	}
	return &ReplayIterator{segments: live}
}

// Next returns the next entry in commit order, or io.EOF once every segment
// has been exhausted.
func (it *ReplayIterator) Next() (LogEntry, error) {
	for {
		if it.cur == nil {
			if it.index >= len(it.segments) {
				return LogEntry{}, io.EOF
			}
			iter, err := it.segments[it.index].NewIterator()
			if err != nil {
				return LogEntry{}, err
			}
			it.cur = iter
		}

		entry, err := it.cur.Next()
		if err == io.EOF {
			it.cur = nil
			it.index++
			continue
		}
		if err != nil {
			return LogEntry{}, err
		}
		return entry, nil
	}
}

// Close closes every open segment file without deleting any of them.
func (w *WAL) Close() error {
	var firstErr error
	for _, seg := range w.segments {
		if seg.Deleted() {
			continue
		}
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
