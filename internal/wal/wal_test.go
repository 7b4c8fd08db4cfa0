package wal

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLogEntryRoundTrip(t *testing.T) {
	cases := []LogEntry{
		{Key: []byte("a"), Value: []byte("hello")},
		{Key: []byte("b"), Deleted: true},
		{Key: []byte(""), Value: []byte("")},
	}
	for _, e := range cases {
		got, err := DecodeLogEntry(e.Encode())
		if err != nil {
			t.Fatalf("DecodeLogEntry: %v", err)
		}
		if string(got.Key) != string(e.Key) || got.Deleted != e.Deleted || string(got.Value) != string(e.Value) {
			t.Fatalf("round trip = %+v, want %+v", got, e)
		}
	}
}

func TestSegmentAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	seg, err := OpenSegment(filepath.Join(dir, "000000.wal"))
	if err != nil {
		t.Fatalf("OpenSegment: %v", err)
	}

	entries := []LogEntry{
		{Key: []byte("a"), Value: []byte("abcasldkfjaoiwejfawoejfoaisjdflaskdjfoias")},
		{Key: []byte("b"), Value: []byte("bbcasdlfjasldfj")},
		{Key: []byte("c"), Deleted: true},
	}
	for _, e := range entries {
		if err := seg.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	seg.Close()

	seg2, err := OpenSegment(filepath.Join(dir, "000000.wal"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	it, err := seg2.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	for _, want := range entries {
		got, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if string(got.Key) != string(want.Key) || got.Deleted != want.Deleted || string(got.Value) != string(want.Value) {
			t.Fatalf("entry = %+v, want %+v", got, want)
		}
	}
	if _, err := it.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestSegmentPartialTailRecordDropped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000000.wal")
	seg, err := OpenSegment(path)
	if err != nil {
		t.Fatalf("OpenSegment: %v", err)
	}
	if err := seg.Append(LogEntry{Key: []byte("a"), Value: []byte("1")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := seg.Append(LogEntry{Key: []byte("b"), Value: []byte("2")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	seg.Close()

	// Simulate a crash mid-append: truncate off the tail of the second
	// record's bytes, leaving a length prefix whose body never arrived.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-1); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	seg2, err := OpenSegment(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	it, err := seg2.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}

	first, err := it.Next()
	if err != nil {
		t.Fatalf("Next (first entry): %v", err)
	}
	if string(first.Key) != "a" {
		t.Fatalf("first entry key = %q, want a", first.Key)
	}

	if _, err := it.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF dropping the partial tail record, got %v", err)
	}
}

func TestWALAppendAndRecover(t *testing.T) {
	dir := t.TempDir()

	entries := []LogEntry{
		{Key: []byte("a"), Value: []byte("abcasldkfjaoiwejfawoejfoaisjdflaskdjfoias")},
		{Key: []byte("b"), Value: []byte("bbcasdlfjasldfj")},
		{Key: []byte("c"), Value: []byte("cbcasldfjowiejfoaisdjfalskdfj")},
	}

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, e := range entries {
		if err := w.NewSegment(); err != nil {
			t.Fatalf("NewSegment: %v", err)
		}
		if err := w.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	w.Close()

	w2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	assertReplay(t, w2, entries)

	if err := w2.Truncate(1); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	assertReplay(t, w2, entries[1:])

	w3, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen after truncate: %v", err)
	}
	assertReplay(t, w3, entries[1:])
}

func assertReplay(t *testing.T, w *WAL, want []LogEntry) {
	t.Helper()
	it := w.NewReplayIterator()
	for _, wantEntry := range want {
		got, err := it.Next()
		if err != nil {
			t.Fatalf("replay Next: %v", err)
		}
		if string(got.Key) != string(wantEntry.Key) || string(got.Value) != string(wantEntry.Value) {
			t.Fatalf("replay entry = %+v, want %+v", got, wantEntry)
		}
	}
	if _, err := it.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after replaying all entries, got %v", err)
	}
}
