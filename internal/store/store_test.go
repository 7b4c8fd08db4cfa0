package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tomato-kv/tomatokv/internal/logging"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(opts, logging.Discard)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func testOptions(dir string) Options {
	opts := DefaultOptions(dir)
	opts.MemTableMaxSize = 1 << 20
	return opts
}

func TestSetGet(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, testOptions(dir))

	if err := s.Set([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, found, err := s.Get([]byte("k"))
	if err != nil || !found || string(v) != "v1" {
		t.Fatalf("Get = (%q, %v, %v), want (v1, true, nil)", v, found, err)
	}

	if err := s.Set([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, found, err = s.Get([]byte("k"))
	if err != nil || !found || string(v) != "v2" {
		t.Fatalf("Get after overwrite = (%q, %v, %v), want (v2, true, nil)", v, found, err)
	}
}

func TestGetMissing(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, testOptions(dir))

	if _, found, err := s.Get([]byte("missing")); err != nil || found {
		t.Fatalf("Get(missing) = (found=%v, err=%v), want not found", found, err)
	}
}

func TestAddOnlyStoresWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, testOptions(dir))

	stored, err := s.Add([]byte("k"), []byte("v1"))
	if err != nil || !stored {
		t.Fatalf("Add on absent key = (%v, %v), want (true, nil)", stored, err)
	}

	stored, err = s.Add([]byte("k"), []byte("v2"))
	if err != nil || stored {
		t.Fatalf("Add on existing key = (%v, %v), want (false, nil)", stored, err)
	}
	v, _, _ := s.Get([]byte("k"))
	if string(v) != "v1" {
		t.Fatalf("value after rejected Add = %q, want v1 (unchanged)", v)
	}
}

func TestReplaceOnlyStoresWhenPresent(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, testOptions(dir))

	stored, err := s.Replace([]byte("k"), []byte("v1"))
	if err != nil || stored {
		t.Fatalf("Replace on absent key = (%v, %v), want (false, nil)", stored, err)
	}

	if _, err := s.Add([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	stored, err = s.Replace([]byte("k"), []byte("v2"))
	if err != nil || !stored {
		t.Fatalf("Replace on existing key = (%v, %v), want (true, nil)", stored, err)
	}
	v, _, _ := s.Get([]byte("k"))
	if string(v) != "v2" {
		t.Fatalf("value after Replace = %q, want v2", v)
	}
}

func TestAppendPrepend(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, testOptions(dir))

	if stored, err := s.Append([]byte("k"), []byte("x")); err != nil || stored {
		t.Fatalf("Append on absent key = (%v, %v), want (false, nil)", stored, err)
	}

	if err := s.Set([]byte("k"), []byte("mid")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if stored, err := s.Append([]byte("k"), []byte("-suffix")); err != nil || !stored {
		t.Fatalf("Append = (%v, %v), want (true, nil)", stored, err)
	}
	if stored, err := s.Prepend([]byte("k"), []byte("prefix-")); err != nil || !stored {
		t.Fatalf("Prepend = (%v, %v), want (true, nil)", stored, err)
	}

	v, found, err := s.Get([]byte("k"))
	if err != nil || !found || string(v) != "prefix-mid-suffix" {
		t.Fatalf("Get = (%q, %v, %v), want (prefix-mid-suffix, true, nil)", v, found, err)
	}
}

func TestDeleteOnlyWhenPresent(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, testOptions(dir))

	if deleted, err := s.Delete([]byte("k")); err != nil || deleted {
		t.Fatalf("Delete on absent key = (%v, %v), want (false, nil)", deleted, err)
	}

	if err := s.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if deleted, err := s.Delete([]byte("k")); err != nil || !deleted {
		t.Fatalf("Delete on existing key = (%v, %v), want (true, nil)", deleted, err)
	}
	if _, found, err := s.Get([]byte("k")); err != nil || found {
		t.Fatalf("Get after delete = (found=%v, err=%v), want not found", found, err)
	}
}

func TestFlushOnFullKeepsDataReadable(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	opts.MemTableMaxSize = 256 // tiny, to force a seal after a few writes
	s := openTestStore(t, opts)

	for i := 0; i < 64; i++ {
		key := []byte{'k', byte(i)}
		if err := s.Set(key, []byte("some-reasonably-sized-value")); err != nil {
			t.Fatalf("Set %d: %v", i, err)
		}
	}

	// The values written above must still all be readable, regardless of
	// whether they now live in the active memtable, a sealed memtable
	// awaiting flush, or an SSTable the background worker already flushed.
	for i := 0; i < 64; i++ {
		key := []byte{'k', byte(i)}
		if _, found, err := s.Get(key); err != nil || !found {
			t.Fatalf("Get %d = (found=%v, err=%v), want found", i, found, err)
		}
	}
}

func TestCloseAndReopenKeepsWrites(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)

	s, err := Open(opts, logging.Discard)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Close flushes the memtable to an SSTable, so recovery here exercises
	// the catalog path rather than the WAL replay path. Re-open again to
	// confirm durability across a restart either way.
	s2, err := Open(opts, logging.Discard)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if _, found, _ := s2.Get([]byte("a")); found {
		t.Fatal("Get(a) after restart should reflect the delete")
	}
	v, found, err := s2.Get([]byte("b"))
	if err != nil || !found || string(v) != "2" {
		t.Fatalf("Get(b) after restart = (%q, %v, %v), want (2, true, nil)", v, found, err)
	}
}

func TestWALReplayWithoutFlush(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)

	w, err := Open(opts, logging.Discard)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Set([]byte("x"), []byte("y")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	w.bg.Stop() // stop background workers without flushing, mimicking a crash
	if err := w.wal.Close(); err != nil {
		t.Fatalf("wal close: %v", err)
	}
	w.cache.Close()

	s2, err := Open(opts, logging.Discard)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	v, found, err := s2.Get([]byte("x"))
	if err != nil || !found || string(v) != "y" {
		t.Fatalf("Get(x) after crash-recovery reopen = (%q, %v, %v), want (y, true, nil)", v, found, err)
	}
}

func TestNextSSTableFileNumSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	n, err := nextSSTableFileNum(dir)
	if err != nil || n != 0 {
		t.Fatalf("nextSSTableFileNum(empty) = (%d, %v), want (0, nil)", n, err)
	}

	// Simulate a prior run having written 000005.sst.
	path := filepath.Join(dir, "000005.sst")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	n, err = nextSSTableFileNum(dir)
	if err != nil || n != 6 {
		t.Fatalf("nextSSTableFileNum = (%d, %v), want (6, nil)", n, err)
	}
}
