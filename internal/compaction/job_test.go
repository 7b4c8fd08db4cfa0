package compaction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tomato-kv/tomatokv/internal/record"
	"github.com/tomato-kv/tomatokv/internal/table"
)

// fakeReader wraps a table.Reader opened from a temp file, for use as a
// compaction.Reader in tests.
type fakeReader struct {
	fileName string
	reader   *table.Reader
	f        *os.File
}

func (f *fakeReader) MinKey() []byte               { return f.reader.MinKey() }
func (f *fakeReader) MaxKey() []byte               { return f.reader.MaxKey() }
func (f *fakeReader) FileName() string             { return f.fileName }
func (f *fakeReader) NewIterator() *table.Iterator { return f.reader.NewIterator() }

type kv struct {
	key     string
	value   []byte
	deleted bool
}

func buildSSTable(t *testing.T, dir, fileName string, entries []kv) *fakeReader {
	t.Helper()
	path := filepath.Join(dir, fileName)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	b := table.NewBuilder(f, table.DefaultBuilderOptions())
	for _, e := range entries {
		raw := record.Encode(e.value, e.deleted)
		if err := b.Add([]byte(e.key), raw); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	f.Close()

	rf, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	stat, _ := rf.Stat()
	r, err := table.Open(&sizedFile{rf, stat.Size()}, table.ReaderOptions{VerifyChecksums: true})
	if err != nil {
		t.Fatalf("table.Open: %v", err)
	}
	return &fakeReader{fileName: fileName, reader: r, f: rf}
}

type sizedFile struct {
	*os.File
	size int64
}

func (s *sizedFile) Size() int64 { return s.size }

type fakePublisher struct {
	calls []publishCall
}

type publishCall struct {
	inputLevel, outputLevel int
	obsolete                map[string]bool
	newFiles                []string
}

func (p *fakePublisher) ApplyCompaction(inputLevel, outputLevel int, obsoleteNames map[string]bool, newFiles []string) error {
	p.calls = append(p.calls, publishCall{inputLevel, outputLevel, obsoleteNames, newFiles})
	return nil
}

func readAll(t *testing.T, dir, fileName string) map[string]kv {
	t.Helper()
	path := filepath.Join(dir, fileName)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", fileName, err)
	}
	defer f.Close()
	stat, _ := f.Stat()
	r, err := table.Open(&sizedFile{f, stat.Size()}, table.ReaderOptions{VerifyChecksums: true})
	if err != nil {
		t.Fatalf("table.Open %s: %v", fileName, err)
	}

	got := map[string]kv{}
	it := r.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		v, deleted := record.Decode(it.Value())
		got[string(it.Key())] = kv{key: string(it.Key()), value: append([]byte(nil), v...), deleted: deleted}
	}
	if it.Error() != nil {
		t.Fatalf("iterate %s: %v", fileName, it.Error())
	}
	return got
}

func TestJobMergesNewestWins(t *testing.T) {
	dir := t.TempDir()
	older := buildSSTable(t, dir, "000001.sst", []kv{{key: "a", value: []byte("old")}, {key: "b", value: []byte("keep")}})
	newer := buildSSTable(t, dir, "000002.sst", []kv{{key: "a", value: []byte("new")}})

	pub := &fakePublisher{}
	nextNum := uint64(3)
	job := NewJob(dir, func() uint64 { n := nextNum; nextNum++; return n }, table.DefaultBuilderOptions(), pub)

	if err := job.Run(0, []Reader{newer, older}, nil, 5); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(pub.calls) != 1 {
		t.Fatalf("got %d publish calls, want 1", len(pub.calls))
	}
	call := pub.calls[0]
	if len(call.newFiles) != 1 {
		t.Fatalf("newFiles = %v, want 1 file", call.newFiles)
	}

	got := readAll(t, dir, call.newFiles[0])
	if string(got["a"].value) != "new" {
		t.Fatalf("a = %q, want new", got["a"].value)
	}
	if string(got["b"].value) != "keep" {
		t.Fatalf("b = %q, want keep", got["b"].value)
	}
}

func TestJobDropsTombstonesAtBottommostLevel(t *testing.T) {
	dir := t.TempDir()
	older := buildSSTable(t, dir, "000001.sst", []kv{{key: "x", value: []byte("old")}})
	newer := buildSSTable(t, dir, "000002.sst", []kv{{key: "x", deleted: true}})

	pub := &fakePublisher{}
	nextNum := uint64(3)
	job := NewJob(dir, func() uint64 { n := nextNum; nextNum++; return n }, table.DefaultBuilderOptions(), pub)

	// outputLevel (1) == maxLevel (1): tombstone for x has nothing left to
	// shadow, so the merge should drop it along with the stale value.
	if err := job.Run(0, []Reader{newer, older}, nil, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(pub.calls[0].newFiles) != 0 {
		t.Fatalf("expected no output file once the only key is dropped, got %v", pub.calls[0].newFiles)
	}
}

func TestJobKeepsTombstoneWhenNotBottommost(t *testing.T) {
	dir := t.TempDir()
	newer := buildSSTable(t, dir, "000001.sst", []kv{{key: "x", deleted: true}})

	pub := &fakePublisher{}
	nextNum := uint64(2)
	job := NewJob(dir, func() uint64 { n := nextNum; nextNum++; return n }, table.DefaultBuilderOptions(), pub)

	// outputLevel (1) != maxLevel (5): an older level below L1 might still
	// hold a stale value for x, so the tombstone must survive.
	if err := job.Run(0, []Reader{newer}, nil, 5); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := readAll(t, dir, pub.calls[0].newFiles[0])
	if !got["x"].deleted {
		t.Fatal("tombstone for x should have survived the compaction")
	}
}
