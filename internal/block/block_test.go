package block

import (
	"bytes"
	"testing"
)

func buildBlock(t *testing.T, restartInterval int, kvs [][2]string) []byte {
	t.Helper()
	b := NewBuilder(restartInterval)
	for _, kv := range kvs {
		b.Add([]byte(kv[0]), []byte(kv[1]))
	}
	return b.Finish()
}

func TestBlockIterateForward(t *testing.T) {
	kvs := [][2]string{
		{"apple", "1"}, {"apricot", "2"}, {"banana", "3"},
		{"cherry", "4"}, {"date", "5"}, {"fig", "6"},
	}
	data := buildBlock(t, 2, kvs)

	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}

	it := blk.NewIterator()
	it.SeekToFirst()
	var got [][2]string
	for it.Valid() {
		got = append(got, [2]string{string(it.Key()), string(it.Value())})
		it.Next()
	}
	if it.Error() != nil {
		t.Fatalf("iteration error: %v", it.Error())
	}
	if len(got) != len(kvs) {
		t.Fatalf("got %d entries, want %d", len(got), len(kvs))
	}
	for i, kv := range kvs {
		if got[i] != kv {
			t.Errorf("entry %d = %v, want %v", i, got[i], kv)
		}
	}
}

func TestBlockIterateBackward(t *testing.T) {
	kvs := [][2]string{
		{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}, {"e", "5"},
	}
	data := buildBlock(t, 2, kvs)
	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}

	it := blk.NewIterator()
	it.SeekToLast()
	i := len(kvs) - 1
	for it.Valid() {
		if string(it.Key()) != kvs[i][0] || string(it.Value()) != kvs[i][1] {
			t.Fatalf("entry %d = (%s,%s), want %v", i, it.Key(), it.Value(), kvs[i])
		}
		it.Prev()
		i--
	}
	if i != -1 {
		t.Fatalf("stopped early at index %d", i)
	}
}

func TestBlockSeek(t *testing.T) {
	kvs := [][2]string{
		{"apple", "1"}, {"banana", "2"}, {"cherry", "3"}, {"date", "4"},
	}
	data := buildBlock(t, 1, kvs)
	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}

	it := blk.NewIterator()
	it.Seek([]byte("banana"))
	if !it.Valid() || string(it.Key()) != "banana" {
		t.Fatalf("Seek(banana) = %q, want banana", it.Key())
	}

	it.Seek([]byte("bz"))
	if !it.Valid() || string(it.Key()) != "cherry" {
		t.Fatalf("Seek(bz) = %q, want cherry", it.Key())
	}

	it.Seek([]byte("zzz"))
	if it.Valid() {
		t.Fatalf("Seek(zzz) should be invalid, got %q", it.Key())
	}
}

func TestFooterRoundTrip(t *testing.T) {
	f := Footer{IndexHandle: Handle{Offset: 12345, Size: 678}}
	enc := f.EncodeTo(nil)
	if len(enc) != FooterSize {
		t.Fatalf("encoded footer len = %d, want %d", len(enc), FooterSize)
	}

	got, err := DecodeFooter(enc)
	if err != nil {
		t.Fatalf("DecodeFooter: %v", err)
	}
	if got.IndexHandle != f.IndexHandle {
		t.Fatalf("DecodeFooter = %+v, want %+v", got, f)
	}
}

func TestFooterBadMagic(t *testing.T) {
	enc := make([]byte, FooterSize)
	if _, err := DecodeFooter(enc); err == nil {
		t.Fatal("expected error for zeroed footer")
	}
}

func TestHandleRoundTrip(t *testing.T) {
	h := Handle{Offset: 999999, Size: 42}
	enc := h.EncodeTo(nil)
	got, rest, err := DecodeHandle(enc)
	if err != nil {
		t.Fatalf("DecodeHandle: %v", err)
	}
	if got != h {
		t.Fatalf("DecodeHandle = %+v, want %+v", got, h)
	}
	if len(rest) != 0 {
		t.Fatalf("leftover bytes: %d", len(rest))
	}
}

func TestBlockBadData(t *testing.T) {
	if _, err := NewBlock([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for too-short block")
	}
	if !bytes.Equal(nil, nil) {
		t.Fatal("sanity")
	}
}
