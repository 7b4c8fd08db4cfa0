package memtable

import "testing"

func TestInsertAndGet(t *testing.T) {
	mt := New(0)
	mt.Insert([]byte("apple"), []byte("red"))
	mt.Insert([]byte("banana"), []byte("yellow"))

	v, found, deleted := mt.Get([]byte("apple"))
	if !found || deleted {
		t.Fatalf("Get(apple): found=%v deleted=%v", found, deleted)
	}
	if string(v) != "red" {
		t.Fatalf("Get(apple) = %q, want red", v)
	}

	if _, found, _ := mt.Get([]byte("missing")); found {
		t.Fatal("Get(missing) should not be found")
	}
}

func TestOverwriteLastWriteWins(t *testing.T) {
	mt := New(0)
	mt.Insert([]byte("k"), []byte("v1"))
	mt.Insert([]byte("k"), []byte("v2"))

	v, found, deleted := mt.Get([]byte("k"))
	if !found || deleted || string(v) != "v2" {
		t.Fatalf("Get(k) = (%q, %v, %v), want (v2, true, false)", v, found, deleted)
	}
	if mt.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 (overwrite should not add a new key)", mt.Count())
	}
}

func TestDelete(t *testing.T) {
	mt := New(0)
	mt.Insert([]byte("k"), []byte("v"))
	mt.Delete([]byte("k"))

	_, found, deleted := mt.Get([]byte("k"))
	if !found || !deleted {
		t.Fatalf("Get(k) after delete: found=%v deleted=%v, want (true, true)", found, deleted)
	}
}

func TestIteratorOrder(t *testing.T) {
	mt := New(0)
	keys := []string{"banana", "apple", "cherry", "date"}
	for _, k := range keys {
		mt.Insert([]byte(k), []byte(k+"-value"))
	}

	want := []string{"apple", "banana", "cherry", "date"}
	var got []string
	it := mt.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
		v, deleted := it.Value()
		if deleted {
			t.Fatalf("key %q unexpectedly deleted", it.Key())
		}
		if string(v) != string(it.Key())+"-value" {
			t.Fatalf("value for %q = %q, want %q-value", it.Key(), v, it.Key())
		}
	}

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIteratorSeesTombstones(t *testing.T) {
	mt := New(0)
	mt.Insert([]byte("k"), []byte("v"))
	mt.Delete([]byte("k"))

	it := mt.NewIterator()
	it.SeekToFirst()
	if !it.Valid() {
		t.Fatal("expected one entry")
	}
	_, deleted := it.Value()
	if !deleted {
		t.Fatal("expected tombstone entry")
	}
}

func TestFull(t *testing.T) {
	mt := New(32)
	if mt.Full() {
		t.Fatal("empty memtable should not be full")
	}
	mt.Insert([]byte("key"), []byte("a-fairly-long-value-to-trip-the-budget"))
	if !mt.Full() {
		t.Fatalf("memtable usage %d should exceed budget 32", mt.ApproximateMemoryUsage())
	}
}

func TestEmpty(t *testing.T) {
	mt := New(0)
	if !mt.Empty() {
		t.Fatal("new memtable should be empty")
	}
	mt.Insert([]byte("k"), []byte("v"))
	if mt.Empty() {
		t.Fatal("memtable with an entry should not be empty")
	}
}
