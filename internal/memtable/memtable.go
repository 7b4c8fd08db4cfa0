package memtable

import (
	"sync"
	"sync/atomic"
)

// entryOverhead approximates the per-entry bookkeeping cost (map bucket,
// skip-list node header) charged against a memtable's size budget in
// addition to the raw key/value bytes.
const entryOverhead = 32

// record is the value side of a memtable entry: either a stored value, or a
// tombstone recording that the key was deleted.
type record struct {
	value   []byte
	deleted bool
}

// MemTable is the in-memory, mutable table writes land in before being
// flushed to an SSTable. Keys are kept in sorted order via a SkipList so a
// full scan (used only when flushing) produces entries in the order an
// SSTable requires; point lookups and overwrites go through a plain map for
// O(1) last-write-wins semantics.
type MemTable struct {
	mu       sync.Mutex
	skiplist *SkipList // tracks the set of keys present, for sorted iteration
	entries  map[string]*record

	memoryUsage int64
	maxSize     int
}

// New creates an empty MemTable that reports itself full once its
// approximate memory usage reaches maxSize bytes.
func New(maxSize int) *MemTable {
	return NewWithMaxHeight(maxSize, DefaultMaxHeight)
}

// NewWithMaxHeight is New with an explicit bound on the backing skip list's
// height.
func NewWithMaxHeight(maxSize, maxHeight int) *MemTable {
	return &MemTable{
		skiplist: NewSkipListWithParams(BytewiseComparator, maxHeight, DefaultBranchingFactor),
		entries:  make(map[string]*record),
		maxSize:  maxSize,
	}
}

// Insert records key=value, overwriting any prior value or tombstone for
// key.
func (mt *MemTable) Insert(key, value []byte) {
	mt.put(key, &record{value: append([]byte(nil), value...)})
}

// Delete records a tombstone for key, overwriting any prior value.
func (mt *MemTable) Delete(key []byte) {
	mt.put(key, &record{deleted: true})
}

func (mt *MemTable) put(key []byte, r *record) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	k := string(key)
	if _, exists := mt.entries[k]; !exists {
		mt.skiplist.Insert(append([]byte(nil), key...))
	}
	mt.entries[k] = r

	atomic.AddInt64(&mt.memoryUsage, int64(len(key)+len(r.value)+entryOverhead))
}

// Get looks up key. found is false if the key has never been written.
// deleted is true if the most recent write was a Delete.
func (mt *MemTable) Get(key []byte) (value []byte, found bool, deleted bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	r, ok := mt.entries[string(key)]
	if !ok {
		return nil, false, false
	}
	if r.deleted {
		return nil, true, true
	}
	return r.value, true, false
}

// Count returns the number of distinct keys in the memtable.
func (mt *MemTable) Count() int64 {
	return mt.skiplist.Count()
}

// Empty reports whether the memtable holds no entries.
func (mt *MemTable) Empty() bool {
	return mt.Count() == 0
}

// ApproximateMemoryUsage returns an approximate byte count of the keys,
// values, and per-entry overhead held by the memtable.
func (mt *MemTable) ApproximateMemoryUsage() int64 {
	return atomic.LoadInt64(&mt.memoryUsage)
}

// Full reports whether the memtable has reached its configured size budget
// and should be frozen and flushed.
func (mt *MemTable) Full() bool {
	return mt.maxSize > 0 && mt.ApproximateMemoryUsage() >= int64(mt.maxSize)
}

// MemTableIterator walks a MemTable's entries in key order. Used to drive an
// SSTable builder when flushing, and nowhere else (the core spec has no
// client-visible range scan).
type MemTableIterator struct {
	mt   *MemTable
	iter *Iterator
}

// NewIterator returns a MemTableIterator positioned before the first entry.
func (mt *MemTable) NewIterator() *MemTableIterator {
	return &MemTableIterator{mt: mt, iter: mt.skiplist.NewIterator()}
}

// SeekToFirst positions the iterator at the first key.
func (it *MemTableIterator) SeekToFirst() { it.iter.SeekToFirst() }

// Valid reports whether the iterator is positioned at an entry.
func (it *MemTableIterator) Valid() bool { return it.iter.Valid() }

// Next advances to the next key.
func (it *MemTableIterator) Next() { it.iter.Next() }

// Key returns the current entry's key.
func (it *MemTableIterator) Key() []byte { return it.iter.Key() }

// Value returns the current entry's value and whether it is a tombstone.
// Safe to call only while Valid().
func (it *MemTableIterator) Value() (value []byte, deleted bool) {
	it.mt.mu.Lock()
	defer it.mt.mu.Unlock()
	r := it.mt.entries[string(it.iter.Key())]
	if r == nil {
		return nil, true
	}
	return r.value, r.deleted
}
