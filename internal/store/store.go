// Package store implements the façade combining the write-ahead log,
// memtable, SSTable catalog, and compaction planner into the durable
// key-value engine: set/add/replace/append/prepend/delete/get/gets.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tomato-kv/tomatokv/internal/cache"
	"github.com/tomato-kv/tomatokv/internal/catalog"
	"github.com/tomato-kv/tomatokv/internal/compaction"
	"github.com/tomato-kv/tomatokv/internal/logging"
	"github.com/tomato-kv/tomatokv/internal/memtable"
	"github.com/tomato-kv/tomatokv/internal/record"
	"github.com/tomato-kv/tomatokv/internal/table"
	"github.com/tomato-kv/tomatokv/internal/wal"
)

// Sentinel errors, per the store's closed error taxonomy. No store operation
// currently returns ErrNotFound: Get reports a missing key as found == false.
var (
	ErrNotFound    = errors.New("store: not found")
	ErrChecksum    = errors.New("store: checksum mismatch")
	ErrInvalidData = errors.New("store: invalid data")
	ErrCompress    = errors.New("store: compress")
	// ErrStopped is returned by every mutation once a WAL I/O error has
	// tainted the store; only a restart can clear it.
	ErrStopped = errors.New("store: stopped after unrecoverable write-ahead log error")
)

// sealedMemTable is an immutable memtable awaiting a background flush, plus
// the number of WAL segments its writes span (truncated only once the
// flush's SSTable and manifest update are durable).
type sealedMemTable struct {
	mt          *memtable.MemTable
	walSegments int
}

// Store is the concurrency-safe façade over the storage engine.
type Store struct {
	mu     sync.RWMutex
	opts   Options
	logger logging.Logger

	wal    *wal.WAL
	mem    *memtable.MemTable
	sealed []*sealedMemTable

	cache   cache.Cache
	catalog *catalog.Catalog

	bg *backgroundWork

	fileNumCounter uint64 // atomic; next *.sst file number

	ioErr error // set once a WAL append fails; rejects further writes
}

// Open recovers (or creates) a store rooted at opts.WorkDir: it replays any
// WAL segments into a fresh memtable, opens the SSTable catalog, and starts
// the background flush/compaction workers.
func Open(opts Options, logger logging.Logger) (*Store, error) {
	if logging.IsNil(logger) {
		logger = logging.Discard
	}
	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create work dir: %w", err)
	}

	w, err := wal.Open(opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}

	mem := memtable.NewWithMaxHeight(opts.MemTableMaxSize, opts.MemTableMaxHeight)
	replayed, err := replayInto(w, mem)
	if err != nil {
		return nil, fmt.Errorf("store: replay wal: %w", err)
	}
	if replayed > 0 {
		logger.Infof("%srecovered %d entries from wal", logging.NSWAL, replayed)
	}

	blockCache := cache.NewLRUCache(opts.BlockCacheCapacity)

	cat, err := catalog.Open(opts.WorkDir, catalog.Options{
		MaxLevel:     opts.MaxLevel,
		Cache:        blockCache,
		ChecksumType: opts.ChecksumType,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open catalog: %w", err)
	}

	nextNum, err := nextSSTableFileNum(opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("store: scan sstable files: %w", err)
	}

	s := &Store{
		opts:           opts,
		logger:         logger,
		wal:            w,
		mem:            mem,
		cache:          blockCache,
		catalog:        cat,
		fileNumCounter: nextNum,
	}
	s.bg = newBackgroundWork(s)
	s.bg.Start()

	return s, nil
}

// replayInto applies every WAL entry in w to mem and returns how many were
// applied.
func replayInto(w *wal.WAL, mem *memtable.MemTable) (int, error) {
	it := w.NewReplayIterator()
	count := 0
	for {
		entry, err := it.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		if entry.Deleted {
			mem.Delete(entry.Key)
		} else {
			mem.Insert(entry.Key, entry.Value)
		}
		count++
	}
}

// nextSSTableFileNum scans dir for existing NNNNNN.sst files and returns one
// past the highest file number found (0 if none exist).
func nextSSTableFileNum(dir string) (uint64, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.sst"))
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, path := range matches {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		n, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if n+1 > max {
			max = n + 1
		}
	}
	return max, nil
}

func (s *Store) nextFileNum() uint64 {
	return atomic.AddUint64(&s.fileNumCounter, 1) - 1
}

// Close stops the background workers, flushes the active memtable, and
// closes the WAL and block cache.
func (s *Store) Close() error {
	s.bg.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Sealed memtables (oldest first) and then the active one, so that L0's
	// insertion order stays oldest-to-newest.
	for _, sealed := range append(s.sealed, &sealedMemTable{mt: s.mem}) {
		fileName, err := s.buildSSTableFromMemTable(sealed.mt)
		if err != nil {
			return fmt.Errorf("store: flush sealed memtable on close: %w", err)
		}
		if fileName != "" {
			if err := s.catalog.Add(0, fileName); err != nil {
				return fmt.Errorf("store: publish sealed flush on close: %w", err)
			}
		}
	}

	// Every memtable's writes are now durable in an SSTable referenced by a
	// flushed manifest, so the entire WAL can retire: otherwise these
	// segments would be replayed again (redundantly re-inserting already
	// flushed data) on the next Open.
	if err := s.wal.Truncate(s.wal.SegmentCount()); err != nil {
		return fmt.Errorf("store: wal truncate on close: %w", err)
	}

	if err := s.wal.Close(); err != nil {
		return fmt.Errorf("store: close wal: %w", err)
	}
	s.cache.Close()
	return nil
}

// Get looks up key, consulting the active memtable, then sealed memtables
// in LIFO order (most recently sealed first), then the SSTable catalog.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, found, err := s.getLocked(key)
	return v, found, wrapStorageError(err)
}

// wrapStorageError maps a table-layer error onto the store's closed error
// taxonomy (spec §7): a corrupt block is fatal to that read and is
// surfaced as ErrChecksum or ErrInvalidData rather than a bare table error.
func wrapStorageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, table.ErrChecksumMismatch):
		return fmt.Errorf("%w: %v", ErrChecksum, err)
	case errors.Is(err, table.ErrInvalidTable):
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	case strings.Contains(err.Error(), "decompress"):
		return fmt.Errorf("%w: %v", ErrCompress, err)
	default:
		return err
	}
}

// getLocked is Get's body, callable while already holding mu for reading or
// writing.
func (s *Store) getLocked(key []byte) ([]byte, bool, error) {
	if v, found, deleted := s.mem.Get(key); found {
		if deleted {
			return nil, false, nil
		}
		return v, true, nil
	}
	for i := len(s.sealed) - 1; i >= 0; i-- {
		if v, found, deleted := s.sealed[i].mt.Get(key); found {
			if deleted {
				return nil, false, nil
			}
			return v, true, nil
		}
	}
	return s.catalog.Get(key)
}

// Set unconditionally stores value for key.
func (s *Store) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateLocked(key, value, false)
}

// Add stores value for key only if key does not currently exist.
func (s *Store) Add(key, value []byte) (stored bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found, err := s.getLocked(key)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}
	if err := s.mutateLocked(key, value, false); err != nil {
		return false, err
	}
	return true, nil
}

// Replace stores value for key only if key currently exists.
func (s *Store) Replace(key, value []byte) (stored bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found, err := s.getLocked(key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := s.mutateLocked(key, value, false); err != nil {
		return false, err
	}
	return true, nil
}

// Append concatenates suffix onto key's current value, only if key exists.
func (s *Store) Append(key, suffix []byte) (stored bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, found, err := s.getLocked(key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	combined := make([]byte, 0, len(old)+len(suffix))
	combined = append(combined, old...)
	combined = append(combined, suffix...)
	if err := s.mutateLocked(key, combined, false); err != nil {
		return false, err
	}
	return true, nil
}

// Prepend concatenates key's current value onto prefix, only if key exists.
func (s *Store) Prepend(key, prefix []byte) (stored bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, found, err := s.getLocked(key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	combined := make([]byte, 0, len(prefix)+len(old))
	combined = append(combined, prefix...)
	combined = append(combined, old...)
	if err := s.mutateLocked(key, combined, false); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes key, only if it currently exists.
func (s *Store) Delete(key []byte) (deleted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found, err := s.getLocked(key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := s.mutateLocked(key, nil, true); err != nil {
		return false, err
	}
	return true, nil
}

// mutateLocked appends entry to the WAL, applies it to the active memtable,
// and seals the memtable for background flush if it is now full. Caller
// must hold mu exclusively.
func (s *Store) mutateLocked(key, value []byte, deleted bool) error {
	if s.ioErr != nil {
		return ErrStopped
	}

	entry := wal.LogEntry{Key: key, Value: value, Deleted: deleted}
	if err := s.wal.Append(entry); err != nil {
		s.ioErr = err
		s.logger.Fatalf("%swal append failed, rejecting further writes: %v", logging.NSWAL, err)
		return ErrStopped
	}

	if deleted {
		s.mem.Delete(key)
	} else {
		s.mem.Insert(key, value)
	}

	if s.mem.Full() {
		s.sealActiveMemTable()
	}
	return nil
}

// sealActiveMemTable makes the active memtable immutable, installs a fresh
// one, rotates the WAL segment, and wakes the background flush worker.
// Caller must hold mu exclusively.
func (s *Store) sealActiveMemTable() {
	// Live segments not already claimed by an earlier sealed memtable.
	walSegments := s.wal.SegmentCount()
	for _, sm := range s.sealed {
		walSegments -= sm.walSegments
	}
	s.sealed = append(s.sealed, &sealedMemTable{
		mt:          s.mem,
		walSegments: walSegments,
	})
	s.mem = memtable.NewWithMaxHeight(s.opts.MemTableMaxSize, s.opts.MemTableMaxHeight)

	if err := s.wal.NewSegment(); err != nil {
		s.ioErr = err
		s.logger.Fatalf("%swal segment rotation failed: %v", logging.NSWAL, err)
		return
	}
	s.bg.MaybeScheduleFlush()
}

// buildSSTableFromMemTable writes mt's contents, in key order, to a new
// SSTable file and returns its name. Returns "" if mt held no entries.
func (s *Store) buildSSTableFromMemTable(mt *memtable.MemTable) (string, error) {
	if mt.Empty() {
		return "", nil
	}

	fileName := fmt.Sprintf("%06d.sst", s.nextFileNum())
	f, err := os.Create(filepath.Join(s.opts.WorkDir, fileName))
	if err != nil {
		return "", fmt.Errorf("store: create sstable %s: %w", fileName, err)
	}

	b := table.NewBuilder(f, table.BuilderOptions{
		BlockSize:            s.opts.BlockSize,
		BlockRestartInterval: s.opts.BlockRestartInterval,
		Compression:          s.opts.Compression,
		ChecksumType:         s.opts.ChecksumType,
	})

	it := mt.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		value, isDeleted := it.Value()
		raw := record.Encode(value, isDeleted)
		if err := b.Add(it.Key(), raw); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("store: write sstable entry: %w", err)
		}
	}

	if err := b.Finish(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("store: finish sstable %s: %w", fileName, err)
	}
	return fileName, nil
}

// toCompactionReaders adapts catalog.CompactionInput values to the
// compaction.Reader interface the compaction package operates over.
func toCompactionReaders(inputs []catalog.CompactionInput) []compaction.Reader {
	readers := make([]compaction.Reader, len(inputs))
	for i := range inputs {
		readers[i] = inputs[i]
	}
	return readers
}

// inputKeyRange returns the union of inputs' key ranges.
func inputKeyRange(inputs []catalog.CompactionInput) (minKey, maxKey []byte) {
	for i, in := range inputs {
		if i == 0 || bytes.Compare(in.MinKey(), minKey) < 0 {
			minKey = in.MinKey()
		}
		if i == 0 || bytes.Compare(in.MaxKey(), maxKey) > 0 {
			maxKey = in.MaxKey()
		}
	}
	return minKey, maxKey
}
