// Package catalog tracks which SSTable readers belong to which level of the
// LSM tree, binds that view to the durable manifest, and answers
// point-lookup queries across levels.
//
// Unlike the multi-version, reference-counted Version/VersionSet machinery
// it is descended from, catalog keeps exactly one live, mutex-guarded view:
// there is no snapshot isolation and no historical-version linked list to
// maintain, since nothing in this system reads against a past version.
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tomato-kv/tomatokv/internal/cache"
	"github.com/tomato-kv/tomatokv/internal/checksum"
	"github.com/tomato-kv/tomatokv/internal/manifest"
	"github.com/tomato-kv/tomatokv/internal/record"
	"github.com/tomato-kv/tomatokv/internal/table"
)

// entry pairs an open reader with the file name the manifest tracks it
// under.
type entry struct {
	fileName string
	reader   *table.Reader
}

func (e *entry) minKey() []byte { return e.reader.MinKey() }
func (e *entry) maxKey() []byte { return e.reader.MaxKey() }

func (e *entry) contains(key []byte) bool {
	return bytes.Compare(key, e.minKey()) >= 0 && bytes.Compare(key, e.maxKey()) <= 0
}

// Catalog holds the per-level reader lists and keeps them consistent with
// the on-disk manifest.
type Catalog struct {
	mu       sync.RWMutex
	dir      string
	maxLevel int

	manifest *manifest.Manifest
	readers  [][]*entry

	cache        cache.Cache
	checksumType checksum.Type
}

// Options configures Open.
type Options struct {
	MaxLevel     int
	Cache        cache.Cache
	ChecksumType checksum.Type
}

// Open recovers the catalog from dir: it loads the manifest, opens a
// table.Reader for every file the manifest references, deletes any *.sst
// file in dir the manifest does not reference, and fails if a referenced
// file is missing.
func Open(dir string, opts Options) (*Catalog, error) {
	m, err := manifest.Open(dir, opts.MaxLevel)
	if err != nil {
		return nil, fmt.Errorf("catalog: open manifest: %w", err)
	}

	c := &Catalog{
		dir:          dir,
		maxLevel:     opts.MaxLevel,
		manifest:     m,
		readers:      make([][]*entry, opts.MaxLevel+1),
		cache:        opts.Cache,
		checksumType: opts.ChecksumType,
	}

	referenced := make(map[string]bool)
	for level := 0; level <= opts.MaxLevel; level++ {
		for _, fm := range m.FileMetas(level) {
			referenced[fm.FileName] = true
			e, err := c.openReader(fm.FileName)
			if err != nil {
				return nil, fmt.Errorf("catalog: referenced file %s missing or invalid: %w", fm.FileName, err)
			}
			c.readers[level] = append(c.readers[level], e)
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.sst"))
	if err != nil {
		return nil, fmt.Errorf("catalog: glob %s: %w", dir, err)
	}
	for _, path := range matches {
		name := filepath.Base(path)
		if !referenced[name] {
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("catalog: remove orphan file %s: %w", name, err)
			}
		}
	}

	return c, nil
}

// osFileWrapper adapts *os.File to table.ReadableFile, which needs a cached
// Size() (os.File itself has no such method).
type osFileWrapper struct {
	f    *os.File
	size int64
}

func (w *osFileWrapper) ReadAt(p []byte, off int64) (int, error) { return w.f.ReadAt(p, off) }
func (w *osFileWrapper) Size() int64                             { return w.size }
func (w *osFileWrapper) Close() error                            { return w.f.Close() }

func (c *Catalog) openReader(fileName string) (*entry, error) {
	f, err := os.Open(filepath.Join(c.dir, fileName))
	if err != nil {
		return nil, err
	}
	fileID, err := parseFileNum(fileName)
	if err != nil {
		f.Close()
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	wrapped := &osFileWrapper{f: f, size: stat.Size()}

	r, err := table.Open(wrapped, table.ReaderOptions{
		VerifyChecksums: true,
		Cache:           c.cache,
		FileID:          fileID,
		ChecksumType:    c.checksumType,
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	return &entry{fileName: fileName, reader: r}, nil
}

// parseFileNum extracts the monotonic file number from a "NNNNNN.sst" (or
// "NNNNNN.wal") file name, for use as a cache key's file identity.
func parseFileNum(fileName string) (uint64, error) {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	n, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("catalog: malformed file name %s: %w", fileName, err)
	}
	return n, nil
}

// Add registers a newly-written SSTable file under level, updates and
// flushes the manifest, and (for level >= 1) restores min-key sort order.
func (c *Catalog) Add(level int, fileName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.openReader(fileName)
	if err != nil {
		return err
	}

	c.readers[level] = append(c.readers[level], e)
	c.manifest.AddFileMeta(level, manifest.FileMeta{FileName: fileName})

	if level >= 1 {
		sort.Slice(c.readers[level], func(i, j int) bool {
			return bytes.Compare(c.readers[level][i].minKey(), c.readers[level][j].minKey()) < 0
		})
	}

	if err := c.manifest.Flush(); err != nil {
		return fmt.Errorf("catalog: flush manifest after add: %w", err)
	}
	return nil
}

// RemoveByFileNames drops every reader at level whose file name is in
// names, updates and flushes the manifest, then closes and unlinks the
// underlying files.
func (c *Catalog) RemoveByFileNames(level int, names map[string]bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []*entry
	kept := c.readers[level][:0:0]
	for _, e := range c.readers[level] {
		if names[e.fileName] {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	c.readers[level] = kept

	c.manifest.RemoveFileMetaByFileNames(level, names)
	if err := c.manifest.Flush(); err != nil {
		return fmt.Errorf("catalog: flush manifest after remove: %w", err)
	}

	for _, e := range removed {
		e.reader.Close()
		if err := os.Remove(filepath.Join(c.dir, e.fileName)); err != nil {
			return fmt.Errorf("catalog: unlink obsolete file %s: %w", e.fileName, err)
		}
	}
	return nil
}

// CompactionInput exposes a single level's reader to the compaction job: it
// satisfies compaction.Reader structurally (MinKey/MaxKey/NewIterator/
// FileName) without catalog needing to import the compaction package.
type CompactionInput struct {
	e *entry
}

func (c CompactionInput) MinKey() []byte               { return c.e.minKey() }
func (c CompactionInput) MaxKey() []byte               { return c.e.maxKey() }
func (c CompactionInput) FileName() string             { return c.e.fileName }
func (c CompactionInput) NewIterator() *table.Iterator { return c.e.reader.NewIterator() }

// LevelInputs returns every reader currently registered at level, as
// compaction inputs, in the catalog's own recency order (newest first for
// L0; ascending min-key order for L>=1).
func (c *Catalog) LevelInputs(level int) []CompactionInput {
	c.mu.RLock()
	defer c.mu.RUnlock()

	inputs := make([]CompactionInput, len(c.readers[level]))
	for i, e := range c.readers[level] {
		if level == 0 {
			// readers[0] is in insertion order (oldest first): reverse it.
			inputs[len(inputs)-1-i] = CompactionInput{e: e}
		} else {
			inputs[i] = CompactionInput{e: e}
		}
	}
	return inputs
}

// OverlappingInputs returns every reader at level whose key range overlaps
// [minKey, maxKey].
func (c *Catalog) OverlappingInputs(level int, minKey, maxKey []byte) []CompactionInput {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var inputs []CompactionInput
	for _, e := range c.readers[level] {
		if bytes.Compare(e.minKey(), maxKey) <= 0 && bytes.Compare(e.maxKey(), minKey) >= 0 {
			inputs = append(inputs, CompactionInput{e: e})
		}
	}
	return inputs
}

// ApplyCompaction publishes the result of a compaction job in one atomic
// manifest flush: obsoleteNames are dropped from inputLevel and
// inputLevel+1, and newFiles are added to outputLevel. The files named in
// obsoleteNames are only unlinked from disk after that single flush
// succeeds, so a crash before the flush leaves the previous, still-valid
// state on disk.
func (c *Catalog) ApplyCompaction(inputLevel, outputLevel int, obsoleteNames map[string]bool, newFiles []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []*entry
	for _, level := range levelsToPrune(inputLevel, outputLevel) {
		kept := c.readers[level][:0:0]
		for _, e := range c.readers[level] {
			if obsoleteNames[e.fileName] {
				removed = append(removed, e)
			} else {
				kept = append(kept, e)
			}
		}
		c.readers[level] = kept
		c.manifest.RemoveFileMetaByFileNames(level, obsoleteNames)
	}

	for _, name := range newFiles {
		e, err := c.openReader(name)
		if err != nil {
			return fmt.Errorf("catalog: open compaction output %s: %w", name, err)
		}
		c.readers[outputLevel] = append(c.readers[outputLevel], e)
		c.manifest.AddFileMeta(outputLevel, manifest.FileMeta{FileName: name})
	}

	if outputLevel >= 1 {
		sort.Slice(c.readers[outputLevel], func(i, j int) bool {
			return bytes.Compare(c.readers[outputLevel][i].minKey(), c.readers[outputLevel][j].minKey()) < 0
		})
	}

	if err := c.manifest.Flush(); err != nil {
		return fmt.Errorf("catalog: flush manifest after compaction: %w", err)
	}

	for _, e := range removed {
		e.reader.Close()
		if err := os.Remove(filepath.Join(c.dir, e.fileName)); err != nil {
			return fmt.Errorf("catalog: unlink obsolete file %s: %w", e.fileName, err)
		}
	}
	return nil
}

// levelsToPrune returns the distinct levels a compaction's obsolete files
// may come from: the input level, and the output level (when the
// compaction moved files down from input to output, e.g. L0 -> L1).
func levelsToPrune(inputLevel, outputLevel int) []int {
	if inputLevel == outputLevel {
		return []int{inputLevel}
	}
	return []int{inputLevel, outputLevel}
}

// NumFiles returns the number of files registered at level.
func (c *Catalog) NumFiles(level int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.readers[level])
}

// LevelSize returns the sum of the on-disk size of every file at level.
func (c *Catalog) LevelSize(level int) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total uint64
	for _, e := range c.readers[level] {
		total += uint64(e.reader.Size())
	}
	return total
}

// MaxLevel returns the highest valid level index.
func (c *Catalog) MaxLevel() int {
	return c.maxLevel
}

// searchReaders returns the candidate readers at level that might contain
// key, per the level's overlap invariant.
func (c *Catalog) searchReaders(level int, key []byte) []*entry {
	readers := c.readers[level]

	if level == 0 {
		var candidates []*entry
		for i := len(readers) - 1; i >= 0; i-- {
			if readers[i].contains(key) {
				candidates = append(candidates, readers[i])
			}
		}
		return candidates
	}

	// L>=1: readers are sorted and disjoint by min_key. Binary search for
	// the greatest index whose min_key <= key, then scan forward: at most
	// one reader can contain key under the disjointness invariant.
	i := sort.Search(len(readers), func(i int) bool {
		return bytes.Compare(readers[i].minKey(), key) > 0
	}) - 1

	var candidates []*entry
	for ; i >= 0 && i < len(readers); i++ {
		if bytes.Compare(readers[i].minKey(), key) > 0 {
			break
		}
		if readers[i].contains(key) {
			candidates = append(candidates, readers[i])
		}
	}
	return candidates
}

// Get searches every level in recency order and returns the first match.
// found is false if key is absent everywhere, or if the most recent
// recorded write was a tombstone (a delete shadows any older SSTable that
// still holds the key, until compaction eliminates both).
func (c *Catalog) Get(key []byte) (value []byte, found bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for level := 0; level <= c.maxLevel; level++ {
		for _, e := range c.searchReaders(level, key) {
			raw, ok, err := e.reader.Get(key)
			if err != nil {
				return nil, false, fmt.Errorf("catalog: get from %s: %w", e.fileName, err)
			}
			if !ok {
				continue
			}
			v, deleted := record.Decode(raw)
			if deleted {
				return nil, false, nil
			}
			return v, true, nil
		}
	}
	return nil, false, nil
}
