package compaction

import (
	"bytes"
	"container/heap"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomato-kv/tomatokv/internal/record"
	"github.com/tomato-kv/tomatokv/internal/table"
)

// Reader is the subset of catalog.Catalog a Job needs to find compaction
// inputs. Accepting an interface here (rather than importing catalog
// directly) keeps compaction decoupled from how the catalog stores readers.
type Reader interface {
	MinKey() []byte
	MaxKey() []byte
	NewIterator() *table.Iterator
	FileName() string
}

// Publisher applies a finished compaction's results atomically.
type Publisher interface {
	ApplyCompaction(inputLevel, outputLevel int, obsoleteNames map[string]bool, newFiles []string) error
}

// Job executes one level-to-level compaction.
type Job struct {
	dir            string
	nextFileNum    func() uint64
	builderOptions table.BuilderOptions
	publisher      Publisher
}

// NewJob builds a Job that writes output SSTables under dir, names them via
// nextFileNum, and publishes results through publisher.
func NewJob(dir string, nextFileNum func() uint64, builderOptions table.BuilderOptions, publisher Publisher) *Job {
	return &Job{dir: dir, nextFileNum: nextFileNum, builderOptions: builderOptions, publisher: publisher}
}

// Run compacts every reader in inputLevel together with the readers in
// inputLevel+1 whose key range overlaps them, writing the merged result as a
// single new SSTable at inputLevel+1 regardless of its size (or as no file at
// all when no entry survives the merge) and retiring the inputs. maxLevel identifies the bottommost level, at
// which tombstones can be dropped outright since there is nothing lower left
// to shadow.
func (j *Job) Run(inputLevel int, inputs, overlapping []Reader, maxLevel int) error {
	outputLevel := inputLevel + 1
	dropTombstones := outputLevel == maxLevel

	// inputs is ordered newest-first (for L0, the reverse of append order,
	// as catalog.LevelInputs returns it; an L>=1 level's files do not
	// overlap, so their order does not matter); overlapping readers from L+1 are always
	// older than every L input, so they sort after all of inputs.
	sources := make([]Reader, 0, len(inputs)+len(overlapping))
	sources = append(sources, inputs...)
	sources = append(sources, overlapping...)

	// mergeAndWrite always emits exactly one output SSTable regardless of
	// its size: no size-bounded splitting into multiple output files.
	newFiles, err := j.mergeAndWrite(sources, dropTombstones)
	if err != nil {
		return err
	}

	obsolete := make(map[string]bool, len(sources))
	for _, r := range sources {
		obsolete[r.FileName()] = true
	}

	if err := j.publisher.ApplyCompaction(inputLevel, outputLevel, obsolete, newFiles); err != nil {
		for _, name := range newFiles {
			os.Remove(filepath.Join(j.dir, name))
		}
		return fmt.Errorf("compaction: publish: %w", err)
	}
	return nil
}

// mergeAndWrite performs a k-way merge over sources (in decreasing
// precedence order: sources[0] wins ties) and writes the result to a single
// new SSTable. It returns the new file's name, or no files if the merge
// produced no live output.
func (j *Job) mergeAndWrite(sources []Reader, dropTombstones bool) ([]string, error) {
	m := newMerger(sources)

	fileNum := j.nextFileNum()
	fileName := fmt.Sprintf("%06d.sst", fileNum)
	f, err := os.Create(filepath.Join(j.dir, fileName))
	if err != nil {
		return nil, fmt.Errorf("compaction: create output file: %w", err)
	}

	b := table.NewBuilder(f, j.builderOptions)
	wrote := false
	for m.valid() {
		key, raw := m.key(), m.value()
		_, deleted := record.Decode(raw)
		if !(deleted && dropTombstones) {
			if err := b.Add(key, raw); err != nil {
				f.Close()
				os.Remove(f.Name())
				return nil, fmt.Errorf("compaction: write entry: %w", err)
			}
			wrote = true
		}
		m.next()
	}
	if err := m.err(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("compaction: merge: %w", err)
	}

	if !wrote {
		f.Close()
		os.Remove(f.Name())
		return nil, nil
	}

	if err := b.Finish(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("compaction: finish output file: %w", err)
	}
	return []string{fileName}, nil
}

// mergeSource is one input stream feeding the merge heap, tagged with its
// rank so the heap can break key ties in favor of the most recent source.
type mergeSource struct {
	iter *table.Iterator
	rank int
}

// mergeHeap is a min-heap over mergeSources, ordered by current key and,
// for ties, by rank (lower rank == more recent == wins).
type mergeHeap []*mergeSource

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, k int) bool {
	c := bytes.Compare(h[i].iter.Key(), h[k].iter.Key())
	if c != 0 {
		return c < 0
	}
	return h[i].rank < h[k].rank
}
func (h mergeHeap) Swap(i, k int) { h[i], h[k] = h[k], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*mergeSource)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// merger drives a k-way merge across sources, suppressing every
// lower-precedence duplicate of the key currently at the top of the heap so
// only the winning entry is ever surfaced.
type merger struct {
	heap   mergeHeap
	curKey []byte
	curVal []byte
	ok     bool
	err    error
}

func newMerger(sources []Reader) *merger {
	m := &merger{}
	for rank, src := range sources {
		it := src.NewIterator()
		it.SeekToFirst()
		if it.Valid() {
			m.heap = append(m.heap, &mergeSource{iter: it, rank: rank})
		} else if err := it.Error(); err != nil {
			m.err = err
		}
	}
	heap.Init(&m.heap)
	m.advance()
	return m
}

// advance pops the winning entry for the next distinct key off the heap,
// discarding every other source currently positioned at that same key.
func (m *merger) advance() {
	if m.err != nil || len(m.heap) == 0 {
		m.ok = false
		return
	}

	top := m.heap[0]
	m.curKey = append(m.curKey[:0], top.iter.Key()...)
	m.curVal = append(m.curVal[:0], top.iter.Value()...)
	m.ok = true

	for len(m.heap) > 0 && bytes.Equal(m.heap[0].iter.Key(), m.curKey) {
		src := m.heap[0]
		src.iter.Next()
		if src.iter.Valid() {
			heap.Fix(&m.heap, 0)
		} else {
			if err := src.iter.Error(); err != nil {
				m.err = err
			}
			heap.Pop(&m.heap)
		}
	}
}

func (m *merger) valid() bool   { return m.err == nil && m.ok }
func (m *merger) key() []byte   { return m.curKey }
func (m *merger) value() []byte { return m.curVal }
func (m *merger) next()         { m.advance() }
func (m *merger) err() error    { return m.err }
