package store

import (
	"sync"

	"github.com/tomato-kv/tomatokv/internal/compaction"
	"github.com/tomato-kv/tomatokv/internal/logging"
	"github.com/tomato-kv/tomatokv/internal/table"
)

// backgroundWork runs the store's flush and compaction workers on a small
// fixed-size pool: one goroutine waits on two signal channels and dispatches
// to whichever kind of work was requested, guarding against two flushes (or
// two compactions) running concurrently.
type backgroundWork struct {
	store *Store

	flushCh      chan struct{}
	compactionCh chan struct{}
	shutdownCh   chan struct{}
	done         sync.WaitGroup

	mu                sync.Mutex
	flushRunning      bool
	compactionRunning bool
}

func newBackgroundWork(s *Store) *backgroundWork {
	return &backgroundWork{
		store:        s,
		flushCh:      make(chan struct{}, 1),
		compactionCh: make(chan struct{}, 1),
		shutdownCh:   make(chan struct{}),
	}
}

// Start launches the worker loop.
func (bg *backgroundWork) Start() {
	bg.done.Add(1)
	go bg.loop()
}

// Stop signals the worker loop to exit and waits for it to drain.
func (bg *backgroundWork) Stop() {
	close(bg.shutdownCh)
	bg.done.Wait()
}

// MaybeScheduleFlush wakes the worker to consider a flush, coalescing
// repeated signals into a single pending request.
func (bg *backgroundWork) MaybeScheduleFlush() {
	select {
	case bg.flushCh <- struct{}{}:
	default:
	}
}

// MaybeScheduleCompaction wakes the worker to consider a compaction.
func (bg *backgroundWork) MaybeScheduleCompaction() {
	select {
	case bg.compactionCh <- struct{}{}:
	default:
	}
}

func (bg *backgroundWork) loop() {
	defer bg.done.Done()

	for {
		select {
		case <-bg.shutdownCh:
			return
		case <-bg.flushCh:
			bg.doFlush()
		case <-bg.compactionCh:
			bg.doCompaction()
		}
	}
}

// doFlush flushes the oldest sealed memtable, if any, to an L0 SSTable,
// publishes it through the catalog, and truncates the WAL segments its
// writes spanned. The (possibly slow) SSTable write happens without
// holding the store lock; only the bookkeeping that follows briefly takes
// it exclusively.
func (bg *backgroundWork) doFlush() {
	bg.mu.Lock()
	if bg.flushRunning {
		bg.mu.Unlock()
		return
	}
	bg.flushRunning = true
	bg.mu.Unlock()
	defer func() {
		bg.mu.Lock()
		bg.flushRunning = false
		bg.mu.Unlock()
	}()

	s := bg.store

	s.mu.RLock()
	if len(s.sealed) == 0 {
		s.mu.RUnlock()
		return
	}
	sealed := s.sealed[0]
	s.mu.RUnlock()

	fileName, err := s.buildSSTableFromMemTable(sealed.mt)
	if err != nil {
		s.logger.Errorf("%sflush failed: %v", logging.NSFlush, err)
		return
	}

	if fileName != "" {
		if err := s.catalog.Add(0, fileName); err != nil {
			s.logger.Errorf("%spublish flushed sstable failed: %v", logging.NSFlush, err)
			return
		}
	}

	s.mu.Lock()
	if err := s.wal.Truncate(sealed.walSegments); err != nil {
		s.logger.Errorf("%swal truncate after flush failed: %v", logging.NSWAL, err)
	}
	s.sealed = s.sealed[1:]
	remaining := len(s.sealed)
	s.mu.Unlock()

	if remaining > 0 {
		bg.MaybeScheduleFlush()
	}
	bg.MaybeScheduleCompaction()
}

// doCompaction picks the level under the most compaction pressure (if any
// scores at least 1.0) and runs one compaction job against it. The catalog
// synchronizes its own reader state internally, so this needs no
// coordination with the store lock at all.
func (bg *backgroundWork) doCompaction() {
	bg.mu.Lock()
	if bg.compactionRunning {
		bg.mu.Unlock()
		return
	}
	bg.compactionRunning = true
	bg.mu.Unlock()
	defer func() {
		bg.mu.Lock()
		bg.compactionRunning = false
		bg.mu.Unlock()
	}()

	s := bg.store
	cat := s.catalog

	pickerOpts := compaction.PickerOptions{L0CompactionTrigger: s.opts.L0CompactionTrigger}
	scored := compaction.Pick(pickerOpts, s.opts.MaxLevel, func(level int) compaction.LevelInfo {
		return compaction.LevelInfo{NumFiles: cat.NumFiles(level), Size: cat.LevelSize(level)}
	})
	if len(scored) == 0 {
		return
	}

	level := scored[0].Level
	inputs := cat.LevelInputs(level)
	if len(inputs) == 0 {
		return
	}

	minKey, maxKey := inputKeyRange(inputs)
	overlapping := cat.OverlappingInputs(level+1, minKey, maxKey)

	job := compaction.NewJob(s.opts.WorkDir, s.nextFileNum, table.BuilderOptions{
		BlockSize:            s.opts.BlockSize,
		BlockRestartInterval: s.opts.BlockRestartInterval,
		Compression:          s.opts.Compression,
		ChecksumType:         s.opts.ChecksumType,
	}, cat)

	select {
	case <-bg.shutdownCh:
		return
	default:
	}

	if err := job.Run(level, toCompactionReaders(inputs), toCompactionReaders(overlapping), s.opts.MaxLevel); err != nil {
		s.logger.Errorf("%scompaction of level %d failed: %v", logging.NSCompact, level, err)
		return
	}

	bg.MaybeScheduleCompaction()
}
