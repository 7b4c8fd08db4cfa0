package store

import (
	"github.com/tomato-kv/tomatokv/internal/checksum"
	"github.com/tomato-kv/tomatokv/internal/compression"
)

// Options configures a Store.
type Options struct {
	// WorkDir is the directory holding the manifest, SSTables, and WAL
	// segments.
	WorkDir string

	// MaxLevel is the bottommost level index (levels 0..MaxLevel exist).
	MaxLevel int

	// BlockSize is the target uncompressed size of a data block.
	BlockSize int

	// BlockRestartInterval is the number of keys between block restart
	// points.
	BlockRestartInterval int

	// Compression is the block compression algorithm new SSTables are
	// written with.
	Compression compression.Type

	// ChecksumType is the checksum algorithm new SSTables are written
	// with.
	ChecksumType checksum.Type

	// BlockCacheCapacity bounds the shared block cache, in bytes.
	BlockCacheCapacity uint64

	// MemTableMaxSize is the approximate memory charge at which a
	// memtable is sealed and queued for flush.
	MemTableMaxSize int

	// MemTableMaxHeight bounds the memtable's skip-list height.
	MemTableMaxHeight int

	// L0CompactionTrigger is the L0 file count at which compaction score
	// reaches 1.0.
	L0CompactionTrigger int
}

// DefaultOptions returns the store defaults for workDir.
func DefaultOptions(workDir string) Options {
	return Options{
		WorkDir:              workDir,
		MaxLevel:             7,
		BlockSize:            4096,
		BlockRestartInterval: 16,
		Compression:          compression.SnappyCompression,
		ChecksumType:         checksum.TypeCRC32C,
		BlockCacheCapacity:   8 * 1024 * 1024,
		MemTableMaxSize:      4 * 1024 * 1024,
		MemTableMaxHeight:    12,
		L0CompactionTrigger:  4,
	}
}
