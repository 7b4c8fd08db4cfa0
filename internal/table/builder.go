// Package table builds and reads SSTable files: a sequence of compressed,
// checksummed data blocks, followed by an index block mapping separator keys
// to data block handles, followed by a fixed-size footer.
package table

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/tomato-kv/tomatokv/internal/block"
	"github.com/tomato-kv/tomatokv/internal/checksum"
	"github.com/tomato-kv/tomatokv/internal/compression"
)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// BlockSize is the target uncompressed size of a data block before it is
	// flushed.
	BlockSize int

	// BlockRestartInterval is the number of keys between block restart
	// points.
	BlockRestartInterval int

	// Compression is the compression algorithm applied to data blocks.
	Compression compression.Type

	// ChecksumType is the checksum algorithm applied to each block's
	// trailer.
	ChecksumType checksum.Type
}

// DefaultBuilderOptions returns the builder defaults used by the store when
// no override is supplied.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		BlockSize:            4096,
		BlockRestartInterval: 16,
		Compression:          compression.SnappyCompression,
		ChecksumType:         checksum.TypeCRC32C,
	}
}

// Builder assembles an SSTable file, one key at a time, in strictly
// increasing key order.
type Builder struct {
	writer  io.Writer
	options BuilderOptions

	dataBlock  *block.Builder
	indexBlock *block.Builder

	pendingIndexEntry bool
	pendingHandle     block.Handle
	lastKey           []byte

	offset uint64

	numEntries    uint64
	numDataBlocks uint64

	finished bool
	err      error
}

// NewBuilder creates a Builder that writes an SSTable to w.
func NewBuilder(w io.Writer, opts BuilderOptions) *Builder {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.BlockRestartInterval <= 0 {
		opts.BlockRestartInterval = 16
	}

	return &Builder{
		writer:     w,
		options:    opts,
		dataBlock:  block.NewBuilder(opts.BlockRestartInterval),
		indexBlock: block.NewBuilder(1),
	}
}

// Add appends a key-value pair. Keys must be added in strictly increasing
// order.
func (tb *Builder) Add(key, value []byte) error {
	if tb.finished {
		return errors.New("table: Add called after Finish")
	}
	if tb.err != nil {
		return tb.err
	}

	if tb.pendingIndexEntry {
		sep := shortSeparator(tb.lastKey, key)
		tb.indexBlock.Add(sep, tb.pendingHandle.EncodeToSlice())
		tb.pendingIndexEntry = false
	}

	tb.dataBlock.Add(key, value)
	tb.numEntries++
	tb.lastKey = append(tb.lastKey[:0], key...)

	if tb.dataBlock.EstimatedSize() >= tb.options.BlockSize {
		if err := tb.flushDataBlock(); err != nil {
			tb.err = err
			return err
		}
	}

	return nil
}

func (tb *Builder) flushDataBlock() error {
	if tb.dataBlock.Empty() {
		return nil
	}

	contents := tb.dataBlock.Finish()
	handle, err := tb.writeBlockWithTrailer(contents)
	if err != nil {
		return err
	}

	tb.numDataBlocks++
	tb.pendingHandle = handle
	tb.pendingIndexEntry = true
	tb.dataBlock.Reset()

	return nil
}

// writeBlockWithTrailer compresses (if configured) and writes blockData,
// followed by a 1-byte compression type and a 4-byte checksum, and returns
// the handle locating the written (possibly compressed) bytes.
func (tb *Builder) writeBlockWithTrailer(blockData []byte) (block.Handle, error) {
	payload := blockData
	ctype := compression.NoCompression

	if tb.options.Compression != compression.NoCompression {
		compressed, err := compression.Compress(tb.options.Compression, blockData)
		if err == nil && compressed != nil && len(compressed) < len(blockData) {
			payload = compressed
			ctype = tb.options.Compression
		}
	}

	handle := block.Handle{Offset: tb.offset, Size: uint64(len(payload))}

	n, err := tb.writer.Write(payload)
	if err != nil {
		return block.Handle{}, err
	}
	tb.offset += uint64(n)

	trailer := make([]byte, block.BlockTrailerSize)
	trailer[0] = byte(ctype)
	cksum := checksum.Compute(tb.options.ChecksumType, payload, trailer[0])
	binary.LittleEndian.PutUint32(trailer[1:], cksum)

	n, err = tb.writer.Write(trailer)
	if err != nil {
		return block.Handle{}, err
	}
	tb.offset += uint64(n)

	return handle, nil
}

// Finish flushes any pending data, writes the index block and footer, and
// marks the builder as done. The Builder must not be used afterward.
func (tb *Builder) Finish() error {
	if tb.finished {
		return errors.New("table: Finish called twice")
	}
	if tb.err != nil {
		return tb.err
	}
	tb.finished = true

	if err := tb.flushDataBlock(); err != nil {
		tb.err = err
		return err
	}

	if tb.pendingIndexEntry {
		// No next key follows the last block: the last key itself is a
		// valid (if not minimal) separator.
		tb.indexBlock.Add(tb.lastKey, tb.pendingHandle.EncodeToSlice())
		tb.pendingIndexEntry = false
	}

	indexContents := tb.indexBlock.Finish()
	indexHandle, err := tb.writeBlockWithTrailer(indexContents)
	if err != nil {
		tb.err = err
		return err
	}

	footer := block.Footer{IndexHandle: indexHandle}
	if _, err := tb.writer.Write(footer.EncodeTo(nil)); err != nil {
		tb.err = err
		return err
	}
	tb.offset += block.FooterSize

	return nil
}

// NumEntries returns the number of key-value pairs added so far.
func (tb *Builder) NumEntries() uint64 {
	return tb.numEntries
}

// FileSize returns the number of bytes written so far.
func (tb *Builder) FileSize() uint64 {
	return tb.offset
}

// shortSeparator returns the shortest byte string s such that a < s <= b,
// used as an index-block key between two adjacent data blocks: it extends
// their common prefix by one byte taken from a and incremented, falling back
// to b itself when no shorter string exists.
func shortSeparator(a, b []byte) []byte {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}

	if i >= n || i >= len(a) {
		// a is a prefix of b (or equal/longer): no shorter separator exists.
		return append([]byte(nil), b...)
	}

	if a[i] < 0xff {
		sep := append([]byte(nil), a[:i+1]...)
		sep[i]++
		if lessThan(sep, b) || equal(sep, b) {
			return sep
		}
	}

	return append([]byte(nil), b...)
}

func lessThan(a, b []byte) bool {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
