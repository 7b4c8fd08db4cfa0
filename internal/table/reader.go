package table

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tomato-kv/tomatokv/internal/block"
	"github.com/tomato-kv/tomatokv/internal/cache"
	"github.com/tomato-kv/tomatokv/internal/checksum"
	"github.com/tomato-kv/tomatokv/internal/compression"
)

var (
	// ErrInvalidTable indicates the file is not a valid table file.
	ErrInvalidTable = errors.New("table: invalid table file")

	// ErrChecksumMismatch indicates a block's checksum did not match its
	// stored value.
	ErrChecksumMismatch = errors.New("table: checksum mismatch")
)

// ReadableFile is the file-like object a Reader reads an SSTable from.
type ReadableFile interface {
	io.Closer
	ReadAt(p []byte, off int64) (n int, err error)
	Size() int64
}

// ReaderOptions controls Reader behavior.
type ReaderOptions struct {
	// VerifyChecksums enables checksum verification on every block read.
	VerifyChecksums bool

	// Cache is the shared block cache consulted before reading from disk.
	// May be nil to disable caching.
	Cache cache.Cache

	// FileID identifies this file's blocks in Cache; must be unique per
	// open table.
	FileID uint64

	// ChecksumType is the algorithm blocks in this file were checksummed
	// with when written (the store applies one algorithm to every file it
	// writes, per Options.ChecksumType).
	ChecksumType checksum.Type
}

// maxBlockSize bounds how large a single block handle may claim to be,
// protecting against corrupted handles causing unbounded allocation.
const maxBlockSize = 256 * 1024 * 1024

// Reader reads key-value pairs from an SSTable file.
type Reader struct {
	file    ReadableFile
	size    int64
	options ReaderOptions

	footer     block.Footer
	indexBlock *block.Block

	minKey []byte
	maxKey []byte
}

// Open parses the footer and index block of file and returns a ready Reader.
func Open(file ReadableFile, opts ReaderOptions) (*Reader, error) {
	size := file.Size()
	if size < block.FooterSize {
		return nil, ErrInvalidTable
	}

	r := &Reader{file: file, size: size, options: opts}

	footerBuf := make([]byte, block.FooterSize)
	if _, err := file.ReadAt(footerBuf, size-block.FooterSize); err != nil {
		return nil, fmt.Errorf("table: read footer: %w", err)
	}
	footer, err := block.DecodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}
	r.footer = footer

	indexBlock, err := r.readBlock(footer.IndexHandle)
	if err != nil {
		return nil, fmt.Errorf("table: read index block: %w", err)
	}
	r.indexBlock = indexBlock

	minKey, maxKey, err := boundaryKeys(r)
	if err != nil {
		return nil, fmt.Errorf("table: determine key range: %w", err)
	}
	r.minKey = minKey
	r.maxKey = maxKey

	return r, nil
}

// boundaryKeys reads the first and last entries of the table to determine
// its key range, which the catalog uses to order and search readers.
func boundaryKeys(r *Reader) (minKey, maxKey []byte, err error) {
	it := r.NewIterator()

	it.SeekToFirst()
	if !it.Valid() {
		return nil, nil, it.Error()
	}
	minKey = append([]byte(nil), it.Key()...)

	it2 := r.NewIterator()
	it2.indexIter.SeekToLast()
	it2.loadDataBlock()
	if it2.dataIter != nil {
		it2.dataIter.SeekToLast()
	}
	if !it2.Valid() {
		return nil, nil, it2.Error()
	}
	maxKey = append([]byte(nil), it2.Key()...)

	return minKey, maxKey, nil
}

// MinKey returns the smallest key stored in the table.
func (r *Reader) MinKey() []byte { return r.minKey }

// MaxKey returns the largest key stored in the table.
func (r *Reader) MaxKey() []byte { return r.maxKey }

// Size returns the table file's total size in bytes.
func (r *Reader) Size() int64 { return r.size }

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Footer returns the table's parsed footer.
func (r *Reader) Footer() block.Footer {
	return r.footer
}

// readBlock reads, verifies, decompresses, and parses the block at handle,
// consulting the block cache first when one is configured.
func (r *Reader) readBlock(handle block.Handle) (*block.Block, error) {
	var cacheKey cache.CacheKey
	var cached *cache.Handle
	if r.options.Cache != nil {
		cacheKey = cache.CacheKey{FileID: r.options.FileID, BlockOffset: handle.Offset}
		if cached = r.options.Cache.Lookup(cacheKey); cached != nil {
			defer r.options.Cache.Release(cached)
			return block.NewBlock(cached.Value())
		}
	}

	if handle.Size > maxBlockSize {
		return nil, fmt.Errorf("table: block size %d exceeds maximum: %w", handle.Size, ErrInvalidTable)
	}

	totalSize := int(handle.Size) + block.BlockTrailerSize
	end := handle.Offset + uint64(totalSize)
	if end < handle.Offset || end > uint64(r.size) {
		return nil, fmt.Errorf("table: block at offset %d size %d exceeds file size %d: %w",
			handle.Offset, totalSize, r.size, ErrInvalidTable)
	}

	buf := make([]byte, totalSize)
	n, err := r.file.ReadAt(buf, int64(handle.Offset))
	if err != nil {
		return nil, err
	}
	if n < totalSize {
		return nil, ErrInvalidTable
	}

	payload := buf[:handle.Size]
	ctype := compression.Type(buf[len(buf)-block.BlockTrailerSize])
	storedChecksum := binary.LittleEndian.Uint32(buf[len(buf)-4:])

	if r.options.VerifyChecksums {
		computed := checksum.Compute(r.options.ChecksumType, payload, byte(ctype))
		if computed != storedChecksum {
			return nil, ErrChecksumMismatch
		}
	}

	data := payload
	if ctype != compression.NoCompression {
		decompressed, err := compression.Decompress(ctype, payload)
		if err != nil {
			return nil, fmt.Errorf("table: decompress block: %w", err)
		}
		data = decompressed
	}

	if r.options.Cache != nil {
		h := r.options.Cache.Insert(cacheKey, data, uint64(len(data)))
		defer r.options.Cache.Release(h)
	}

	return block.NewBlock(data)
}

// Get looks up key and returns its value if present.
func (r *Reader) Get(key []byte) (value []byte, found bool, err error) {
	idx := r.indexBlock.NewIterator()
	idx.Seek(key)
	if !idx.Valid() {
		return nil, false, idx.Error()
	}

	handle, _, derr := block.DecodeHandle(idx.Value())
	if derr != nil {
		return nil, false, derr
	}

	dataBlock, rerr := r.readBlock(handle)
	if rerr != nil {
		return nil, false, rerr
	}

	data := dataBlock.NewIterator()
	data.Seek(key)
	if !data.Valid() {
		return nil, false, data.Error()
	}
	if !bytes.Equal(data.Key(), key) {
		return nil, false, nil
	}
	return data.Value(), true, nil
}

// NewIterator returns an iterator over every key-value pair in the table, in
// key order. Used only internally by compaction (the core spec has no
// client-visible range scan).
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{
		reader:    r,
		indexIter: r.indexBlock.NewIterator(),
	}
}

// Iterator walks a table's entries in key order by composing the index
// iterator with an iterator over whichever data block it currently points
// to.
type Iterator struct {
	reader    *Reader
	indexIter *block.Iterator
	dataIter  *block.Iterator
	err       error
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.err == nil && it.dataIter != nil && it.dataIter.Valid()
}

// SeekToFirst positions the iterator at the table's first entry.
func (it *Iterator) SeekToFirst() {
	it.indexIter.SeekToFirst()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToFirst()
	}
}

// Seek positions the iterator at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	it.indexIter.Seek(target)
	if !it.indexIter.Valid() {
		it.dataIter = nil
		return
	}
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.Seek(target)
	}
}

// Next advances to the following entry, moving to the next data block when
// the current one is exhausted.
func (it *Iterator) Next() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Next()
	if !it.dataIter.Valid() {
		it.indexIter.Next()
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToFirst()
		}
	}
}

// Key returns the current entry's key.
func (it *Iterator) Key() []byte {
	if it.dataIter == nil {
		return nil
	}
	return it.dataIter.Key()
}

// Value returns the current entry's value.
func (it *Iterator) Value() []byte {
	if it.dataIter == nil {
		return nil
	}
	return it.dataIter.Value()
}

// Error returns the first error encountered during iteration, if any.
func (it *Iterator) Error() error {
	return it.err
}

func (it *Iterator) loadDataBlock() {
	if !it.indexIter.Valid() {
		it.dataIter = nil
		return
	}

	handle, _, err := block.DecodeHandle(it.indexIter.Value())
	if err != nil {
		it.err = err
		it.dataIter = nil
		return
	}

	dataBlock, err := it.reader.readBlock(handle)
	if err != nil {
		it.err = err
		it.dataIter = nil
		return
	}

	it.dataIter = dataBlock.NewIterator()
}
