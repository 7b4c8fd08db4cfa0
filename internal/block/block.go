package block

import (
	"bytes"
	"encoding/binary"

	"github.com/tomato-kv/tomatokv/internal/encoding"
)

// Block is a parsed, immutable view over the bytes produced by a Builder:
// shared-prefix-compressed entries followed by a restart-point array and a
// trailing restart count, both little-endian uint32.
type Block struct {
	data        []byte
	restarts    int // offset of the restart array within data
	numRestarts int
}

// NewBlock parses data (without the block's physical trailer — ctype and
// checksum are stripped by the caller) into a Block. data is not copied; the
// caller must keep it alive for the lifetime of the Block.
func NewBlock(data []byte) (*Block, error) {
	if len(data) < 4 {
		return nil, ErrBadBlock
	}

	numRestarts := binary.LittleEndian.Uint32(data[len(data)-4:])
	if numRestarts == 0 {
		return nil, ErrBadBlock
	}

	restartsSize := int(numRestarts+1) * 4 // +1 for the trailing count word
	if restartsSize > len(data) {
		return nil, ErrBadBlock
	}

	return &Block{
		data:        data,
		restarts:    len(data) - restartsSize,
		numRestarts: int(numRestarts),
	}, nil
}

// Size returns the size of the block's (decompressed) data.
func (b *Block) Size() int {
	return len(b.data)
}

// Data returns the raw block bytes.
func (b *Block) Data() []byte {
	return b.data
}

// GetRestartPoint returns the data offset of the i-th restart point.
func (b *Block) GetRestartPoint(i int) int {
	if i < 0 || i >= b.numRestarts {
		return -1
	}
	offset := b.restarts + i*4
	return int(binary.LittleEndian.Uint32(b.data[offset:]))
}

// Entry is a decoded key-value pair from a block.
type Entry struct {
	Key   []byte
	Value []byte
}

// Iterator walks the entries of a Block in key order, supporting both
// forward and backward traversal and binary-search seeking via restart
// points.
type Iterator struct {
	block       *Block
	data        []byte
	restartsEnd int
	current     int // start offset of the current entry
	nextOffset  int // offset immediately after the current entry
	key         []byte
	value       []byte
	valid       bool
	err         error
}

// NewIterator returns a new Iterator over b, initially positioned before the
// first entry.
func (b *Block) NewIterator() *Iterator {
	return &Iterator{
		block:       b,
		data:        b.data,
		restartsEnd: b.restarts,
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.valid && it.err == nil
}

// Key returns the current entry's key. Only valid when Valid() is true.
func (it *Iterator) Key() []byte {
	return it.key
}

// Value returns the current entry's value. Only valid when Valid() is true.
func (it *Iterator) Value() []byte {
	return it.value
}

// Error returns the first error encountered during iteration, if any.
func (it *Iterator) Error() error {
	return it.err
}

// SeekToFirst positions the iterator at the block's first entry.
func (it *Iterator) SeekToFirst() {
	it.key = it.key[:0]
	it.value = nil
	it.valid = false
	it.current = 0
	it.nextOffset = 0
	it.Next()
}

// SeekToLast positions the iterator at the block's last entry.
func (it *Iterator) SeekToLast() {
	it.seekToRestartPoint(it.block.numRestarts - 1)

	var lastKey, lastValue []byte
	var lastCurrent, lastNextOffset int
	var lastValid bool

	for {
		it.Next()
		if !it.Valid() {
			break
		}
		lastKey = append(lastKey[:0], it.key...)
		lastValue = it.value
		lastCurrent = it.current
		lastNextOffset = it.nextOffset
		lastValid = true
	}

	if lastValid {
		it.key = lastKey
		it.value = lastValue
		it.current = lastCurrent
		it.nextOffset = lastNextOffset
		it.valid = true
	}
}

// Next advances the iterator to the following entry.
func (it *Iterator) Next() {
	if it.err != nil {
		it.valid = false
		return
	}
	if it.nextOffset >= it.restartsEnd {
		it.valid = false
		return
	}
	it.current = it.nextOffset
	it.parseCurrentEntry()
}

// Prev moves the iterator to the entry preceding the current one.
// REQUIRES: Valid()
func (it *Iterator) Prev() {
	if it.err != nil {
		it.valid = false
		return
	}

	original := it.current

	restartIndex := it.findRestartPointBefore(original)
	if it.block.GetRestartPoint(restartIndex) == original && restartIndex > 0 {
		restartIndex--
	}
	it.seekToRestartPoint(restartIndex)

	var prevKey, prevValue []byte
	var prevCurrent, prevNextOffset int
	found := false

	for {
		it.Next()
		if !it.Valid() || it.current >= original {
			break
		}
		prevKey = append(prevKey[:0], it.key...)
		prevValue = it.value
		prevCurrent = it.current
		prevNextOffset = it.nextOffset
		found = true
	}

	if found {
		it.key = prevKey
		it.value = prevValue
		it.current = prevCurrent
		it.nextOffset = prevNextOffset
		it.valid = true
	} else {
		it.valid = false
	}
}

// findRestartPointBefore returns the largest restart index whose offset is
// <= target.
func (it *Iterator) findRestartPointBefore(target int) int {
	left, right := 0, it.block.numRestarts-1
	for left < right {
		mid := (left + right + 1) / 2
		if it.block.GetRestartPoint(mid) <= target {
			left = mid
		} else {
			right = mid - 1
		}
	}
	return left
}

// seekToRestartPoint repositions the iterator at the given restart point
// without parsing an entry yet.
func (it *Iterator) seekToRestartPoint(index int) {
	it.key = it.key[:0]
	it.value = nil
	it.valid = false
	offset := max(it.block.GetRestartPoint(index), 0)
	it.current = offset
	it.nextOffset = offset
}

// parseCurrentEntry decodes the entry at it.current into key/value.
func (it *Iterator) parseCurrentEntry() {
	if it.current >= it.restartsEnd {
		it.valid = false
		return
	}

	data := it.data[it.current:]
	offset := 0

	shared, n1, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err = ErrBadBlock
		it.valid = false
		return
	}
	offset += n1
	data = data[n1:]

	unshared, n2, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err = ErrBadBlock
		it.valid = false
		return
	}
	offset += n2
	data = data[n2:]

	valueLen, n3, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err = ErrBadBlock
		it.valid = false
		return
	}
	offset += n3
	data = data[n3:]

	if int(shared) > len(it.key) || len(data) < int(unshared)+int(valueLen) {
		it.err = ErrBadBlock
		it.valid = false
		return
	}

	it.key = append(it.key[:shared], data[:unshared]...)
	offset += int(unshared)
	data = data[unshared:]

	it.value = data[:valueLen]
	offset += int(valueLen)

	it.nextOffset = it.current + offset
	it.valid = true
}

// Seek positions the iterator at the first entry whose key is >= target,
// using binary search over restart points followed by a linear scan within
// the selected restart range.
func (it *Iterator) Seek(target []byte) {
	left, right := 0, it.block.numRestarts-1

	for left < right {
		mid := (left + right + 1) / 2
		it.seekToRestartPoint(mid)
		it.Next()

		if !it.Valid() || bytes.Compare(it.key, target) > 0 {
			right = mid - 1
		} else {
			left = mid
		}
	}

	it.seekToRestartPoint(left)
	for {
		it.Next()
		if !it.Valid() {
			return
		}
		if bytes.Compare(it.key, target) >= 0 {
			return
		}
	}
}
