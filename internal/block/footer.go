package block

import (
	"encoding/binary"
	"fmt"
)

// Magic is the 8-byte little-endian constant that terminates every table
// footer, used to sanity-check that a file is actually one of ours before
// trusting the rest of the footer.
const Magic uint64 = 0xDB4775248B80FB57

// FooterSize is the fixed on-disk size of a table footer: the index block's
// handle, varint-encoded and padded to leave room for the largest possible
// encoding, followed by the magic number.
const FooterSize = 48

// BlockTrailerSize is the size of the physical trailer following every
// (possibly compressed) block: 1 byte compression type + 4 byte checksum.
const BlockTrailerSize = 5

// Footer is the fixed-size record at the end of every table file, pointing
// at the index block.
type Footer struct {
	IndexHandle Handle
}

// EncodeTo appends the encoded footer to dst, padding with zeros so the
// result is exactly FooterSize bytes.
func (f Footer) EncodeTo(dst []byte) []byte {
	start := len(dst)
	dst = f.IndexHandle.EncodeTo(dst)
	for len(dst)-start < FooterSize-8 {
		dst = append(dst, 0)
	}
	dst = dst[:start+FooterSize-8]
	dst = binary.LittleEndian.AppendUint64(dst, Magic)
	return dst
}

// DecodeFooter decodes a Footer from exactly FooterSize trailing bytes.
func DecodeFooter(data []byte) (Footer, error) {
	if len(data) != FooterSize {
		return Footer{}, fmt.Errorf("block: footer must be %d bytes, got %d: %w", FooterSize, len(data), ErrBadBlockFooter)
	}

	magic := binary.LittleEndian.Uint64(data[FooterSize-8:])
	if magic != Magic {
		return Footer{}, fmt.Errorf("block: bad magic number %x: %w", magic, ErrBadBlockFooter)
	}

	handle, _, err := DecodeHandle(data[:FooterSize-8])
	if err != nil {
		return Footer{}, fmt.Errorf("block: decode index handle: %w", err)
	}

	return Footer{IndexHandle: handle}, nil
}
