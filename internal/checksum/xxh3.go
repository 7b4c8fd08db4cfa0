package checksum

import "github.com/zeebo/xxh3"

// XXH3ChecksumWithLastByte computes the XXH3-based block checksum used when
// Options.ChecksumType is TypeXXH3. Like the CRC32C path, it hashes the
// block payload followed by a single trailing byte (the compression type)
// and truncates the 64-bit digest to 32 bits for on-disk storage.
func XXH3ChecksumWithLastByte(data []byte, lastByte byte) uint32 {
	h := xxh3.New()
	_, _ = h.Write(data)
	_, _ = h.Write([]byte{lastByte})
	return uint32(h.Sum64())
}
