package checksum

import "testing"

func TestMaskRoundTrip(t *testing.T) {
	crc := Value([]byte("hello world"))
	masked := Mask(crc)
	if masked == crc {
		t.Fatalf("Mask should perturb the value")
	}
	if got := Unmask(masked); got != crc {
		t.Fatalf("Unmask(Mask(x)) = %x, want %x", got, crc)
	}
}

func TestComputeDetectsCorruption(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	const lastByte = 0

	for _, typ := range []Type{TypeCRC32C, TypeXXH3} {
		want := Compute(typ, data, lastByte)
		corrupt := append([]byte(nil), data...)
		corrupt[3] ^= 0xFF
		if got := Compute(typ, corrupt, lastByte); got == want {
			t.Fatalf("%s: checksum did not change after corruption", typ)
		}
		if got := Compute(typ, data, lastByte); got != want {
			t.Fatalf("%s: checksum not reproducible", typ)
		}
	}
}
