package wire

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"
)

// Pins the interpretation chosen for §9 open question (b): crc_seed is the
// running CRC-32 register's initial value, not an XOR mask applied
// afterward, and the tail is the low-order N bytes of the big-endian
// 4-byte checksum. Changing this interpretation would silently break wire
// compatibility with any peer sharing the same crc_seed.
func TestCrcTailMatchesSeededIEEEChecksum(t *testing.T) {
	data := []byte("hello")
	seed := uint32(0xDEADBEEF)

	want := crc32.Update(seed, crc32.IEEETable, data)
	var wantBytes [4]byte
	binary.BigEndian.PutUint32(wantBytes[:], want)

	for length := uint8(1); length <= 4; length++ {
		got := crcTail(data, seed, length)
		if !bytes.Equal(got, wantBytes[4-int(length):]) {
			t.Fatalf("length %d: crcTail = %x, want %x", length, got, wantBytes[4-int(length):])
		}
	}
}

func TestCrcTailZeroLengthIsEmpty(t *testing.T) {
	if got := crcTail([]byte("abc"), 0x1234, 0); got != nil {
		t.Fatalf("expected no tail at length 0, got %x", got)
	}
}

func TestCrcTailSeedChangesOutput(t *testing.T) {
	a := crcTail([]byte("same data"), 0, 4)
	b := crcTail([]byte("same data"), 0xDEADBEEF, 4)
	if bytes.Equal(a, b) {
		t.Fatal("different seeds produced the same CRC tail")
	}
}

func TestCrcTailDetectsCorruption(t *testing.T) {
	data := []byte("a packet body")
	seed := uint32(42)
	tail := crcTail(data, seed, 3)

	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xFF
	if bytes.Equal(crcTail(corrupted, seed, 3), tail) {
		t.Fatal("corrupting the body did not change the CRC tail")
	}
}
