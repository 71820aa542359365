package wire

import (
	"encoding/binary"
	"hash/crc32"
)

// crcTail computes the CRC-32 tail appended to every packet once a session
// is established: a seeded CRC-32 (IEEE polynomial, §9 open question (b))
// over all preceding bytes, truncated to the low-order `length` bytes.
// `length` is 0-4 (Session.CrcLength); 0 means no tail at all.
func crcTail(data []byte, seed uint32, length uint8) []byte {
	if length == 0 {
		return nil
	}
	full := crc32.Update(seed, crc32.IEEETable, data)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], full)
	return buf[4-int(length):]
}
