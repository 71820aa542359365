// Package bundle implements the bundling sub-protocol nested inside Data
// payloads (spec.md §4.4): several application messages concatenated behind
// a sentinel, using the same variable-length framing as MultiPacket.
package bundle

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Sentinel marks a payload as a bundle of multiple application messages
// rather than a single one.
var Sentinel = [2]byte{0x00, 0x19}

// ErrTruncated is returned when a bundle's length-prefixed framing runs
// past the end of the payload.
var ErrTruncated = errors.New("truncated bundle")

// Bundle concatenates messages behind the sentinel, each framed with the
// MultiPacket-style variable length (one byte if <0xFF, else 0xFF plus a
// big-endian uint16). A single message with no sentinel decodes to that one
// message unchanged (Unbundle handles both forms), so Bundle of exactly one
// message still uses the sentinel form — callers that want the bare form
// for a single message should skip Bundle entirely and send the payload as
// Data(seq, payload) directly.
func Bundle(messages [][]byte) []byte {
	out := make([]byte, 0, len(Sentinel)+len(messages)*2)
	out = append(out, Sentinel[:]...)
	for _, m := range messages {
		out = appendVarLength(out, len(m))
		out = append(out, m...)
	}
	return out
}

// Unbundle accepts either form: a sentinel-prefixed bundle of messages, or a
// single bare message with no sentinel.
func Unbundle(payload []byte) ([][]byte, error) {
	if len(payload) < 2 || payload[0] != Sentinel[0] || payload[1] != Sentinel[1] {
		return [][]byte{payload}, nil
	}

	rest := payload[2:]
	var messages [][]byte
	offset := 0
	for offset < len(rest) {
		n, consumed, err := readVarLength(rest[offset:])
		if err != nil {
			return messages, err
		}
		offset += consumed
		if offset+n > len(rest) {
			return messages, ErrTruncated
		}
		messages = append(messages, rest[offset:offset+n])
		offset += n
	}
	return messages, nil
}

func appendVarLength(out []byte, n int) []byte {
	if n < 0xFF {
		return append(out, byte(n))
	}
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(n))
	out = append(out, 0xFF)
	return append(out, buf[:]...)
}

func readVarLength(data []byte) (n int, consumed int, err error) {
	if len(data) < 1 {
		return 0, 0, ErrTruncated
	}
	if data[0] < 0xFF {
		return int(data[0]), 1, nil
	}
	if len(data) < 3 {
		return 0, 0, ErrTruncated
	}
	return int(binary.BigEndian.Uint16(data[1:3])), 3, nil
}
