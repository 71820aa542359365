package wire

import "github.com/pkg/errors"

// Decode errors, per spec.md §7 ("Decode errors"). These are per-packet:
// callers log and discard the offending packet without tearing down the
// channel.
var (
	ErrTruncatedPacket = errors.New("truncated packet")
	ErrUnknownOpCode   = errors.New("unknown opcode")
	ErrCrc             = errors.New("crc mismatch")
	ErrDecompression   = errors.New("decompression error")
)

// Fatal channel errors, per spec.md §7 ("Fatal channel errors"). The caller
// (internal/channel, internal/demux) tears the channel down on these.
var (
	ErrFragmentOverflow   = errors.New("fragment overflow")
	ErrFragmentInterleave = errors.New("data received mid-fragment")
	ErrReliableOverflow   = errors.New("reliable queue overflow")
)
