// Package fragment implements the fragmentation/reassembly sub-protocol
// nested inside the sequencing protocol (spec.md §4.2, §4.3): splitting an
// oversized outbound payload into DataFragment chunks, and reassembling an
// inbound DataFragment run back into one logical payload.
package fragment

import (
	"encoding/binary"

	"github.com/duskrelay/soegateway/internal/wire"
)

// Part is one outbound wire chunk produced by Split: either a single Data
// payload (Fragment == false) or one DataFragment chunk in a run.
type Part struct {
	Fragment bool
	Payload  []byte
}

// Split divides an outbound application payload into wire-sized parts,
// given the negotiated buffer size and the fixed per-packet envelope
// overhead (opcode + sequence + CRC + optional compression flag +
// multi-packet header byte, spec.md §4.3). If the payload already fits
// within one envelope it is returned as a single non-fragment Part.
func Split(payload []byte, bufferSize uint32, overhead int) []Part {
	maxSingle := int(bufferSize) - overhead
	if len(payload) <= maxSingle {
		return []Part{{Fragment: false, Payload: payload}}
	}

	firstCap := int(bufferSize) - overhead - 4
	restCap := int(bufferSize) - overhead
	if firstCap <= 0 {
		firstCap = 1
	}
	if restCap <= 0 {
		restCap = 1
	}

	total := len(payload)
	k0 := firstCap
	if k0 > total {
		k0 = total
	}

	first := make([]byte, 0, 4+k0)
	var totalBytes [4]byte
	binary.BigEndian.PutUint32(totalBytes[:], uint32(total))
	first = append(first, totalBytes[:]...)
	first = append(first, payload[:k0]...)

	parts := []Part{{Fragment: true, Payload: first}}

	offset := k0
	for offset < len(payload) {
		end := offset + restCap
		if end > len(payload) {
			end = len(payload)
		}
		parts = append(parts, Part{Fragment: true, Payload: append([]byte(nil), payload[offset:end]...)})
		offset = end
	}
	return parts
}

// fragmentState mirrors spec.md §3's FragmentState: a growing buffer with a
// known total size, present iff a DataFragment run is in progress.
type fragmentState struct {
	totalSize uint32
	collected []byte
}

// Reassembler accumulates an inbound DataFragment run into a single logical
// payload (spec.md §4.2). It is not safe for concurrent use; callers (the
// Channel) already serialize access.
type Reassembler struct {
	state *fragmentState
}

// InProgress reports whether a fragment run is in progress (spec.md
// invariant 3).
func (r *Reassembler) InProgress() bool {
	return r.state != nil
}

// Add feeds one sequenced, in-order packet (already stripped of its
// sequence number by the caller) to the reassembler. isFragment distinguishes
// DataFragment from Data. It returns the completed payload once the run's
// total size is reached, or nil if more fragments are still expected.
//
// A Data packet arriving while a fragment run is in progress is fatal
// (wire.ErrFragmentInterleave). A fragment run whose accumulated size
// exceeds its declared total is fatal (wire.ErrFragmentOverflow).
func (r *Reassembler) Add(isFragment bool, payload []byte) ([]byte, error) {
	if !isFragment {
		if r.state != nil {
			return nil, wire.ErrFragmentInterleave
		}
		return payload, nil
	}

	if r.state == nil {
		if len(payload) < 4 {
			return nil, wire.ErrTruncatedPacket
		}
		r.state = &fragmentState{
			totalSize: binary.BigEndian.Uint32(payload[:4]),
			collected: append([]byte(nil), payload[4:]...),
		}
	} else {
		r.state.collected = append(r.state.collected, payload...)
	}

	switch {
	case uint32(len(r.state.collected)) > r.state.totalSize:
		r.state = nil
		return nil, wire.ErrFragmentOverflow
	case uint32(len(r.state.collected)) == r.state.totalSize:
		out := r.state.collected
		r.state = nil
		return out, nil
	default:
		return nil, nil
	}
}
