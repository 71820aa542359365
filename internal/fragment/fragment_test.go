package fragment

import (
	"bytes"
	"testing"

	"github.com/duskrelay/soegateway/internal/wire"
)

const testOverhead = 8 // opcode(2) + sequence(2) + multi-packet header(1) + crc(3), as a Channel would compute it

func TestSplitFitsInSinglePacket(t *testing.T) {
	payload := []byte("small payload")
	parts := Split(payload, 512, testOverhead)
	if len(parts) != 1 || parts[0].Fragment {
		t.Fatalf("expected a single non-fragment part, got %+v", parts)
	}
	if !bytes.Equal(parts[0].Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestSplitAndReassembleRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0x7A}, 2000)
	parts := Split(payload, 256, testOverhead)
	if len(parts) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(parts))
	}
	for _, p := range parts {
		if !p.Fragment {
			t.Fatalf("expected every part to be a fragment")
		}
	}

	var r Reassembler
	var out []byte
	for i, p := range parts {
		completed, err := r.Add(true, p.Payload)
		if err != nil {
			t.Fatalf("Add part %d: %v", i, err)
		}
		if completed != nil {
			out = completed
		}
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("reassembled %d bytes, want %d", len(out), len(payload))
	}
}

func TestSplitExactBoundaryFit(t *testing.T) {
	bufferSize := uint32(100)
	maxSingle := int(bufferSize) - testOverhead
	payload := bytes.Repeat([]byte{0x01}, maxSingle)

	parts := Split(payload, bufferSize, testOverhead)
	if len(parts) != 1 || parts[0].Fragment {
		t.Fatalf("payload exactly at the single-packet limit should not fragment, got %+v", parts)
	}

	over := Split(append(payload, 0x02), bufferSize, testOverhead)
	if len(over) < 2 {
		t.Fatalf("one byte over the limit should fragment, got %d parts", len(over))
	}
}

func TestReassemblerRejectsDataMidFragment(t *testing.T) {
	var r Reassembler
	if _, err := r.Add(true, append([]byte{0, 0, 0, 10}, []byte("abc")...)); err != nil {
		t.Fatalf("first fragment: %v", err)
	}
	if !r.InProgress() {
		t.Fatal("expected a fragment run in progress")
	}
	if _, err := r.Add(false, []byte("oops")); err != wire.ErrFragmentInterleave {
		t.Fatalf("expected ErrFragmentInterleave, got %v", err)
	}
}

func TestReassemblerRejectsOverflow(t *testing.T) {
	var r Reassembler
	if _, err := r.Add(true, append([]byte{0, 0, 0, 3}, []byte("ab")...)); err != nil {
		t.Fatalf("first fragment: %v", err)
	}
	if _, err := r.Add(true, []byte("too much data")); err != wire.ErrFragmentOverflow {
		t.Fatalf("expected ErrFragmentOverflow, got %v", err)
	}
	if r.InProgress() {
		t.Fatal("overflow should reset the fragment state")
	}
}

func TestDataWithNoFragmentInProgressPassesThrough(t *testing.T) {
	var r Reassembler
	got, err := r.Add(false, []byte("plain data"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if string(got) != "plain data" {
		t.Fatalf("got %q", got)
	}
	if r.InProgress() {
		t.Fatal("a plain Data packet should never start a fragment run")
	}
}
