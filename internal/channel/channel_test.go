package channel

import (
	"bytes"
	"testing"

	"github.com/duskrelay/soegateway/internal/wire"
)

func newTestChannel(t *testing.T) *Channel {
	t.Helper()
	return New(512, 16)
}

// S1: handshake. A SessionRequest produces exactly one queued SessionReply
// and establishes the session.
func TestScenarioHandshake(t *testing.T) {
	c := newTestChannel(t)
	req := wire.EncodeFrame(wire.SessionRequest(3, 0xCAFEBABE, 512, "test-app"), nil)

	n, errs := c.Receive(req)
	if n != 1 || len(errs) != 0 {
		t.Fatalf("Receive: n=%d errs=%v", n, errs)
	}

	if _, err := c.ProcessNext(1); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	if c.Session() == nil {
		t.Fatal("session not established")
	}
	if c.Session().SessionID != 0xCAFEBABE {
		t.Fatalf("session id = %x", c.Session().SessionID)
	}

	frames := c.SendNext(10)
	if len(frames) != 1 {
		t.Fatalf("expected 1 outbound frame, got %d", len(frames))
	}
	pkts, errs := wire.DecodeDatagram(frames[0], c.Session())
	if len(errs) != 0 || len(pkts) != 1 || pkts[0].Op != wire.OpSessionReply {
		t.Fatalf("expected SessionReply, got %+v errs=%v", pkts, errs)
	}
}

// S2: in-order delivery. Two in-order Data packets in one datagram both
// deliver from a single ProcessNext call.
func TestScenarioInOrderDelivery(t *testing.T) {
	c := newTestChannel(t)
	establish(t, c)

	c.Receive(wire.EncodeFrame(wire.Data(0, []byte("AB")), c.Session()))
	c.Receive(wire.EncodeFrame(wire.Data(1, []byte("CD")), c.Session()))

	delivered, err := c.ProcessNext(2)
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if len(delivered) != 2 || string(delivered[0]) != "AB" || string(delivered[1]) != "CD" {
		t.Fatalf("delivered = %q", delivered)
	}
}

// S3: reorder. Packet 1 arrives before packet 0; nothing delivers until 0
// arrives, at which point both deliver in order.
func TestScenarioReorder(t *testing.T) {
	c := newTestChannel(t)
	establish(t, c)

	c.Receive(wire.EncodeFrame(wire.Data(1, []byte("CD")), c.Session()))
	delivered, err := c.ProcessNext(1)
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if len(delivered) != 0 {
		t.Fatalf("expected nothing delivered yet, got %q", delivered)
	}

	// The re-injected Data(1) joins the front of the receive queue once
	// Data(0) is processed, so the budget must cover both in this call
	// (spec.md §8 scenario S3 literally uses process_next(2)).
	c.Receive(wire.EncodeFrame(wire.Data(0, []byte("AB")), c.Session()))
	delivered, err = c.ProcessNext(2)
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if len(delivered) != 2 || string(delivered[0]) != "AB" || string(delivered[1]) != "CD" {
		t.Fatalf("delivered = %q", delivered)
	}
}

// S4: fragmented send. A payload larger than one datagram splits into a
// DataFragment run and reassembles back into the original bytes on the
// peer end.
func TestScenarioFragmentedSend(t *testing.T) {
	c := newTestChannel(t)
	establish(t, c)

	payload := bytes.Repeat([]byte{0x42}, 1500)
	c.SendData(payload)

	frames := c.SendNext(10)
	if len(frames) < 2 {
		t.Fatalf("expected multiple fragment frames, got %d", len(frames))
	}

	peer := newTestChannel(t)
	peer.sess = c.sess
	for _, f := range frames {
		peer.Receive(f)
	}
	delivered, err := peer.ProcessNext(len(frames))
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if len(delivered) != 1 || !bytes.Equal(delivered[0], payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes", len(delivered[0]))
	}
}

// S5: ack retirement. Acking a sent Data packet marks it acked
// (needs_send=false) so it is not retransmitted.
func TestScenarioAckRetirement(t *testing.T) {
	c := newTestChannel(t)
	establish(t, c)

	c.SendData([]byte("hello"))
	pending := 0
	for _, p := range c.sendQueue {
		if p.needsSend {
			pending++
		}
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending send, got %d", pending)
	}

	c.Receive(wire.EncodeFrame(wire.Ack(0), c.Session()))
	if _, err := c.ProcessNext(1); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	for _, p := range c.sendQueue {
		if p.needsSend {
			t.Fatalf("packet still pending after ack: %+v", p.packet)
		}
	}
}

// S6: sequence wraparound. next_client_sequence crossing 0xFFFF back to
// 0x0000 still delivers in order.
func TestScenarioSequenceWraparound(t *testing.T) {
	c := newTestChannel(t)
	establish(t, c)
	c.nextClientSequence = 0xFFFE

	c.Receive(wire.EncodeFrame(wire.Data(0xFFFE, []byte("A")), c.Session()))
	c.Receive(wire.EncodeFrame(wire.Data(0xFFFF, []byte("B")), c.Session()))
	c.Receive(wire.EncodeFrame(wire.Data(0x0000, []byte("C")), c.Session()))

	delivered, err := c.ProcessNext(3)
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if len(delivered) != 3 || string(delivered[0]) != "A" || string(delivered[1]) != "B" || string(delivered[2]) != "C" {
		t.Fatalf("delivered = %q", delivered)
	}
	if c.nextClientSequence != 1 {
		t.Fatalf("nextClientSequence after wrap = %d", c.nextClientSequence)
	}
}

func TestRecencyWindowBoundary(t *testing.T) {
	c := newTestChannel(t)
	c.recencyLimit = 4
	c.nextClientSequence = 10

	if !c.isRecent(14) {
		t.Error("14 should be within the recency window (upper bound inclusive)")
	}
	if c.isRecent(15) {
		t.Error("15 should be outside the recency window")
	}
	if c.isRecent(10) {
		t.Error("10 equals next_client_sequence and should not be treated as ahead")
	}
}

func TestDisconnectMarksChannel(t *testing.T) {
	c := newTestChannel(t)
	establish(t, c)

	c.Receive(wire.EncodeFrame(wire.Disconnect(c.Session().SessionID, wire.ReasonApplication), c.Session()))
	if _, err := c.ProcessNext(1); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if !c.Disconnected() {
		t.Fatal("expected channel to be marked disconnected")
	}
}

func establish(t *testing.T, c *Channel) {
	t.Helper()
	c.Receive(wire.EncodeFrame(wire.SessionRequest(3, 1, 512, "test-app"), nil))
	if _, err := c.ProcessNext(1); err != nil {
		t.Fatalf("establish: %v", err)
	}
	c.SendNext(10) // drain the SessionReply so later SendNext calls are clean
}
