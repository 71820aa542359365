// Package channel implements the per-peer Channel state machine: the
// receive path (sequencing, reorder window, ack bookkeeping, fragment
// reassembly, bundling) and the send path (fragmenting, queuing, and
// coalescing outbound packets). A Channel is not safe for concurrent use;
// the demultiplexer serializes access per peer (spec.md §5).
package channel

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/duskrelay/soegateway/internal/bundle"
	"github.com/duskrelay/soegateway/internal/fragment"
	"github.com/duskrelay/soegateway/internal/session"
	"github.com/duskrelay/soegateway/internal/wire"
	"github.com/pkg/errors"
)

// Negotiated handshake constants the original source hard-codes rather than
// deriving from the client's request (spec.md §9 / SPEC_FULL.md supplemented
// features). Not configurable: a client asking for a different buffer size
// or protocol version is simply told these values back.
const (
	negotiatedProtocolVersion uint32 = 3
	negotiatedBufferSize      uint32 = 512
	negotiatedCrcLength       uint8  = 3
)

// pendingPacket is one entry in the send queue: a built packet plus whether
// it is still owed a transmission (spec.md §3/§4.5). Sequenced packets stay
// needs_send=true until acked; non-sequenced packets (Ack, Heartbeat, ...)
// are one-shot and flip to false as soon as they are handed to send_next.
type pendingPacket struct {
	needsSend bool
	packet    wire.Packet
}

// Channel is one peer's reliable-datagram state machine (spec.md §3).
type Channel struct {
	sess         *session.Session
	bufferSize   uint32
	recencyLimit uint16

	reassembler fragment.Reassembler

	receiveQueue     packetQueue
	reorderedPackets map[uint16]wire.Packet

	sendQueue []*pendingPacket

	nextClientSequence uint16
	nextServerSequence uint16
	lastClientAck      uint16
	lastServerAck      uint16

	lastActivity time.Time
	disconnected bool
}

// New creates a Channel with no session yet established. initialBufferSize
// is the datagram size ceiling used until a SessionRequest negotiates one
// (in practice the hard-coded 512 below, once a session exists);
// recencyLimit bounds the reorder window (spec.md §3).
func New(initialBufferSize uint32, recencyLimit uint16) *Channel {
	return &Channel{
		bufferSize:       initialBufferSize,
		recencyLimit:     recencyLimit,
		reorderedPackets: make(map[uint16]wire.Packet),
		lastActivity:     time.Now(),
	}
}

// Session returns the negotiated session parameters, or nil before a
// SessionRequest has been processed.
func (c *Channel) Session() *session.Session {
	return c.sess
}

// Disconnected reports whether this channel has seen a fatal error or a
// Disconnect packet and should be torn down by its owner.
func (c *Channel) Disconnected() bool {
	return c.disconnected
}

// LastActivity is the time of the most recent Receive call, used by the
// demultiplexer's idle sweep (SPEC_FULL.md supplemented features).
func (c *Channel) LastActivity() time.Time {
	return c.lastActivity
}

// Receive decodes one inbound UDP datagram and appends its constituent
// packets (a MultiPacket expands to several) to the receive queue. It
// returns the number of packets queued and any per-packet decode errors,
// which are not fatal (spec.md §7): the caller logs them and continues.
func (c *Channel) Receive(data []byte) (int, []error) {
	c.lastActivity = time.Now()
	packets, errs := wire.DecodeDatagram(data, c.sess)
	queued := 0
	for _, pkt := range packets {
		if pkt.Op.RequiresSession() && c.sess == nil {
			continue
		}
		c.receiveQueue.PushBack(pkt)
		queued++
	}
	return queued, errs
}

// isRecent reports whether sequence s falls in the half-open recency
// window (next_client_sequence, next_client_sequence + recency_limit],
// with 16-bit wraparound (spec.md §3 "save_for_reorder").
func (c *Channel) isRecent(s uint16) bool {
	n := c.nextClientSequence
	max := n + c.recencyLimit
	if max > n {
		return s > n && s <= max
	}
	return s > n || s <= max
}

// shouldAck is the wrap-safe acceptance predicate shared by process_ack and
// process_ack_all, parameterized by the upper bound each uses (spec.md §9 /
// SUPPLEMENTED FEATURES: process_ack uses next_server_sequence-1, while
// process_ack_all uses the acked sequence itself).
func (c *Channel) shouldAck(max, pending uint16) bool {
	min := c.nextServerSequence - c.recencyLimit
	if min < max {
		return min <= pending && pending <= max
	}
	return min <= pending || pending <= max
}

// ProcessNext dequeues up to maxCount packets from the receive queue,
// advances sequencing/ack state, reassembles fragments, unbundles completed
// Data payloads, and runs intra-protocol handling (spec.md §4.5). It
// returns the application payloads ready for delivery. A non-nil error is
// fatal (fragment overflow, interleave, or a first fragment too short to
// carry its total size); the caller must disconnect the channel.
func (c *Channel) ProcessNext(maxCount int) ([][]byte, error) {
	needsNewAck := false
	var delivered [][]byte

	for i := 0; i < maxCount; i++ {
		pkt, ok := c.receiveQueue.PopFront()
		if !ok {
			break
		}

		if seq, hasSeq := pkt.SequenceNumber(); hasSeq {
			if seq != c.nextClientSequence {
				if c.isRecent(seq) {
					if _, exists := c.reorderedPackets[seq]; !exists {
						c.reorderedPackets[seq] = pkt
					}
				}
				c.queueAck(seq)
				continue
			}

			c.lastServerAck = seq
			c.nextClientSequence++
			needsNewAck = true

			if next, ok := c.reorderedPackets[c.nextClientSequence]; ok {
				delete(c.reorderedPackets, c.nextClientSequence)
				c.receiveQueue.PushFront(next)
			}
		}

		switch pkt.Op {
		case wire.OpData, wire.OpDataFragment:
			payload, err := c.reassembler.Add(pkt.Op == wire.OpDataFragment, pkt.Payload)
			if err != nil {
				c.disconnected = true
				return delivered, err
			}
			if payload != nil {
				messages, err := bundle.Unbundle(payload)
				if err != nil {
					continue
				}
				delivered = append(delivered, messages...)
			}
		default:
			c.processPacket(pkt)
		}
	}

	if needsNewAck {
		c.queueAckAll(c.lastServerAck)
	}

	return delivered, nil
}

// processPacket runs intra-protocol handling for non-Data packet variants
// (spec.md §4.5 "process_packet"). Data/DataFragment never reach here: they
// are handled by the reassembly branch in ProcessNext.
func (c *Channel) processPacket(pkt wire.Packet) {
	switch pkt.Op {
	case wire.OpSessionRequest:
		c.processSessionRequest(pkt)
	case wire.OpHeartbeat:
		c.processHeartbeat()
	case wire.OpAck:
		c.processAck(pkt.Sequence)
	case wire.OpAckAll:
		c.processAckAll(pkt.Sequence)
	case wire.OpDisconnect:
		c.disconnected = true
	default:
		// NetStatusRequest/Reply, UnknownSender, RemapConnection: no
		// internal Channel state change (spec.md §9(c)/(d)).
	}
}

func (c *Channel) processSessionRequest(pkt wire.Packet) {
	seed, err := randomSeed()
	if err != nil {
		seed = 0
	}
	c.sess = &session.Session{
		SessionID: pkt.SessionID,
		CrcLength: negotiatedCrcLength,
		CrcSeed:   seed,
	}
	c.bufferSize = negotiatedBufferSize
	c.enqueueOneShot(wire.SessionReply(
		pkt.SessionID,
		seed,
		negotiatedCrcLength,
		c.sess.AllowCompression,
		c.sess.UseEncryption,
		negotiatedBufferSize,
		negotiatedProtocolVersion,
	))
}

func (c *Channel) processHeartbeat() {
	c.enqueueOneShot(wire.Heartbeat())
}

// processAck retires the single sent packet acked by sequence s, if s falls
// within [next_server_sequence - recency_limit, next_server_sequence - 1].
func (c *Channel) processAck(s uint16) {
	upper := c.nextServerSequence - 1
	if !c.shouldAck(upper, s) {
		return
	}
	for _, p := range c.sendQueue {
		if seq, ok := p.packet.SequenceNumber(); ok && seq == s {
			p.needsSend = false
			return
		}
	}
}

// processAckAll retires every sent packet whose sequence falls within
// [next_server_sequence - recency_limit, s], with 16-bit wraparound.
func (c *Channel) processAckAll(s uint16) {
	if !c.shouldAck(s, s) {
		return
	}
	for _, p := range c.sendQueue {
		seq, ok := p.packet.SequenceNumber()
		if !ok {
			continue
		}
		if c.shouldAck(s, seq) {
			p.needsSend = false
		}
	}
}

func (c *Channel) queueAck(seq uint16) {
	c.enqueueOneShot(wire.Ack(seq))
}

func (c *Channel) queueAckAll(seq uint16) {
	c.enqueueOneShot(wire.AckAll(seq))
}

// enqueueOneShot appends a non-sequenced packet to the send queue, ready
// for exactly one transmission by SendNext.
func (c *Channel) enqueueOneShot(pkt wire.Packet) {
	c.sendQueue = append(c.sendQueue, &pendingPacket{needsSend: true, packet: pkt})
}

// SendData fragments payload per the negotiated buffer size and enqueues
// the resulting Data/DataFragment packets for delivery (spec.md §4.3,
// §4.5's send_data). Fragments stay in the send queue, needs_send=true,
// until acked.
func (c *Channel) SendData(payload []byte) {
	overhead := c.envelopeOverhead()
	for _, part := range fragment.Split(payload, c.bufferSize, overhead) {
		seq := c.nextServerSequence
		c.nextServerSequence++

		var pkt wire.Packet
		if part.Fragment {
			pkt = wire.DataFragment(seq, part.Payload)
		} else {
			pkt = wire.Data(seq, part.Payload)
		}
		c.sendQueue = append(c.sendQueue, &pendingPacket{needsSend: true, packet: pkt})
	}
}

// SendBundle bundles several application messages into one payload
// (spec.md §4.4) before handing it to SendData.
func (c *Channel) SendBundle(messages [][]byte) {
	c.SendData(bundle.Bundle(messages))
}

// envelopeOverhead is the fixed per-packet framing cost that bounds how
// much application payload fits in one datagram (spec.md §4.3): opcode,
// sequence number, multi-packet header byte, CRC tail, and (if negotiated)
// the compression flag.
func (c *Channel) envelopeOverhead() int {
	overhead := 2 + 2 + 1 // opcode + sequence + multi-packet header byte
	if c.sess != nil {
		overhead += int(c.sess.CrcLength)
		if c.sess.AllowCompression {
			overhead++
		}
	}
	return overhead
}

// SendNext drops acked entries, takes up to maxCount packets from the
// front of the send queue, and coalesces them into ready-to-send datagram
// frames (spec.md §4.5's send_next, §4.1's MultiPacket coalescing).
// Non-sequenced packets are marked sent (needs_send=false) as soon as they
// are included; sequenced packets stay pending until acked.
func (c *Channel) SendNext(maxCount int) [][]byte {
	live := c.sendQueue[:0]
	for _, p := range c.sendQueue {
		if p.needsSend {
			live = append(live, p)
		}
	}
	c.sendQueue = live

	var toSend []wire.Packet
	for i := 0; i < len(c.sendQueue) && i < maxCount; i++ {
		p := c.sendQueue[i]
		toSend = append(toSend, p.packet)
		if _, hasSeq := p.packet.SequenceNumber(); !hasSeq {
			p.needsSend = false
		}
	}

	return wire.Coalesce(toSend, c.sess, c.bufferSize)
}

// Disconnect marks the channel for teardown and builds the outbound
// Disconnect frame the caller should send before dropping it.
func (c *Channel) Disconnect(reason wire.DisconnectReason) []byte {
	c.disconnected = true
	sessionID := uint32(0)
	if c.sess != nil {
		sessionID = c.sess.SessionID
	}
	return wire.EncodeFrame(wire.Disconnect(sessionID, reason), c.sess)
}

func randomSeed() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, errors.Wrap(err, "crc seed")
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
