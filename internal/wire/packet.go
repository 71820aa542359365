package wire

// Packet is every wire packet variant, represented as one struct tagged by
// Op rather than as an interface hierarchy — the fields a given Op does not
// use are left zero. This mirrors the teacher's own concrete-struct framing
// (EncapsulatedPacket/DataPacket in the RakNet codec this package replaces)
// rather than introducing a sum-type-via-interface abstraction spec.md
// never asks for.
type Packet struct {
	Op OpCode

	// SessionRequest
	ProtocolVersion uint32
	SessionID       uint32
	BufferSize      uint32
	AppProtocol     string

	// SessionReply (SessionID/BufferSize/ProtocolVersion reused above)
	CrcSeed          uint32
	CrcLength        uint8
	AllowCompression bool
	UseEncryption    bool

	// Disconnect
	Reason DisconnectReason

	// NetStatusRequest / NetStatusReply: opaque, preserved verbatim
	// (spec.md §9(d)).
	NetStatusBody []byte

	// Data / DataFragment
	Sequence uint16
	Payload  []byte

	// Ack / AckAll reuse Sequence above.

	// RemapConnection reuses SessionID and CrcSeed above.

	// MultiPacket: the pre-built, length-prefixed listing of sub-packet
	// bytes (spec.md §4.1). Built by Coalesce; decoding never produces a
	// Packet with this Op set, since expandMulti flattens MultiPacket
	// framing before any sub-blob reaches decodeFields.
	MultiBody []byte
}

// SequenceNumber returns the packet's sequence number, if it has one
// (spec.md §3: only Data and DataFragment carry one).
func (p Packet) SequenceNumber() (uint16, bool) {
	switch p.Op {
	case OpData, OpDataFragment:
		return p.Sequence, true
	default:
		return 0, false
	}
}

// Data builds a Data packet.
func Data(seq uint16, payload []byte) Packet {
	return Packet{Op: OpData, Sequence: seq, Payload: payload}
}

// DataFragment builds a DataFragment packet.
func DataFragment(seq uint16, payload []byte) Packet {
	return Packet{Op: OpDataFragment, Sequence: seq, Payload: payload}
}

// Ack builds an Ack packet.
func Ack(seq uint16) Packet {
	return Packet{Op: OpAck, Sequence: seq}
}

// AckAll builds an AckAll packet.
func AckAll(seq uint16) Packet {
	return Packet{Op: OpAckAll, Sequence: seq}
}

// Heartbeat builds a Heartbeat packet.
func Heartbeat() Packet {
	return Packet{Op: OpHeartbeat}
}

// Disconnect builds a Disconnect packet.
func Disconnect(sessionID uint32, reason DisconnectReason) Packet {
	return Packet{Op: OpDisconnect, SessionID: sessionID, Reason: reason}
}

// SessionRequest builds a SessionRequest packet.
func SessionRequest(protocolVersion, sessionID, bufferSize uint32, appProtocol string) Packet {
	return Packet{
		Op:              OpSessionRequest,
		ProtocolVersion: protocolVersion,
		SessionID:       sessionID,
		BufferSize:      bufferSize,
		AppProtocol:     appProtocol,
	}
}

// SessionReply builds a SessionReply packet.
func SessionReply(sessionID, crcSeed uint32, crcLength uint8, allowCompression, useEncryption bool, bufferSize, protocolVersion uint32) Packet {
	return Packet{
		Op:               OpSessionReply,
		SessionID:        sessionID,
		CrcSeed:          crcSeed,
		CrcLength:        crcLength,
		AllowCompression: allowCompression,
		UseEncryption:    useEncryption,
		BufferSize:       bufferSize,
		ProtocolVersion:  protocolVersion,
	}
}

// RemapConnection builds a RemapConnection packet.
func RemapConnection(sessionID, crcSeed uint32) Packet {
	return Packet{Op: OpRemapConnection, SessionID: sessionID, CrcSeed: crcSeed}
}

// UnknownSender builds an UnknownSender packet.
func UnknownSender() Packet {
	return Packet{Op: OpUnknownSender}
}

// NetStatusRequest builds a NetStatusRequest packet carrying its opaque body.
func NetStatusRequest(body []byte) Packet {
	return Packet{Op: OpNetStatusRequest, NetStatusBody: body}
}

// NetStatusReply builds a NetStatusReply packet carrying its opaque body.
func NetStatusReply(body []byte) Packet {
	return Packet{Op: OpNetStatusReply, NetStatusBody: body}
}
