package wire

import (
	"bytes"

	"github.com/duskrelay/soegateway/internal/session"
	"github.com/pkg/errors"
)

// encodeFields writes the variant-specific fields of pkt, excluding its
// 2-byte opcode prefix.
func encodeFields(pkt Packet) []byte {
	w := newWriter()
	switch pkt.Op {
	case OpSessionRequest:
		w.writeUint32(pkt.ProtocolVersion)
		w.writeUint32(pkt.SessionID)
		w.writeUint32(pkt.BufferSize)
		w.writeString(pkt.AppProtocol)
	case OpSessionReply:
		w.writeUint32(pkt.SessionID)
		w.writeUint32(pkt.CrcSeed)
		w.writeByte(pkt.CrcLength)
		w.writeBool(pkt.AllowCompression)
		w.writeBool(pkt.UseEncryption)
		w.writeUint32(pkt.BufferSize)
		w.writeUint32(pkt.ProtocolVersion)
	case OpDisconnect:
		w.writeUint32(pkt.SessionID)
		w.writeUint16(uint16(pkt.Reason))
	case OpHeartbeat:
		// no fields
	case OpNetStatusRequest, OpNetStatusReply:
		w.writeBytes(pkt.NetStatusBody)
	case OpData, OpDataFragment:
		w.writeUint16(pkt.Sequence)
		w.writeBytes(pkt.Payload)
	case OpAck, OpAckAll:
		w.writeUint16(pkt.Sequence)
	case OpUnknownSender:
		// no fields
	case OpRemapConnection:
		w.writeUint32(pkt.SessionID)
		w.writeUint32(pkt.CrcSeed)
	case OpMultiPacket:
		w.writeBytes(pkt.MultiBody)
	}
	return w.bytes()
}

// decodeFields parses the variant-specific fields of a packet with the
// given opcode out of body (which excludes the opcode).
func decodeFields(op OpCode, body []byte) (Packet, error) {
	r := newReader(body)
	switch op {
	case OpSessionRequest:
		protocolVersion, err := r.readUint32()
		if err != nil {
			return Packet{}, errors.Wrap(err, "SessionRequest.protocol_version")
		}
		sessionID, err := r.readUint32()
		if err != nil {
			return Packet{}, errors.Wrap(err, "SessionRequest.session_id")
		}
		bufferSize, err := r.readUint32()
		if err != nil {
			return Packet{}, errors.Wrap(err, "SessionRequest.buffer_size")
		}
		appProtocol, err := r.readString()
		if err != nil {
			return Packet{}, errors.Wrap(err, "SessionRequest.app_protocol")
		}
		return SessionRequest(protocolVersion, sessionID, bufferSize, appProtocol), nil

	case OpSessionReply:
		sessionID, err := r.readUint32()
		if err != nil {
			return Packet{}, errors.Wrap(err, "SessionReply.session_id")
		}
		crcSeed, err := r.readUint32()
		if err != nil {
			return Packet{}, errors.Wrap(err, "SessionReply.crc_seed")
		}
		crcLength, err := r.readByte()
		if err != nil {
			return Packet{}, errors.Wrap(err, "SessionReply.crc_length")
		}
		allowCompression, err := r.readBool()
		if err != nil {
			return Packet{}, errors.Wrap(err, "SessionReply.allow_compression")
		}
		useEncryption, err := r.readBool()
		if err != nil {
			return Packet{}, errors.Wrap(err, "SessionReply.use_encryption")
		}
		bufferSize, err := r.readUint32()
		if err != nil {
			return Packet{}, errors.Wrap(err, "SessionReply.buffer_size")
		}
		protocolVersion, err := r.readUint32()
		if err != nil {
			return Packet{}, errors.Wrap(err, "SessionReply.protocol_version")
		}
		return SessionReply(sessionID, crcSeed, crcLength, allowCompression, useEncryption, bufferSize, protocolVersion), nil

	case OpDisconnect:
		sessionID, err := r.readUint32()
		if err != nil {
			return Packet{}, errors.Wrap(err, "Disconnect.session_id")
		}
		reason, err := r.readUint16()
		if err != nil {
			return Packet{}, errors.Wrap(err, "Disconnect.reason")
		}
		return Disconnect(sessionID, DisconnectReason(reason)), nil

	case OpHeartbeat:
		return Heartbeat(), nil

	case OpNetStatusRequest:
		return NetStatusRequest(append([]byte(nil), body...)), nil

	case OpNetStatusReply:
		return NetStatusReply(append([]byte(nil), body...)), nil

	case OpData, OpDataFragment:
		seq, err := r.readUint16()
		if err != nil {
			return Packet{}, errors.Wrap(err, "Data.sequence")
		}
		payload := append([]byte(nil), body[r.offset:]...)
		if op == OpData {
			return Data(seq, payload), nil
		}
		return DataFragment(seq, payload), nil

	case OpAck:
		seq, err := r.readUint16()
		if err != nil {
			return Packet{}, errors.Wrap(err, "Ack.sequence")
		}
		return Ack(seq), nil

	case OpAckAll:
		seq, err := r.readUint16()
		if err != nil {
			return Packet{}, errors.Wrap(err, "AckAll.sequence")
		}
		return AckAll(seq), nil

	case OpUnknownSender:
		return UnknownSender(), nil

	case OpRemapConnection:
		sessionID, err := r.readUint32()
		if err != nil {
			return Packet{}, errors.Wrap(err, "RemapConnection.session_id")
		}
		crcSeed, err := r.readUint32()
		if err != nil {
			return Packet{}, errors.Wrap(err, "RemapConnection.crc_seed")
		}
		return RemapConnection(sessionID, crcSeed), nil

	case OpMultiPacket:
		// MultiPacket framing is expanded by expandMulti before any
		// sub-blob reaches decodeFields; seeing it here means a
		// sub-packet claimed to itself be an undecoded MultiPacket
		// wrapper, which expandMulti already handles recursively. This
		// branch only fires if that recursion is bypassed, which never
		// happens from DecodeDatagram.
		return Packet{}, errors.New("unexpected nested MultiPacket in decodeFields")

	default:
		return Packet{}, errors.Wrapf(ErrUnknownOpCode, "0x%02X", uint16(op))
	}
}

// EncodeVariant renders pkt as its raw opcode+fields bytes, with no
// compression flag and no CRC tail. This is both the top-level payload for
// non-MultiPacket sends and the form each sub-packet takes inside a
// MultiPacket's body.
func EncodeVariant(pkt Packet) []byte {
	w := newWriter()
	w.writeUint16(uint16(pkt.Op))
	w.writeBytes(encodeFields(pkt))
	return w.bytes()
}

// DecodeVariant parses raw opcode+fields bytes (as produced by
// EncodeVariant) into a Packet.
func DecodeVariant(raw []byte) (Packet, error) {
	r := newReader(raw)
	opv, err := r.readUint16()
	if err != nil {
		return Packet{}, errors.Wrap(err, "opcode")
	}
	return decodeFields(OpCode(opv), raw[2:])
}

// expandMulti flattens MultiPacket framing, recursively, into the list of
// non-MultiPacket raw (opcode+fields) blobs it contains. A plain packet
// expands to itself.
func expandMulti(raw []byte) ([][]byte, error) {
	if len(raw) < 2 {
		return nil, errors.Wrap(ErrTruncatedPacket, "opcode")
	}
	op := OpCode(uint16(raw[0])<<8 | uint16(raw[1]))
	if op != OpMultiPacket {
		return [][]byte{raw}, nil
	}

	r := newReader(raw[2:])
	var out [][]byte
	for r.remaining() > 0 {
		n, err := r.readVarLength()
		if err != nil {
			return out, errors.Wrap(err, "MultiPacket sub-length")
		}
		sub, err := r.readBytes(n)
		if err != nil {
			return out, errors.Wrap(err, "MultiPacket sub-packet")
		}
		nested, err := expandMulti(sub)
		out = append(out, nested...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// isHandshake reports whether op is exempt from the compression flag
// (spec.md §4.1: "every non-handshake packet").
func isHandshake(op OpCode) bool {
	return op == OpSessionRequest || op == OpSessionReply
}

// stripFrame verifies and removes the CRC tail, then strips and decompresses
// the optional compression flag, returning the raw opcode+fields bytes
// ready for expandMulti/DecodeVariant.
func stripFrame(data []byte, sess *session.Session) ([]byte, error) {
	crcLen := 0
	var seed uint32
	if sess != nil {
		crcLen = int(sess.CrcLength)
		seed = sess.CrcSeed
	}
	if len(data) < 2+crcLen {
		return nil, errors.Wrap(ErrTruncatedPacket, "frame too short")
	}

	body := data[:len(data)-crcLen]
	tail := data[len(data)-crcLen:]
	if crcLen > 0 {
		want := crcTail(body, seed, uint8(crcLen))
		if !bytes.Equal(want, tail) {
			return nil, errors.Wrap(ErrCrc, "tail mismatch")
		}
	}

	op := OpCode(uint16(body[0])<<8 | uint16(body[1]))
	rest := body[2:]

	compressed := sess != nil && sess.AllowCompression && !isHandshake(op)
	if !compressed {
		return body, nil
	}
	if len(rest) < 1 {
		return nil, errors.Wrap(ErrTruncatedPacket, "compression flag")
	}
	flag := rest[0]
	payload := rest[1:]
	if flag == 1 {
		decompressed, err := inflate(payload)
		if err != nil {
			return nil, errors.Wrap(ErrDecompression, err.Error())
		}
		payload = decompressed
	}
	out := make([]byte, 0, 2+len(payload))
	out = append(out, body[0], body[1])
	out = append(out, payload...)
	return out, nil
}

// EncodeFrame renders pkt as a full outbound datagram segment: opcode,
// optional compression flag, (possibly compressed) fields, and CRC tail.
func EncodeFrame(pkt Packet, sess *session.Session) []byte {
	variant := EncodeVariant(pkt)
	opcodeBytes := variant[:2]
	fields := variant[2:]

	var body []byte
	if sess != nil && sess.AllowCompression && !isHandshake(pkt.Op) {
		flag := byte(0)
		out := fields
		if candidate := deflate(fields); len(candidate) < len(fields) {
			flag = 1
			out = candidate
		}
		body = make([]byte, 0, 2+1+len(out))
		body = append(body, opcodeBytes...)
		body = append(body, flag)
		body = append(body, out...)
	} else {
		body = variant
	}

	crcLen := uint8(0)
	var seed uint32
	if sess != nil {
		crcLen = sess.CrcLength
		seed = sess.CrcSeed
	}
	tail := crcTail(body, seed, crcLen)
	return append(body, tail...)
}

// DecodeDatagram parses one inbound UDP datagram into its flat list of
// packets (a MultiPacket expands to several), per spec.md §4.1. Per-packet
// decode failures are collected rather than aborting the whole datagram
// (spec.md §7 propagation policy): the remaining sub-packets still decode.
func DecodeDatagram(data []byte, sess *session.Session) ([]Packet, []error) {
	raw, err := stripFrame(data, sess)
	if err != nil {
		return nil, []error{err}
	}

	subs, expandErr := expandMulti(raw)
	var errs []error
	if expandErr != nil {
		errs = append(errs, expandErr)
	}

	packets := make([]Packet, 0, len(subs))
	for _, sub := range subs {
		pkt, err := DecodeVariant(sub)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		packets = append(packets, pkt)
	}
	return packets, errs
}

// varLenSize returns the number of bytes the MultiPacket variable-length
// field needs to represent n.
func varLenSize(n int) int {
	if n < 0xFF {
		return 1
	}
	return 3
}

func buildMultiPacket(pkts []Packet) Packet {
	w := newWriter()
	for _, p := range pkts {
		sub := EncodeVariant(p)
		w.writeVarLength(len(sub))
		w.writeBytes(sub)
	}
	return Packet{Op: OpMultiPacket, MultiBody: w.bytes()}
}

// Coalesce groups pending outbound packets into datagram-sized frames,
// folding consecutive small packets into a MultiPacket while
// `multi.encoded_size + next.encoded_size <= bufferSize` (spec.md §4.5).
// Each returned []byte is one ready-to-send UDP datagram.
func Coalesce(pkts []Packet, sess *session.Session, bufferSize uint32) [][]byte {
	overhead := uint32(0)
	if sess != nil {
		overhead += uint32(sess.CrcLength)
		if sess.AllowCompression {
			overhead++
		}
	}
	budget := uint32(0)
	if bufferSize > overhead {
		budget = bufferSize - overhead
	}

	var frames [][]byte
	var group []Packet
	groupSize := 0

	flush := func() {
		if len(group) == 0 {
			return
		}
		if len(group) == 1 {
			frames = append(frames, EncodeFrame(group[0], sess))
		} else {
			frames = append(frames, EncodeFrame(buildMultiPacket(group), sess))
		}
		group = nil
		groupSize = 0
	}

	for _, pkt := range pkts {
		variantSize := len(EncodeVariant(pkt))
		add := variantSize + varLenSize(variantSize)

		var prospective int
		if len(group) == 0 {
			prospective = 2 + add // MultiPacket's own opcode, counted once
		} else {
			prospective = groupSize + add
		}

		if len(group) > 0 && uint32(prospective) > budget {
			flush()
			prospective = 2 + add
		}

		group = append(group, pkt)
		groupSize = prospective
	}
	flush()

	return frames
}
