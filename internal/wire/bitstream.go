package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// reader walks a big-endian byte buffer, tracking the read offset. Every
// field on the wire (other than the 24-bit little-endian RakNet-style
// counters the teacher used — this protocol has none) is big-endian, per
// spec.md §4.1.
type reader struct {
	data   []byte
	offset int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.offset
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, errors.Wrapf(ErrTruncatedPacket, "want %d bytes, have %d", n, r.remaining())
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *reader) readByte() (byte, error) {
	b, err := r.readBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readBool() (bool, error) {
	b, err := r.readByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (r *reader) readUint16() (uint16, error) {
	b, err := r.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) readUint32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	b, err := r.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readVarLength reads the MultiPacket/bundle variable length field: one
// byte if < 0xFF, else 0xFF followed by a 2-byte big-endian length.
func (r *reader) readVarLength() (int, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, err
	}
	if b < 0xFF {
		return int(b), nil
	}
	n, err := r.readUint16()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type writer struct {
	data []byte
}

func newWriter() *writer {
	return &writer{data: make([]byte, 0, 32)}
}

func (w *writer) writeByte(b byte) {
	w.data = append(w.data, b)
}

func (w *writer) writeBool(v bool) {
	if v {
		w.writeByte(1)
	} else {
		w.writeByte(0)
	}
}

func (w *writer) writeBytes(b []byte) {
	w.data = append(w.data, b...)
}

func (w *writer) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.data = append(w.data, b[:]...)
}

func (w *writer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.data = append(w.data, b[:]...)
}

func (w *writer) writeString(s string) {
	w.writeUint32(uint32(len(s)))
	w.data = append(w.data, s...)
}

// writeVarLength writes the MultiPacket/bundle variable length field.
func (w *writer) writeVarLength(n int) {
	if n < 0xFF {
		w.writeByte(byte(n))
		return
	}
	w.writeByte(0xFF)
	w.writeUint16(uint16(n))
}

func (w *writer) bytes() []byte {
	return w.data
}
