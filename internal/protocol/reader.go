package protocol

import (
	"encoding/binary"
	"math"
)

// PacketReader decodes network byte order fields from a fixed buffer.
// Reading past the end never touches memory beyond the buffer; it latches the
// overflow flag and returns zero values from then on.
type PacketReader struct {
	data     []byte
	off      int
	overflow bool
}

// NewPacketReader creates a reader over data.
func NewPacketReader(data []byte) *PacketReader {
	return &PacketReader{data: data}
}

// HasOverflow reports whether any read went past the end of the buffer.
func (r *PacketReader) HasOverflow() bool {
	return r.overflow
}

// Remaining returns the number of unread bytes.
func (r *PacketReader) Remaining() int {
	if r.overflow {
		return 0
	}
	return len(r.data) - r.off
}

// Offset returns the current read position.
func (r *PacketReader) Offset() int {
	return r.off
}

// take returns the next n bytes or latches overflow.
func (r *PacketReader) take(n int) []byte {
	if r.overflow || n < 0 || n > len(r.data)-r.off {
		r.overflow = true
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// ReadUint8 reads a single byte.
func (r *PacketReader) ReadUint8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadUint32 reads a big-endian uint32.
func (r *PacketReader) ReadUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// ReadInt32 reads a big-endian int32.
func (r *PacketReader) ReadInt32() int32 {
	return int32(r.ReadUint32())
}

// ReadUint64 reads a big-endian uint64.
func (r *PacketReader) ReadUint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// ReadNetID reads a 64-bit unique id.
func (r *PacketReader) ReadNetID() UniqueNetID {
	return UniqueNetID(r.ReadUint64())
}

// ReadFloat32 reads a big-endian IEEE-754 float32.
func (r *PacketReader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadUint32())
}

// ReadString reads a length-prefixed string.
// Format: [length:4][string bytes...]
func (r *PacketReader) ReadString() string {
	n := r.ReadUint32()
	if r.overflow {
		return ""
	}
	if uint64(n) > uint64(r.Remaining()) {
		r.overflow = true
		return ""
	}
	return string(r.take(int(n)))
}

// ReadBytes copies exactly len(dst) bytes into dst.
func (r *PacketReader) ReadBytes(dst []byte) {
	b := r.take(len(dst))
	if b == nil {
		return
	}
	copy(dst, b)
}
