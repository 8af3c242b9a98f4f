// Package wire defines the fixed frame header shared by every RPC message
// on the wire: a 64-bit nonce used to correlate a response with its
// request, followed by a 32-bit payload length.
//
// Frame format (12 bytes, little-endian):
//
//	0        8           12
//	┌────────┬───────────┬───────────────┐
//	│ nonce  │  bodyLen  │   body ...    │
//	│ uint64 │  uint32   │ bodyLen bytes │
//	└────────┴───────────┴───────────────┘
package wire

import "encoding/binary"

// HeaderSize is the number of bytes a Header occupies on the wire.
const HeaderSize = 12

// MaxRPCLen is the largest payload a single frame may declare. A header
// claiming a longer body is a protocol violation.
//
// It defaults to 1 MiB but is a var, not a const, so config.Load can
// override it from Config.Server.MaxRPCLen at process start. It must not
// be changed once a Transport has been constructed.
var MaxRPCLen uint32 = 1 << 20 // 1 MiB

// Header is the fixed prefix that precedes every frame's payload.
type Header struct {
	Nonce uint64
	Len   uint32
}

// Encode writes h into buf, which must be at least HeaderSize bytes.
func (h Header) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.Nonce)
	binary.LittleEndian.PutUint32(buf[8:12], h.Len)
}

// Decode reads a Header out of buf, which must be at least HeaderSize bytes.
func Decode(buf []byte) Header {
	return Header{
		Nonce: binary.LittleEndian.Uint64(buf[0:8]),
		Len:   binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// Bytes returns the encoded form of h as a new slice.
func (h Header) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	h.Encode(buf)
	return buf
}
