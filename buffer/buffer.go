// Package buffer implements the discontiguous byte container that carries
// RPC payloads through the transport core. The core never copies a payload
// into one contiguous block except at the wire boundary (framing/encode),
// matching the zero-copy-friendly Buffer contract this package stands in
// for.
package buffer

// Chunk is one contiguous piece of a Chained buffer.
type Chunk = []byte

// Chained is a discontiguous byte container: a sequence of independently
// allocated chunks that together represent one logical byte stream. It is
// the concrete stand-in for the external Buffer collaborator described in
// the transport's data model.
type Chained struct {
	chunks []Chunk
	size   int
}

// New returns an empty Chained buffer.
func New() *Chained {
	return &Chained{}
}

// NewFromBytes wraps a single byte slice as a one-chunk Chained buffer.
func NewFromBytes(b []byte) *Chained {
	if len(b) == 0 {
		return New()
	}
	return &Chained{chunks: []Chunk{b}, size: len(b)}
}

// Size returns the total number of bytes across all chunks.
func (b *Chained) Size() int {
	return b.size
}

// Append copies src into a new chunk at the end of the buffer.
func (b *Chained) Append(src []byte) {
	if len(src) == 0 {
		return
	}
	cp := make([]byte, len(src))
	copy(cp, src)
	b.chunks = append(b.chunks, cp)
	b.size += len(cp)
}

// Chunks returns the buffer's chunks in order. Callers must not mutate the
// returned slices.
func (b *Chained) Chunks() []Chunk {
	return b.chunks
}

// Bytes flattens the buffer into a single contiguous slice. The frame
// writer does not use it (it writes Chunks directly); it serves the example
// binaries and tests comparing payloads.
func (b *Chained) Bytes() []byte {
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Reset discards all chunks, returning the buffer to empty.
func (b *Chained) Reset() {
	b.chunks = nil
	b.size = 0
}
