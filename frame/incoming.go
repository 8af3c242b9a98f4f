// Package frame implements the wire framing state machine described in the
// transport's design: an incremental reader that reconstructs one message
// (header + payload) from byte chunks delivered across many readiness
// events, and an outbound send routine that writes a frame with resumption
// across partial writes.
//
// Both pieces are deliberately gnet-agnostic: they operate on plain byte
// slices and a small writer interface, so the header/body counters and
// partial-write bookkeeping can be exercised in tests without a real
// socket. The transport package wires them to gnet's OnTraffic/Writev.
package frame

import (
	"github.com/coldbase/rpctransport/wire"
)

// Sink receives body bytes as they arrive. buffer.Chained satisfies this.
type Sink interface {
	Append(p []byte)
}

// Resolver maps a header's nonce to the Sink that should receive the
// message body, or reports a miss (nonce not currently outstanding). Used
// only on the client side, where the reader can't know the destination
// buffer until the header (and its nonce) has arrived.
type Resolver func(nonce uint64) (Sink, bool)

// Incoming reconstructs one RPC message from a stream of byte chunks.
//
// headerReceived == HeaderSize iff the header has been fully parsed;
// bytes after that are counted in bodyReceived. A message
// is complete iff both counters have reached their targets.
type Incoming struct {
	headerBuf       [wire.HeaderSize]byte
	headerReceived  int
	header          wire.Header
	bodyReceived    uint32
	messageLength   uint32
	sink            Sink
	resolve         Resolver
	headerDone      bool
	Oversized       bool // set when header.Len > MaxRPCLen; caller must close after Complete
	UnsolicitedMiss bool // set when a client-side nonce resolves to nothing
}

// NewServerIncoming returns a reader whose sink is already known: the
// server always has a fresh payload buffer waiting for the next request on
// a connection.
func NewServerIncoming(sink Sink) *Incoming {
	return &Incoming{sink: sink}
}

// NewClientIncoming returns a reader that resolves its sink from the
// header's nonce once the header has arrived, via resolve.
func NewClientIncoming(resolve Resolver) *Incoming {
	return &Incoming{resolve: resolve}
}

// Reset reinitializes the reader to accept a new message, keeping the
// configured resolver (used by ClientSession, which owns a single reusable
// Incoming across many responses).
func (m *Incoming) Reset() {
	*m = Incoming{resolve: m.resolve}
}

// Header returns the parsed header. Only meaningful once the header is
// complete (see HeaderComplete).
func (m *Incoming) Header() wire.Header { return m.header }

// HeaderComplete reports whether the 12-byte header has been fully parsed.
func (m *Incoming) HeaderComplete() bool { return m.headerReceived == wire.HeaderSize }

// Feed advances the reader using bytes already available in data (as
// delivered by the dispatcher for one readiness event). It returns the
// number of bytes consumed and whether the message is now complete.
//
// Feed never consumes more than one message's worth of bytes: once it
// returns complete, any remaining bytes in data belong to the next
// message and must be fed to a fresh (or Reset) Incoming.
func (m *Incoming) Feed(data []byte) (consumed int, complete bool) {
	if !m.headerDone {
		n := copy(m.headerBuf[m.headerReceived:], data)
		m.headerReceived += n
		consumed += n
		if m.headerReceived < wire.HeaderSize {
			return consumed, false
		}
		m.headerDone = true
		m.header = wire.Decode(m.headerBuf[:])
		m.resolveSink()
	}

	if m.bodyReceived < m.messageLength {
		avail := data[consumed:]
		need := m.messageLength - m.bodyReceived
		n := need
		if uint32(len(avail)) < n {
			n = uint32(len(avail))
		}
		if n > 0 {
			chunk := avail[:n]
			if m.sink != nil {
				m.sink.Append(chunk)
			}
			consumed += int(n)
			m.bodyReceived += n
		}
		if m.bodyReceived < m.messageLength {
			return consumed, false
		}
	}

	return consumed, true
}

// resolveSink is called exactly once, right after the header completes. It
// caps an oversized declared length at MaxRPCLen (still draining that many
// bytes so framing survives long enough to close cleanly) and, on the
// client side, looks up the waiting caller by nonce.
func (m *Incoming) resolveSink() {
	if m.header.Len > wire.MaxRPCLen {
		m.Oversized = true
		m.messageLength = wire.MaxRPCLen
		m.sink = nil
		return
	}

	m.messageLength = m.header.Len

	if m.resolve != nil {
		sink, ok := m.resolve(m.header.Nonce)
		if !ok {
			m.UnsolicitedMiss = true
			m.sink = nil
			return
		}
		m.sink = sink
	}
}
