// Package serversock implements the server side of one accepted
// connection: the in-progress request reader and the outbound reply
// queue. It mirrors the transport's ServerSocket/ServerRpc data model,
// staying independent of any particular event-loop implementation so it
// can be driven by fake readiness events in tests.
package serversock

import (
	"github.com/coldbase/rpctransport/buffer"
	"github.com/coldbase/rpctransport/frame"
	"github.com/coldbase/rpctransport/rpcerr"
	"github.com/coldbase/rpctransport/wire"
)

// ServerRpc is one in-flight request: received from the wire, handed to
// the upper layer, and (via SendReply) queued back out once answered.
type ServerRpc struct {
	Fd             int
	Nonce          uint64
	RequestPayload *buffer.Chained
	ReplyPayload   *buffer.Chained

	socket          *ServerSocket // non-owning; nil once the socket is gone
	message         *frame.Incoming
	bytesLeftToSend int // valid only while queued on socket.waitingToReply
}

// Notifier lets ServerSocket tell its owner to arm or disarm write
// readiness interest, matching the design's "ensure WRITABLE interest is
// armed whenever waiting_to_reply is non-empty" rule.
type Notifier interface {
	ArmWritable()
	DisarmWritable()
}

// ServerSocket holds per-accepted-connection state: the request currently
// being received, and the queue of replies still being written out.
type ServerSocket struct {
	Fd int

	writer   frame.VectoredWriter
	notifier Notifier
	onReady  func(*ServerRpc) // upper layer's serverRecv intake

	current         *ServerRpc
	waitingToReply  []*ServerRpc
	bytesLeftToSend int // trailing bytes of the queue head still to write; <=0 means idle
	closed          bool
}

// New creates a ServerSocket for a freshly accepted connection.
func New(fd int, w frame.VectoredWriter, n Notifier, onReady func(*ServerRpc)) *ServerSocket {
	return &ServerSocket{Fd: fd, writer: w, notifier: n, onReady: onReady}
}

// OnReadable drives the socket's current (or freshly allocated) request
// reader over newly arrived bytes. It may complete zero, one, or several
// requests depending on how much data the dispatcher delivered in one
// event, handing each completed request to onReady in turn.
//
// A non-nil error (always a *rpcerr.ProtocolError here) means the caller
// must close the connection: the first MaxRPCLen bytes of the oversized
// body have been drained and discarded, and any bytes beyond that cap are
// not consumed, so the stream cannot be framed past this point.
func (s *ServerSocket) OnReadable(data []byte) error {
	for len(data) > 0 {
		if s.current == nil {
			payload := buffer.New()
			s.current = &ServerRpc{
				Fd:             s.Fd,
				RequestPayload: payload,
				socket:         s,
				message:        frame.NewServerIncoming(payload),
			}
		}

		consumed, complete := s.current.message.Feed(data)
		data = data[consumed:]
		if !complete {
			return nil
		}

		rpc := s.current
		s.current = nil
		oversized := rpc.message.Oversized

		if oversized {
			return &rpcerr.ProtocolError{Fd: s.Fd, Msg: "request header declared length exceeds MaxRPCLen"}
		}

		rpc.Nonce = rpc.message.Header().Nonce
		rpc.ReplyPayload = buffer.New()
		s.onReady(rpc)
	}
	return nil
}

// SendReply implements the design's sendReply: try an immediate inline
// send, and only fall back to the queue (arming WRITABLE interest) if the
// socket can't take the whole frame right now.
func (rpc *ServerRpc) SendReply() error {
	s := rpc.socket
	if s == nil || s.closed {
		return nil // owning connection is gone; this Rpc is a no-op.
	}

	if len(s.waitingToReply) == 0 && s.bytesLeftToSend <= 0 {
		header := wire.Header{Nonce: rpc.Nonce, Len: uint32(rpc.ReplyPayload.Size())}
		total := frame.TotalLen(rpc.ReplyPayload)
		remaining, err := frame.SendMessage(s.writer, header, rpc.ReplyPayload, total)
		if err != nil {
			return err
		}
		if remaining == 0 {
			return nil // fully written; rpc is done.
		}
		rpc.bytesLeftToSend = remaining
		s.waitingToReply = []*ServerRpc{rpc}
		s.bytesLeftToSend = remaining
		s.notifier.ArmWritable()
		return nil
	}

	rpc.bytesLeftToSend = -1
	s.waitingToReply = append(s.waitingToReply, rpc)
	s.notifier.ArmWritable()
	return nil
}

// OnWritable drains the reply queue: while it's non-empty, resume writing
// the front reply with send_message, stopping as soon as a write would
// block. When the queue empties, WRITABLE interest is disarmed.
func (s *ServerSocket) OnWritable() error {
	for len(s.waitingToReply) > 0 {
		front := s.waitingToReply[0]

		header := wire.Header{Nonce: front.Nonce, Len: uint32(front.ReplyPayload.Size())}
		remaining, err := frame.SendMessage(s.writer, header, front.ReplyPayload, s.bytesLeftToSend)
		if err != nil {
			return err
		}
		if remaining != 0 {
			s.bytesLeftToSend = remaining
			front.bytesLeftToSend = remaining
			return nil
		}

		s.waitingToReply = s.waitingToReply[1:]
		front.socket = nil
		if len(s.waitingToReply) > 0 {
			s.bytesLeftToSend = frame.TotalLen(s.waitingToReply[0].ReplyPayload)
		} else {
			s.bytesLeftToSend = 0
		}
	}
	s.notifier.DisarmWritable()
	return nil
}

// Close tears the socket down: any request in progress is abandoned, and
// any queued replies become unsendable (their owning socket reference is
// cleared so a late SendReply/OnWritable call is a safe no-op).
func (s *ServerSocket) Close() {
	s.closed = true
	s.current = nil
	for _, rpc := range s.waitingToReply {
		rpc.socket = nil
	}
	s.waitingToReply = nil
}
