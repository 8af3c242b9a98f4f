// Package session implements the client side of one server connection: a
// queue of requests waiting to be sent, the set of requests waiting for a
// response, and the single reader that correlates an arriving response
// with its request by nonce.
package session

import (
	"errors"

	"github.com/coldbase/rpctransport/buffer"
	"github.com/coldbase/rpctransport/frame"
	"github.com/coldbase/rpctransport/rpcerr"
	"github.com/coldbase/rpctransport/wire"
)

// ErrCancelled is the error observed by a ClientRpc whose Cancel was
// called before it completed.
var ErrCancelled = errors.New("session: rpc cancelled")

// Conn is the minimum a dial step must hand back: a vectored writer the
// session can send frames over, and a way to tear it down on failure.
type Conn interface {
	frame.VectoredWriter
	Close() error
}

// Notifier lets ClientSession tell its owner to arm or disarm write
// readiness interest.
type Notifier interface {
	ArmWritable()
	DisarmWritable()
}

// ClientRpc is one pending call: a request buffer being sent and a reply
// buffer being filled. It is linked into exactly one of a session's
// {waitingToSend, waitingForResponse} while live, never both.
type ClientRpc struct {
	Request *buffer.Chained
	Reply   *buffer.Chained
	Nonce   uint64

	sent            bool
	bytesLeftToSend int
	session         *ClientSession
	done            chan struct{}
	err             error
}

// Done returns a channel closed once the RPC completes (successfully or
// with an error).
func (rpc *ClientRpc) Done() <-chan struct{} { return rpc.done }

// Err reports the RPC's outcome. Only meaningful after Done is closed.
func (rpc *ClientRpc) Err() error { return rpc.err }

// Cancel implements cancelCleanup: detach the RPC from whichever list
// holds it. If it was mid-transmission (the front of waitingToSend, with
// some but not all of its request already on the wire) the session must
// close, since the wire is now desynchronized for anyone still reading
// from it.
func (rpc *ClientRpc) Cancel() {
	s := rpc.session
	if s == nil {
		return
	}

	if i := indexOf(s.waitingForResponse, rpc); i >= 0 {
		s.waitingForResponse = removeAt(s.waitingForResponse, i)
		rpc.finish(ErrCancelled)
		return
	}

	if i := indexOf(s.waitingToSend, rpc); i >= 0 {
		desynced := i == 0 && !rpc.sent && s.bytesLeftToSend > 0 &&
			s.bytesLeftToSend < frame.TotalLen(rpc.Request)
		s.waitingToSend = removeAt(s.waitingToSend, i)
		if i == 0 {
			if len(s.waitingToSend) > 0 {
				s.bytesLeftToSend = frame.TotalLen(s.waitingToSend[0].Request)
			} else {
				s.bytesLeftToSend = 0
			}
		}
		rpc.finish(ErrCancelled)
		if desynced {
			s.Fail(&rpcerr.ProtocolError{Msg: "cancelled RPC mid-frame desynchronized the connection"})
		}
		return
	}

	if s.current == rpc {
		s.current = nil
		rpc.finish(ErrCancelled)
		return
	}
}

func (rpc *ClientRpc) finish(err error) {
	select {
	case <-rpc.done:
		// already finished (response arrived concurrently with cancel)
	default:
		rpc.err = err
		close(rpc.done)
	}
}

// ClientSession is a client's stateful handle to one server connection.
type ClientSession struct {
	Address string

	dial func() (Conn, error)
	conn Conn

	notifier Notifier

	serial uint64 // nonce generator; starts at 1

	waitingToSend       []*ClientRpc
	bytesLeftToSend     int
	waitingForResponse  []*ClientRpc
	current             *ClientRpc
	message             *frame.Incoming
	errorInfo           error
}

// New returns a session that lazily dials on the first Send call.
func New(address string, notifier Notifier, dial func() (Conn, error)) *ClientSession {
	return &ClientSession{Address: address, notifier: notifier, dial: dial}
}

// Send queues a request and returns a handle the caller waits on. Mirrors
// clientSend: fails synchronously if the session is already unusable or
// the lazy connect fails; otherwise assigns a nonce, enqueues, and
// attempts to send inline if the queue was empty.
func (s *ClientSession) Send(request, reply *buffer.Chained) (*ClientRpc, error) {
	if s.errorInfo != nil {
		return nil, s.errorInfo
	}

	if s.conn == nil {
		conn, err := s.dial()
		if err != nil {
			connErr := &rpcerr.ConnectError{Address: s.Address, Err: err}
			s.errorInfo = connErr
			return nil, connErr
		}
		s.conn = conn
	}

	s.serial++
	rpc := &ClientRpc{
		Request: request,
		Reply:   reply,
		Nonce:   s.serial,
		session: s,
		done:    make(chan struct{}),
	}

	s.waitingToSend = append(s.waitingToSend, rpc)

	if len(s.waitingToSend) == 1 {
		total := frame.TotalLen(request)
		header := wire.Header{Nonce: rpc.Nonce, Len: uint32(request.Size())}
		remaining, err := frame.SendMessage(s.conn, header, request, total)
		if err != nil {
			s.Fail(&rpcerr.IoError{Err: err})
			return rpc, nil
		}
		if remaining == 0 {
			s.waitingToSend = s.waitingToSend[1:]
			rpc.sent = true
			s.waitingForResponse = append(s.waitingForResponse, rpc)
			s.bytesLeftToSend = 0
		} else {
			rpc.bytesLeftToSend = remaining
			s.bytesLeftToSend = remaining
			s.notifier.ArmWritable()
		}
	}

	return rpc, nil
}

// OnWritable drains waitingToSend in FIFO order, moving each RPC to
// waitingForResponse once its final byte is written.
func (s *ClientSession) OnWritable() error {
	for len(s.waitingToSend) > 0 {
		front := s.waitingToSend[0]
		header := wire.Header{Nonce: front.Nonce, Len: uint32(front.Request.Size())}
		remaining, err := frame.SendMessage(s.conn, header, front.Request, s.bytesLeftToSend)
		if err != nil {
			return err
		}
		if remaining != 0 {
			s.bytesLeftToSend = remaining
			front.bytesLeftToSend = remaining
			return nil
		}

		s.waitingToSend = s.waitingToSend[1:]
		front.sent = true
		s.waitingForResponse = append(s.waitingForResponse, front)

		if len(s.waitingToSend) > 0 {
			s.bytesLeftToSend = frame.TotalLen(s.waitingToSend[0].Request)
		} else {
			s.bytesLeftToSend = 0
		}
	}
	s.notifier.DisarmWritable()
	return nil
}

// OnReadable drives the session's single reusable response reader over
// newly arrived bytes, handling as many complete responses as the chunk
// contains.
func (s *ClientSession) OnReadable(data []byte) error {
	if s.message == nil {
		s.message = frame.NewClientIncoming(s.findRpc)
	}

	for len(data) > 0 {
		consumed, complete := s.message.Feed(data)
		data = data[consumed:]
		if !complete {
			return nil
		}

		oversized := s.message.Oversized
		if s.current != nil {
			s.current.finish(nil)
			s.current = nil
		}

		s.message.Reset()

		if oversized {
			return &rpcerr.ProtocolError{Msg: "response header declared length exceeds MaxRPCLen"}
		}
	}
	return nil
}

// findRpc implements the design's nonce lookup: search waitingForResponse
// linearly, and on a hit detach the RPC and mark it current so the reader
// can fill its reply buffer.
func (s *ClientSession) findRpc(nonce uint64) (frame.Sink, bool) {
	for i, rpc := range s.waitingForResponse {
		if rpc.Nonce == nonce {
			s.waitingForResponse = removeAt(s.waitingForResponse, i)
			s.current = rpc
			return rpc.Reply, true
		}
	}
	return nil, false
}

// Fail marks the session permanently unusable and resolves every
// outstanding RPC (on any list) with err. Idempotent: only the first call
// has effect, matching "once set the session is permanently unusable".
func (s *ClientSession) Fail(err error) {
	if s.errorInfo != nil {
		return
	}
	s.errorInfo = err

	for _, rpc := range s.waitingToSend {
		rpc.finish(err)
	}
	for _, rpc := range s.waitingForResponse {
		rpc.finish(err)
	}
	if s.current != nil {
		s.current.finish(err)
		s.current = nil
	}
	s.waitingToSend = nil
	s.waitingForResponse = nil

	if s.conn != nil {
		s.conn.Close()
	}
}

// Usable reports whether the session can still accept new Send calls.
func (s *ClientSession) Usable() bool { return s.errorInfo == nil }

func indexOf(list []*ClientRpc, target *ClientRpc) int {
	for i, rpc := range list {
		if rpc == target {
			return i
		}
	}
	return -1
}

func removeAt(list []*ClientRpc, i int) []*ClientRpc {
	return append(list[:i], list[i+1:]...)
}
