package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbase/rpctransport/buffer"
	"github.com/coldbase/rpctransport/wire"
)

type fakeConn struct {
	maxPerCall int
	written    []byte
	closed     bool
}

func (c *fakeConn) WriteV(bufs [][]byte) (int, error) {
	n := 0
	for _, b := range bufs {
		for _, by := range b {
			if c.maxPerCall > 0 && n >= c.maxPerCall {
				return n, nil
			}
			c.written = append(c.written, by)
			n++
		}
	}
	return n, nil
}

func (c *fakeConn) Close() error { c.closed = true; return nil }

type fakeNotifier struct{ armed int }

func (n *fakeNotifier) ArmWritable()    { n.armed++ }
func (n *fakeNotifier) DisarmWritable() { n.armed = 0 }

func encodeFrame(nonce uint64, payload []byte) []byte {
	h := wire.Header{Nonce: nonce, Len: uint32(len(payload))}
	return append(h.Bytes(), payload...)
}

func TestClientSessionSimpleEcho(t *testing.T) {
	conn := &fakeConn{}
	notifier := &fakeNotifier{}
	dialed := 0
	s := New("127.0.0.1:11111", notifier, func() (Conn, error) {
		dialed++
		return conn, nil
	})

	req := buffer.NewFromBytes([]byte{0x41, 0x42, 0x43})
	reply := buffer.New()
	rpc, err := s.Send(req, reply)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rpc.Nonce)
	assert.Equal(t, 1, dialed)

	require.NoError(t, s.OnReadable(encodeFrame(1, []byte{0x41, 0x42, 0x43})))

	<-rpc.Done()
	require.NoError(t, rpc.Err())
	assert.Equal(t, []byte{0x41, 0x42, 0x43}, reply.Bytes())
}

func TestClientSessionPipelinedOutOfOrderResponses(t *testing.T) {
	conn := &fakeConn{}
	notifier := &fakeNotifier{}
	s := New("x", notifier, func() (Conn, error) { return conn, nil })

	replyA, replyB, replyC := buffer.New(), buffer.New(), buffer.New()
	rpcA, err := s.Send(buffer.NewFromBytes([]byte("a")), replyA)
	require.NoError(t, err)
	rpcB, err := s.Send(buffer.NewFromBytes([]byte("bb")), replyB)
	require.NoError(t, err)
	rpcC, err := s.Send(buffer.NewFromBytes([]byte("ccc")), replyC)
	require.NoError(t, err)

	// Server replies out of order: nonce 2, 1, 3.
	data := append(encodeFrame(2, []byte("B")), encodeFrame(1, []byte("A"))...)
	data = append(data, encodeFrame(3, []byte("C"))...)
	require.NoError(t, s.OnReadable(data))

	<-rpcA.Done()
	<-rpcB.Done()
	<-rpcC.Done()
	assert.Equal(t, "A", string(replyA.Bytes()))
	assert.Equal(t, "B", string(replyB.Bytes()))
	assert.Equal(t, "C", string(replyC.Bytes()))
}

func TestClientSessionQueuesWhenWriteBlocks(t *testing.T) {
	conn := &fakeConn{maxPerCall: 3}
	notifier := &fakeNotifier{}
	s := New("x", notifier, func() (Conn, error) { return conn, nil })

	req := buffer.NewFromBytes([]byte("0123456789"))
	reply := buffer.New()
	rpc, err := s.Send(req, reply)
	require.NoError(t, err)

	assert.Equal(t, 1, notifier.armed)
	for s.bytesLeftToSend > 0 {
		require.NoError(t, s.OnWritable())
	}
	assert.Equal(t, 0, notifier.armed)

	full := append(wire.Header{Nonce: rpc.Nonce, Len: uint32(req.Size())}.Bytes(), req.Bytes()...)
	assert.Equal(t, full, conn.written)
}

func TestClientSessionUnsolicitedNonceDiscardedSessionStaysUsable(t *testing.T) {
	conn := &fakeConn{}
	notifier := &fakeNotifier{}
	s := New("x", notifier, func() (Conn, error) { return conn, nil })

	reply := buffer.New()
	rpc, err := s.Send(buffer.NewFromBytes([]byte("req")), reply)
	require.NoError(t, err)

	data := append(encodeFrame(999, []byte("not mine")), encodeFrame(rpc.Nonce, []byte("mine"))...)
	require.NoError(t, s.OnReadable(data))

	<-rpc.Done()
	assert.Equal(t, "mine", string(reply.Bytes()))
	assert.True(t, s.Usable())
}

func TestClientSessionFailResolvesAllPending(t *testing.T) {
	conn := &fakeConn{}
	notifier := &fakeNotifier{}
	s := New("x", notifier, func() (Conn, error) { return conn, nil })

	reply := buffer.New()
	rpc, err := s.Send(buffer.NewFromBytes([]byte("req")), reply)
	require.NoError(t, err)

	boom := errors.New("peer closed")
	s.Fail(boom)

	<-rpc.Done()
	assert.ErrorIs(t, rpc.Err(), boom)
	assert.False(t, s.Usable())
	assert.True(t, conn.closed)

	_, err = s.Send(buffer.New(), buffer.New())
	assert.Error(t, err)
}

func TestClientSessionConnectErrorFailsSynchronously(t *testing.T) {
	notifier := &fakeNotifier{}
	dialErr := errors.New("connection refused")
	s := New("x", notifier, func() (Conn, error) { return nil, dialErr })

	_, err := s.Send(buffer.New(), buffer.New())
	require.Error(t, err)
	assert.False(t, s.Usable())
}

func TestClientRpcCancelDetachesFromWaitingForResponse(t *testing.T) {
	conn := &fakeConn{}
	notifier := &fakeNotifier{}
	s := New("x", notifier, func() (Conn, error) { return conn, nil })

	reply := buffer.New()
	rpc, err := s.Send(buffer.NewFromBytes([]byte("req")), reply)
	require.NoError(t, err)

	rpc.Cancel()
	assert.Equal(t, -1, indexOf(s.waitingForResponse, rpc))

	// A late response for the cancelled nonce is now unsolicited and discarded.
	require.NoError(t, s.OnReadable(encodeFrame(rpc.Nonce, []byte("late"))))
	assert.True(t, s.Usable())
}
