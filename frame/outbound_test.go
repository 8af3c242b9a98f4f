package frame

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbase/rpctransport/buffer"
	"github.com/coldbase/rpctransport/wire"
)

// fakeWriter simulates a non-blocking socket: each call to WriteV accepts
// at most maxPerCall bytes (0 meaning no limit), blocks entirely once when
// blockNext is set, and records everything actually written, in order, for
// assertions.
type fakeWriter struct {
	maxPerCall int
	written    []byte
	blockNext  bool
	failNext   error
}

func (f *fakeWriter) WriteV(bufs [][]byte) (int, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return 0, err
	}
	if f.blockNext {
		f.blockNext = false
		return 0, ErrWouldBlock
	}

	n := 0
	for _, b := range bufs {
		for _, c := range b {
			if f.maxPerCall > 0 && n >= f.maxPerCall {
				return n, nil
			}
			f.written = append(f.written, c)
			n++
		}
	}
	return n, nil
}

func TestSendMessageSingleShot(t *testing.T) {
	payload := buffer.NewFromBytes([]byte("hello"))
	header := wire.Header{Nonce: 5, Len: uint32(payload.Size())}
	w := &fakeWriter{}

	remaining, err := SendMessage(w, header, payload, TotalLen(payload))
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	assert.Equal(t, wire.HeaderSize+5, len(w.written))
	assert.Equal(t, "hello", string(w.written[wire.HeaderSize:]))
}

func TestSendMessagePartialWriteResumes(t *testing.T) {
	payload := buffer.NewFromBytes([]byte("0123456789"))
	header := wire.Header{Nonce: 1, Len: uint32(payload.Size())}
	total := TotalLen(payload)
	w := &fakeWriter{maxPerCall: 4}

	remaining := total
	var err error
	for remaining > 0 {
		remaining, err = SendMessage(w, header, payload, remaining)
		require.NoError(t, err)
	}

	full := append(header.Bytes(), payload.Bytes()...)
	assert.Equal(t, full, w.written)
}

func TestSendMessageWouldBlockLeavesRemainingUnchanged(t *testing.T) {
	payload := buffer.NewFromBytes([]byte("abc"))
	header := wire.Header{Nonce: 1, Len: uint32(payload.Size())}
	w := &fakeWriter{blockNext: true}

	total := TotalLen(payload)
	remaining, err := SendMessage(w, header, payload, total)
	require.NoError(t, err)
	assert.Equal(t, total, remaining)
	assert.Empty(t, w.written)
}

func TestSendMessageHardErrorPropagates(t *testing.T) {
	payload := buffer.NewFromBytes([]byte("abc"))
	header := wire.Header{Nonce: 1, Len: uint32(payload.Size())}
	boom := errors.New("connection reset by peer")
	w := &fakeWriter{failNext: boom}

	total := TotalLen(payload)
	remaining, err := SendMessage(w, header, payload, total)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, total, remaining)
}

func TestSendMessageMultiChunkPayloadSkipsAcrossChunks(t *testing.T) {
	payload := buffer.New()
	payload.Append([]byte("aaaa"))
	payload.Append([]byte("bbbb"))
	header := wire.Header{Nonce: 1, Len: uint32(payload.Size())}
	total := TotalLen(payload)
	w := &fakeWriter{maxPerCall: 5}

	remaining := total
	var err error
	for remaining > 0 {
		remaining, err = SendMessage(w, header, payload, remaining)
		require.NoError(t, err)
	}

	full := append(header.Bytes(), payload.Bytes()...)
	assert.Equal(t, full, w.written)
}
