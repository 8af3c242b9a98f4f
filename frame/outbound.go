package frame

import (
	"errors"

	"github.com/coldbase/rpctransport/buffer"
	"github.com/coldbase/rpctransport/wire"
)

// ErrWouldBlock is returned by a VectoredWriter when the underlying socket
// cannot accept more bytes right now (the non-blocking-write equivalent of
// EAGAIN/EWOULDBLOCK). It is not a failure: the caller re-arms write
// interest and retries on the next writable event.
var ErrWouldBlock = errors.New("frame: write would block")

// VectoredWriter issues a single scatter write across possibly-disjoint
// buffers, mirroring the writev(2) syscall the original design amortizes
// header and payload fragments across. The transport package adapts
// gnet.Conn's Writev to this interface.
type VectoredWriter interface {
	WriteV(bufs [][]byte) (int, error)
}

// TotalLen returns the number of bytes a frame with this header and
// payload will occupy on the wire: header size plus payload size.
func TotalLen(payload *buffer.Chained) int {
	return wire.HeaderSize + payload.Size()
}

// SendMessage writes as much of one frame (header + payload) as the writer
// will currently accept. On the first call, bytesRemaining must equal
// TotalLen(payload); on subsequent calls (after a partial write) it must
// be the value this function previously returned. It returns the number
// of bytes still unsent — zero means the frame is fully written.
//
// A single vectored write is issued per call: the prefix already sent
// (total - bytesRemaining) is skipped across the header and payload
// chunks, and the rest is handed to the writer in one shot.
func SendMessage(w VectoredWriter, header wire.Header, payload *buffer.Chained, bytesRemaining int) (int, error) {
	total := TotalLen(payload)
	skip := total - bytesRemaining

	bufs := make([][]byte, 0, 1+len(payload.Chunks()))

	headerBytes := header.Bytes()
	if skip < len(headerBytes) {
		bufs = append(bufs, headerBytes[skip:])
		skip = 0
	} else {
		skip -= len(headerBytes)
	}

	for _, chunk := range payload.Chunks() {
		if skip >= len(chunk) {
			skip -= len(chunk)
			continue
		}
		bufs = append(bufs, chunk[skip:])
		skip = 0
	}

	if len(bufs) == 0 {
		return 0, nil
	}

	n, err := w.WriteV(bufs)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return bytesRemaining, nil
		}
		return bytesRemaining, err
	}

	return bytesRemaining - n, nil
}
