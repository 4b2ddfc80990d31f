package conn

import (
	"time"

	"golang.org/x/sys/unix"
)

// fdBodyReader adapts a raw non-blocking fd into an io.Reader for
// proto.SetupBodyReader (io.LimitReader / ChunkedReader both just need
// Read). It first drains whatever trailing bytes the header read already
// pulled off the wire, then issues direct reads against the fd.
//
// The fd is non-blocking (registered with the worker's epoll instance), so
// a Read that returns EAGAIN here retries with a short sleep instead of
// blocking in the kernel. The retry loop has no deadline: until the body
// bytes arrive or the peer closes, it holds the worker goroutine, and with
// it every other connection on that worker. Bodies are expected to be
// small relative to headers, so this avoids a second state machine just
// for bodies.
type fdBodyReader struct {
	fd       int
	leftover []byte
}

func newFDBodyReader(fd int, leftover []byte) *fdBodyReader {
	// Copy leftover out of the connection's read buffer since that buffer
	// gets reused/grown by the next OnReadable call.
	owned := make([]byte, len(leftover))
	copy(owned, leftover)
	return &fdBodyReader{fd: fd, leftover: owned}
}

func (b *fdBodyReader) Read(p []byte) (int, error) {
	if len(b.leftover) > 0 {
		n := copy(p, b.leftover)
		b.leftover = b.leftover[n:]
		return n, nil
	}

	for {
		n, err := unix.Read(b.fd, p)
		if n > 0 {
			return n, nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, errConnClosedByPeer
		}
	}
}

// Buffered reports how many already-read bytes have not yet been consumed
// by the body reader (pipelined request bytes arrived early).
func (b *fdBodyReader) Buffered() int {
	return len(b.leftover)
}

// Unread returns the slice of bytes still unconsumed, for the connection
// FSM to carry over into the next request's read buffer.
func (b *fdBodyReader) Unread() []byte {
	return b.leftover
}
