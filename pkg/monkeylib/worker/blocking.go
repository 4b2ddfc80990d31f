package worker

import (
	"errors"
	"net"
	"time"

	"github.com/yourusername/monkeylib/pkg/monkeylib/conn"
	"github.com/yourusername/monkeylib/pkg/monkeylib/netio"
	"github.com/yourusername/monkeylib/pkg/monkeylib/proto"
)

// ServeBlockingConn drives one connection accepted from a
// netio.BlockingTransport (TLS) to completion using genuinely blocking
// net.Conn calls instead of the epoll + raw-fd reactor conn.Conn uses: a
// *tls.Conn's internal half-connection state cannot tolerate the
// cooperative EAGAIN-retry-later pattern the raw-fd path relies on, so
// every TLS connection gets its own goroutine here for its whole
// keep-alive lifetime. Returns once the connection is closed, one way or
// another. The close hook a handler registers on the ResponseWriter is
// not invoked on this path.
func ServeBlockingConn(nc net.Conn, handler proto.Handler, cfg conn.Config) {
	defer nc.Close()

	readBuf := conn.AcquireReadBuffer(cfg.ReadBufferSize)
	defer func() { conn.ReleaseReadBuffer(readBuf) }()
	readFilled := 0

	parser := proto.NewParser()
	requests := 0

	for {
		req, leftover, err := readHeaders(nc, parser, &readBuf, &readFilled, cfg)
		if err != nil {
			status, ok := proto.StatusForError(err)
			if !ok && isTimeout(err) {
				status, ok = 408, true
			}
			if ok {
				writeStatusOnly(nc, status)
			}
			return
		}

		body := newBlockingBodyReader(nc, leftover)
		if err := proto.SetupBodyReader(req, body); err != nil {
			proto.PutRequest(req)
			if status, ok := proto.StatusForError(err); ok {
				writeStatusOnly(nc, status)
			}
			return
		}

		rw := proto.NewResponseWriter(nc)
		herr := handler(req, rw)
		rw.Flush()

		close := herr != nil || req.Close
		proto.PutRequest(req)

		if f, offset, size, ok := rw.FileBody(); ok {
			if size > 0 {
				if _, err := netio.SendFileRange(nc, f, offset, offset+size-1); err != nil {
					f.Close()
					return
				}
			}
			f.Close()
		}

		requests++
		if cfg.MaxKeepAlive > 0 && requests >= cfg.MaxKeepAlive {
			close = true
		}
		if close {
			return
		}

		readFilled = body.Buffered()
		if readFilled > 0 {
			copy(readBuf, body.Unread())
		}
	}
}

// readHeaders blocks until a full header block is available on nc,
// enforcing cfg.HeaderTimeout the way conn.Conn.OnTick enforces it for the
// epoll path, just via net.Conn's deadline instead of a periodic sweep.
// readBuf is a pointer since a header block larger than the current buffer
// grows it in place, and the caller must see the grown buffer on the next
// call.
func readHeaders(nc net.Conn, parser *proto.Parser, readBuf *[]byte, readFilled *int, cfg conn.Config) (req *proto.Request, leftover []byte, err error) {
	deadline := time.Now().Add(cfg.HeaderTimeout)
	for {
		if *readFilled > 0 {
			req, headersEnd, perr := parser.ParseHeaders((*readBuf)[:*readFilled])
			if perr == nil {
				req.RemoteAddr = nc.RemoteAddr().String()
				return req, append([]byte(nil), (*readBuf)[headersEnd:*readFilled]...), nil
			}
			if !errors.Is(perr, proto.ErrUnexpectedEOF) {
				return nil, nil, perr
			}
		}

		if *readFilled == len(*readBuf) {
			grown := conn.AcquireReadBuffer(len(*readBuf) * 2)
			copy(grown, (*readBuf)[:*readFilled])
			conn.ReleaseReadBuffer(*readBuf)
			*readBuf = grown
		}
		if *readFilled > cfg.MaxHeaderBytes {
			return nil, nil, proto.ErrHeadersTooLarge
		}

		if err := nc.SetReadDeadline(deadline); err != nil {
			return nil, nil, err
		}
		n, rerr := nc.Read((*readBuf)[*readFilled:])
		if n > 0 {
			*readFilled += n
		}
		if rerr != nil {
			return nil, nil, rerr
		}
	}
}

// writeStatusOnly buffers and writes a bare status response for a
// parser/protocol error discovered before (or instead of) a dispatchable
// request, mirroring conn.Conn.failWithStatus for the blocking path.
func writeStatusOnly(nc net.Conn, status int) {
	rw := proto.NewResponseWriter(nc)
	rw.WriteError(status, proto.StatusText(status))
	rw.Flush()
}

// isTimeout reports whether err is a net.Conn deadline expiry, the
// blocking-path equivalent of conn.ErrClientTimeout.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// blockingBodyReader adapts a net.Conn into the io.Reader proto.Body
// expects, the blocking-path counterpart of conn's fdBodyReader: it first
// drains bytes the header read already pulled off the wire, then issues
// ordinary blocking reads against nc.
type blockingBodyReader struct {
	nc       net.Conn
	leftover []byte
}

func newBlockingBodyReader(nc net.Conn, leftover []byte) *blockingBodyReader {
	return &blockingBodyReader{nc: nc, leftover: leftover}
}

func (b *blockingBodyReader) Read(p []byte) (int, error) {
	if len(b.leftover) > 0 {
		n := copy(p, b.leftover)
		b.leftover = b.leftover[n:]
		return n, nil
	}
	return b.nc.Read(p)
}

// Buffered reports how many already-read bytes have not yet been consumed
// by the body reader (pipelined request bytes arrived early).
func (b *blockingBodyReader) Buffered() int { return len(b.leftover) }

// Unread returns the slice of bytes still unconsumed, for the caller to
// carry over into the next request's read buffer.
func (b *blockingBodyReader) Unread() []byte { return b.leftover }
