package conn

import (
	"io"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yourusername/monkeylib/pkg/monkeylib/proto"
)

// socketPair returns two connected, non-blocking unix-domain socket fds -
// one standing in for the client, one for the fd a Conn would own after
// accept().
func socketPair(t *testing.T) (clientFD, serverFD int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("SetNonblock(client): %v", err)
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		t.Fatalf("SetNonblock(server): %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
	})
	return fds[0], fds[1]
}

func TestConnReadDispatchWrite(t *testing.T) {
	clientFD, serverFD := socketPair(t)

	var gotMethod, gotPath string
	handler := proto.Handler(func(req *proto.Request, rw *proto.ResponseWriter) error {
		gotMethod = req.Method()
		gotPath = req.Path()
		return rw.WriteText(200, []byte("hello"))
	})

	c := New(serverFD, "127.0.0.1:9999", handler, DefaultConfig())

	request := "GET /greet HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	if _, err := unix.Write(clientFD, []byte(request)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	ready, err := c.OnReadable()
	if err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if !ready {
		t.Fatal("OnReadable: want ready=true after a full request arrived")
	}

	c.Dispatch()
	if gotMethod != "GET" || gotPath != "/greet" {
		t.Fatalf("handler saw method=%q path=%q, want GET /greet", gotMethod, gotPath)
	}
	if c.State() != StateWritingResponse {
		t.Fatalf("State() = %v, want StateWritingResponse", c.State())
	}
	if !c.Closing() {
		t.Error("Closing() = false, want true (Connection: close was sent)")
	}

	done, err := c.OnWritable()
	if err != nil {
		t.Fatalf("OnWritable: %v", err)
	}
	if !done {
		t.Fatal("OnWritable: want done=true, response fits in one write")
	}
	if c.State() != StateDraining {
		t.Fatalf("State() = %v, want StateDraining after a close-marked response flushed", c.State())
	}

	reply := make([]byte, 4096)
	n, err := unix.Read(clientFD, reply)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	body := string(reply[:n])
	if !strings.Contains(body, "200") || !strings.Contains(body, "hello") {
		t.Errorf("reply = %q, want a 200 response containing \"hello\"", body)
	}
}

func TestConnKeepAliveResetsForNextRequest(t *testing.T) {
	clientFD, serverFD := socketPair(t)

	handler := proto.Handler(func(req *proto.Request, rw *proto.ResponseWriter) error {
		return rw.WriteText(200, []byte("ok"))
	})
	c := New(serverFD, "127.0.0.1:9999", handler, DefaultConfig())

	request := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
	if _, err := unix.Write(clientFD, []byte(request)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	ready, err := c.OnReadable()
	if err != nil || !ready {
		t.Fatalf("OnReadable: ready=%v err=%v", ready, err)
	}
	c.Dispatch()
	if c.Closing() {
		t.Fatal("Closing() = true, want false for an HTTP/1.1 request with no Connection: close")
	}

	if _, err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}
	if c.State() != StateReadingRequest {
		t.Fatalf("State() = %v, want StateReadingRequest after reset for keep-alive", c.State())
	}

	drain := make([]byte, 4096)
	if _, err := unix.Read(clientFD, drain); err != nil && err != io.EOF {
		t.Fatalf("drain reply: %v", err)
	}
}

// TestConnMalformedRequestWritesStatusBeforeClosing exercises the path a
// parser/protocol error takes: OnReadable must buffer a status response
// instead of just closing, so a client that sends garbage still gets an
// HTTP response on the wire.
func TestConnMalformedRequestWritesStatusBeforeClosing(t *testing.T) {
	clientFD, serverFD := socketPair(t)

	handler := proto.Handler(func(req *proto.Request, rw *proto.ResponseWriter) error {
		t.Fatal("handler should not run for a malformed request")
		return nil
	})
	c := New(serverFD, "127.0.0.1:9999", handler, DefaultConfig())

	// HTTP/1.1 with no Host header: rejected by the parser.
	request := "GET / HTTP/1.1\r\n\r\n"
	if _, err := unix.Write(clientFD, []byte(request)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	ready, err := c.OnReadable()
	if err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if !ready {
		t.Fatal("OnReadable: want ready=true, a status response was buffered")
	}
	if c.State() != StateWritingResponse {
		t.Fatalf("State() = %v, want StateWritingResponse", c.State())
	}
	if !c.Closing() {
		t.Error("Closing() = false, want true after a parser error")
	}

	if _, err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	reply := make([]byte, 4096)
	n, err := unix.Read(clientFD, reply)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !strings.Contains(string(reply[:n]), "400") {
		t.Errorf("reply = %q, want a 400 status line", reply[:n])
	}
}

// TestConnOversizedHeadersGet413 checks the MaxHeaderBytes overflow path
// specifically, since it is reached before the parser even runs.
func TestConnOversizedHeadersGet413(t *testing.T) {
	clientFD, serverFD := socketPair(t)

	handler := proto.Handler(func(req *proto.Request, rw *proto.ResponseWriter) error {
		t.Fatal("handler should not run for an oversized request")
		return nil
	})
	cfg := DefaultConfig()
	cfg.MaxHeaderBytes = 64
	c := New(serverFD, "127.0.0.1:9999", handler, cfg)

	request := "GET / HTTP/1.1\r\nHost: example.com\r\nX-Padding: " + strings.Repeat("a", 256) + "\r\n\r\n"
	if _, err := unix.Write(clientFD, []byte(request)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var ready bool
	var err error
	for i := 0; i < 10 && !ready; i++ {
		ready, err = c.OnReadable()
		if err != nil {
			t.Fatalf("OnReadable: %v", err)
		}
	}
	if !ready {
		t.Fatal("OnReadable: want ready=true once MaxHeaderBytes is exceeded")
	}
	if c.State() != StateWritingResponse {
		t.Fatalf("State() = %v, want StateWritingResponse", c.State())
	}

	if _, err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	reply := make([]byte, 4096)
	n, err := unix.Read(clientFD, reply)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !strings.Contains(string(reply[:n]), "413") {
		t.Errorf("reply = %q, want a 413 status line", reply[:n])
	}
}

// TestConnOnTickHeaderTimeoutBuffers408 checks that a connection stuck mid-
// header past HeaderTimeout gets a 408 buffered rather than a silent close.
func TestConnOnTickHeaderTimeoutBuffers408(t *testing.T) {
	_, serverFD := socketPair(t)

	handler := proto.Handler(func(req *proto.Request, rw *proto.ResponseWriter) error {
		t.Fatal("handler should not run")
		return nil
	})
	cfg := DefaultConfig()
	cfg.HeaderTimeout = time.Millisecond
	c := New(serverFD, "127.0.0.1:9999", handler, cfg)
	c.state = StateReadingRequest

	err := c.OnTick(time.Now().Add(time.Hour))
	if err != ErrClientTimeout {
		t.Fatalf("OnTick: err = %v, want ErrClientTimeout", err)
	}
	if c.State() != StateWritingResponse {
		t.Fatalf("State() = %v, want StateWritingResponse (a 408 should be buffered)", c.State())
	}
	if c.lastStatus != 408 {
		t.Errorf("lastStatus = %d, want 408", c.lastStatus)
	}
}

// TestConnOnTickIdleKeepAliveClosesSilently checks that an established
// keep-alive connection past IdleTimeout closes without buffering anything.
func TestConnOnTickIdleKeepAliveClosesSilently(t *testing.T) {
	_, serverFD := socketPair(t)

	handler := proto.Handler(func(req *proto.Request, rw *proto.ResponseWriter) error {
		t.Fatal("handler should not run")
		return nil
	})
	cfg := DefaultConfig()
	cfg.IdleTimeout = time.Millisecond
	c := New(serverFD, "127.0.0.1:9999", handler, cfg)
	c.requests = 1 // a prior request was already served on this connection
	c.resetForNextRequest()

	err := c.OnTick(time.Now().Add(time.Hour))
	if err != ErrClientTimeout {
		t.Fatalf("OnTick: err = %v, want ErrClientTimeout", err)
	}
	if c.State() != StateReadingRequest {
		t.Fatalf("State() = %v, want to stay StateReadingRequest - idle close carries no response", c.State())
	}
	if c.respBuf != nil {
		t.Error("respBuf != nil, want nil - idle keep-alive timeout must not buffer a response")
	}
}
