package netio

import (
	"net"
	"os"
)

// Transport is the listener abstraction the acceptor drives, with the same
// three methods for a plaintext and a TLS listener. It carries no I/O or
// sendfile path; the acceptor tells the two apart by asserting for
// BlockingTransport.
type Transport interface {
	// Accept blocks for the next connection. The returned net.Conn already
	// has socket tuning applied.
	Accept() (net.Conn, error)
	// Addr reports the bound address.
	Addr() net.Addr
	// Close stops accepting and releases the listening socket.
	Close() error
}

// BlockingTransport is a Transport whose accepted connections cannot be
// driven through the epoll + raw-fd reactor - a TLS listener's accepted
// *tls.Conn, say, whose lazy handshake and internal half-connection state
// cannot tolerate the cooperative EAGAIN-retry-later pattern the raw-fd
// path relies on. The acceptor type-asserts for this interface and, when
// Blocking reports true, hands the net.Conn to a dedicated goroutine
// instead of extracting a raw fd for epoll registration.
type BlockingTransport interface {
	Transport
	// Blocking reports whether connections accepted from this transport
	// must be served by a blocking goroutine rather than epoll.
	Blocking() bool
}

// plainTransport wraps a net.Listener with socket tuning applied to every
// accepted connection.
type plainTransport struct {
	ln  net.Listener
	cfg *Config
}

// ListenTCP opens a plaintext TCP listener tuned with cfg (DefaultConfig if
// nil) and with listener-level options (TCP_FASTOPEN, TCP_DEFER_ACCEPT)
// applied once up front.
func ListenTCP(network, addr string, cfg *Config) (Transport, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	if err := ApplyListener(ln, cfg); err != nil {
		// Listener tuning is best-effort; a kernel without TFO support
		// must not prevent the server from starting.
		_ = err
	}
	return &plainTransport{ln: ln, cfg: cfg}, nil
}

func (t *plainTransport) Accept() (net.Conn, error) {
	conn, err := t.ln.Accept()
	if err != nil {
		return nil, err
	}
	if err := Apply(conn, t.cfg); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (t *plainTransport) Addr() net.Addr { return t.ln.Addr() }

func (t *plainTransport) Close() error { return t.ln.Close() }

// FileFromConn extracts the raw *os.File backing a net.Conn, when the
// underlying type supports it (*net.TCPConn). Used by sched.Acceptor to
// pull a raw fd for epoll registration.
func FileFromConn(conn net.Conn) (*os.File, error) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, errNotTCP
	}
	return tcpConn.File()
}

var errNotTCP = &transportError{"netio: connection is not a *net.TCPConn"}

type transportError struct{ msg string }

func (e *transportError) Error() string { return e.msg }
