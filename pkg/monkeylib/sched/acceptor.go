package sched

import (
	"context"
	"log/slog"
	"net"

	"golang.org/x/sys/unix"

	"github.com/yourusername/monkeylib/pkg/monkeylib/conn"
	"github.com/yourusername/monkeylib/pkg/monkeylib/netio"
)

// Acceptor runs the single accept loop for a listener, handing each new
// connection to the least-loaded shard. One Acceptor per listening
// Transport; a server with both a plaintext and a TLS listener runs two.
type Acceptor struct {
	transport     netio.Transport
	table         *Table
	handler       func() ConnFactory
	blockingServe func(net.Conn)
	log           *slog.Logger
}

// ConnFactory builds a *conn.Conn for a freshly accepted, already
// non-blocking fd. Supplied by the worker runtime, which is the one place
// that knows the request handler and connection Config.
type ConnFactory func(fd int, remoteAddr string) *conn.Conn

// NewAcceptor builds an Acceptor over transport, distributing across the
// shards in table. blockingServe drives any connection accepted from a
// netio.BlockingTransport (a TLS listener, whose accepted *tls.Conn cannot
// be driven through the raw-fd epoll reactor) in its own goroutine
// instead; it is never called for a plain netio.Transport.
func NewAcceptor(transport netio.Transport, table *Table, factory ConnFactory, blockingServe func(net.Conn), log *slog.Logger) *Acceptor {
	if log == nil {
		log = slog.Default()
	}
	return &Acceptor{
		transport:     transport,
		table:         table,
		handler:       func() ConnFactory { return factory },
		blockingServe: blockingServe,
		log:           log,
	}
}

// Run accepts connections until ctx is done, then returns nil. An Accept
// error while ctx is still live is logged and the loop keeps accepting;
// it does not end Run.
func (a *Acceptor) Run(ctx context.Context) error {
	factory := a.handler()

	go func() {
		<-ctx.Done()
		a.transport.Close()
	}()

	for {
		netConn, err := a.transport.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.log.Warn("accept failed", "error", err)
			continue
		}

		if bt, ok := a.transport.(netio.BlockingTransport); ok && bt.Blocking() {
			if a.blockingServe == nil {
				a.log.Warn("transport requires a blocking handler, none configured; closing connection")
				netConn.Close()
				continue
			}
			go a.blockingServe(netConn)
			continue
		}

		file, err := netio.FileFromConn(netConn)
		if err != nil {
			a.log.Warn("cannot extract raw fd, closing connection", "error", err)
			netConn.Close()
			continue
		}
		netConn.Close() // the *os.File duplicated the fd; we drive the dup directly

		fd := int(file.Fd())
		if err := unix.SetNonblock(fd, true); err != nil {
			a.log.Warn("setnonblock failed, closing connection", "error", err)
			file.Close()
			continue
		}

		remoteAddr := netConn.RemoteAddr().String()
		c := factory(fd, remoteAddr)

		shard := a.table.LeastLoaded()
		shard.Incoming <- c
	}
}
