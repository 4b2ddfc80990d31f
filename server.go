package monkeylib

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"

	"github.com/yourusername/monkeylib/pkg/monkeylib/conn"
	"github.com/yourusername/monkeylib/pkg/monkeylib/event"
	"github.com/yourusername/monkeylib/pkg/monkeylib/mimedb"
	"github.com/yourusername/monkeylib/pkg/monkeylib/netio"
	"github.com/yourusername/monkeylib/pkg/monkeylib/proto"
	"github.com/yourusername/monkeylib/pkg/monkeylib/sched"
	"github.com/yourusername/monkeylib/pkg/monkeylib/vhost"
	"github.com/yourusername/monkeylib/pkg/monkeylib/worker"
)

// VHostOption customizes a vhost.Host built by Server.AddVHost.
type VHostOption func(*vhost.Host)

// WithDocRoot sets the directory static files are served from.
func WithDocRoot(dir string) VHostOption {
	return func(h *vhost.Host) { h.DocRoot = dir }
}

// WithAliases registers additional hostnames this vhost also answers to.
func WithAliases(aliases ...string) VHostOption {
	return func(h *vhost.Host) { h.Aliases = aliases }
}

// WithIndexFiles overrides the default index.html lookup order for
// directory requests.
func WithIndexFiles(names ...string) VHostOption {
	return func(h *vhost.Host) { h.IndexFiles = names }
}

// WithCallbacks registers the IPCheck/URLCheck/Data/Close interception
// hooks for this vhost.
func WithCallbacks(cb vhost.Callbacks) VHostOption {
	return func(h *vhost.Host) { h.Callbacks = cb }
}

// VHostInfo is a read-only snapshot of a registered host, returned by
// Server.VHosts.
type VHostInfo struct {
	Name    string
	Aliases []string
	DocRoot string
}

// WorkerInfo is a read-only snapshot of one worker's atomic counters,
// returned by Server.WorkerInfo.
type WorkerInfo struct {
	ID       int
	Accepted uint64
	Closed   uint64
	Requests uint64
	Errors   uint64
}

// MimeEntry is one extension/content-type pair, returned by
// Server.MimeTypes.
type MimeEntry struct {
	Extension   string
	ContentType string
}

// Server is the embeddable HTTP/1.1 server core: it owns the listening
// socket, the worker fleet, the connection scheduler and the request
// parser, and dispatches accepted traffic to one of its registered
// virtual hosts.
type Server struct {
	cfg Config

	hosts *vhost.Registry
	mime  *mimedb.DB
	pipe  *vhost.StaticPipeline

	transport netio.Transport
	table     *sched.Table
	runtimes  []*worker.Runtime

	running bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Server from cfg plus any ServerOption overrides applied on
// top of it.
func New(cfg Config, opts ...ServerOption) (*Server, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("monkeylib: Workers must be >= 1, got %d", cfg.Workers)
	}

	mime := mimedb.New()

	s := &Server{
		cfg:   cfg,
		hosts: vhost.NewRegistry(),
		mime:  mime,
		pipe:  vhost.NewStaticPipeline(mime),
		done:  make(chan struct{}),
	}
	return s, nil
}

// AddVHost registers a new virtual host with name and the given options,
// rejecting a duplicate name or an attempt to register after Start -
// mirroring mklib_callback_set's "rejected while running" guard.
func (s *Server) AddVHost(name string, opts ...VHostOption) (*vhost.Host, error) {
	if s.running {
		return nil, fmt.Errorf("monkeylib: cannot add vhost %q after Start", name)
	}
	h := &vhost.Host{Name: name, ServerTag: "monkeylib"}
	for _, opt := range opts {
		opt(h)
	}
	if err := s.hosts.Add(h); err != nil {
		return nil, err
	}
	return h, nil
}

// AddMimeType registers or overrides the content type served for ext.
// Like AddVHost, this must happen before Start.
func (s *Server) AddMimeType(ext, contentType string) error {
	if s.running {
		return fmt.Errorf("monkeylib: cannot add mime type %q after Start", ext)
	}
	s.mime.Register(ext, contentType)
	return nil
}

// VHosts returns a snapshot of every registered virtual host.
func (s *Server) VHosts() []VHostInfo {
	hosts := s.hosts.All()
	out := make([]VHostInfo, len(hosts))
	for i, h := range hosts {
		out[i] = VHostInfo{Name: h.Name, Aliases: h.Aliases, DocRoot: h.DocRoot}
	}
	return out
}

// WorkerInfo returns a snapshot of each worker's atomic counters.
func (s *Server) WorkerInfo() []WorkerInfo {
	out := make([]WorkerInfo, len(s.runtimes))
	for i, r := range s.runtimes {
		out[i] = WorkerInfo{
			ID:       r.ID,
			Accepted: r.Stats.Accepted.Load(),
			Closed:   r.Stats.Closed.Load(),
			Requests: r.Stats.Requests.Load(),
			Errors:   r.Stats.Errors.Load(),
		}
	}
	return out
}

// MimeTypes is not implemented as a full enumeration: the registry is
// built for O(1) lookup, not iteration, matching mimedb's append-only
// design. Callers that need the full table should keep their own record
// of what they registered via AddMimeType.
func (s *Server) MimeTypes() []MimeEntry { return nil }

// Start raises the file descriptor limit, opens the listener (plaintext
// or TLS per cfg.TLS), spins up one worker per cfg.Workers, and begins
// accepting connections. It returns once the listener is open; serving
// continues on background goroutines until Stop is called or ctx is
// canceled.
func (s *Server) Start(ctx context.Context) error {
	if s.running {
		return fmt.Errorf("monkeylib: already started")
	}
	s.hosts.Start()

	if _, err := sched.RaiseFileLimit(uint64(s.cfg.Workers) * 4096); err != nil {
		log.Printf("monkeylib: raising file descriptor limit failed (continuing anyway): %v", err)
	}

	transport, err := netio.ListenTCP("tcp", s.cfg.Addr, nil)
	if err != nil {
		return fmt.Errorf("monkeylib: listen %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.TLS != nil {
		transport, err = netio.ListenTLS(transport, s.cfg.TLS)
		if err != nil {
			return fmt.Errorf("monkeylib: TLS setup: %w", err)
		}
	}
	s.transport = transport

	s.table = sched.NewTable(s.cfg.Workers, 256)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i, shard := range s.table.Shards() {
		source, err := newEventSource()
		if err != nil {
			cancel()
			return fmt.Errorf("monkeylib: creating event source for worker %d: %w", i, err)
		}
		rt := worker.NewRuntime(i, shard, source, s.cfg.connConfig())
		s.runtimes = append(s.runtimes, rt)
		go rt.Run(runCtx)
	}

	ccfg := s.cfg.connConfig()
	factory := sched.ConnFactory(func(fd int, remoteAddr string) *conn.Conn {
		return conn.New(fd, remoteAddr, s.handle, ccfg)
	})
	blockingServe := func(nc net.Conn) {
		worker.ServeBlockingConn(nc, s.handle, ccfg)
	}
	acceptor := sched.NewAcceptor(s.transport, s.table, factory, blockingServe, slog.Default())

	go func() {
		defer close(s.done)
		if err := acceptor.Run(runCtx); err != nil {
			log.Printf("monkeylib: acceptor stopped: %v", err)
		}
	}()

	s.running = true
	return nil
}

// Stop cancels the worker and acceptor goroutines and closes the
// listener, waiting for the accept loop to unwind or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.running = false
	return nil
}

// handle is the proto.Handler wired into every connection; it resolves
// the request's Host header to a vhost and runs that host's callback and
// static-file pipeline.
func (s *Server) handle(req *proto.Request, rw *proto.ResponseWriter) error {
	hostHeader, _ := req.GetHeaderString("Host")
	host, ok := s.hosts.Lookup(hostHeader)
	if !ok {
		rw.WriteError(421, "Misdirected Request")
		return nil
	}

	if host.Callbacks.Close != nil {
		remoteAddr := req.RemoteAddr
		rw.SetCloseHook(func(status int, bytesIn, bytesOut int64) {
			host.Callbacks.Close(remoteAddr, status, bytesIn, bytesOut)
		})
	}

	if host.Callbacks.IPCheck != nil && !host.Callbacks.IPCheck(req.RemoteAddr) {
		rw.WriteError(403, "Forbidden")
		return nil
	}

	if host.Callbacks.URLCheck != nil && !host.Callbacks.URLCheck(req.Path()) {
		rw.WriteError(403, "Forbidden")
		return nil
	}

	if host.Callbacks.Data != nil {
		if host.Callbacks.Data(req, rw) {
			return nil
		}
	}

	if host.DocRoot == "" {
		rw.WriteError(404, "Not Found")
		return nil
	}
	return s.pipe.ServeFile(host, req, rw, req.Path())
}

// newEventSource picks the platform readiness multiplexer: epoll on
// Linux, the portable fallback everywhere else.
func newEventSource() (event.Source, error) {
	return newPlatformEventSource()
}
