package netio

import (
	"crypto/tls"
	"net"
	"net/http"

	"golang.org/x/crypto/acme/autocert"
)

// TLSConfig configures the optional TLS transport. Either CertFile/KeyFile
// (a static certificate pair) or AutocertHosts (automatic Let's Encrypt
// issuance) may be set; AutocertHosts takes priority when both are present.
type TLSConfig struct {
	CertFile string
	KeyFile  string

	// AutocertHosts restricts ACME issuance to the listed hostnames. The
	// autocert manager handles challenge responses and certificate caching
	// on its own, independent of the vhost dispatch table.
	AutocertHosts []string
	// AutocertCacheDir persists issued certificates across restarts. Empty
	// disables on-disk caching (certificates are re-issued each process
	// lifetime, fine for development, wasteful in production).
	AutocertCacheDir string
}

// tlsTransport wraps a Transport, upgrading every accepted connection with
// tls.Server before handing it back to the caller.
type tlsTransport struct {
	inner Transport
	cfg   *tls.Config
}

// ListenTLS wraps an existing plaintext Transport with TLS termination. The
// inner Transport still owns socket tuning and accept backlog; this only
// adds the handshake.
func ListenTLS(inner Transport, tcfg *TLSConfig) (Transport, error) {
	cfg, err := buildTLSConfig(tcfg)
	if err != nil {
		return nil, err
	}
	return &tlsTransport{inner: inner, cfg: cfg}, nil
}

func buildTLSConfig(tcfg *TLSConfig) (*tls.Config, error) {
	if len(tcfg.AutocertHosts) > 0 {
		mgr := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(tcfg.AutocertHosts...),
		}
		if tcfg.AutocertCacheDir != "" {
			mgr.Cache = autocert.DirCache(tcfg.AutocertCacheDir)
		}
		return mgr.TLSConfig(), nil
	}

	cert, err := tls.LoadX509KeyPair(tcfg.CertFile, tcfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"},
	}, nil
}

func (t *tlsTransport) Accept() (net.Conn, error) {
	conn, err := t.inner.Accept()
	if err != nil {
		return nil, err
	}
	return tls.Server(conn, t.cfg), nil
}

func (t *tlsTransport) Addr() net.Addr { return t.inner.Addr() }

func (t *tlsTransport) Close() error { return t.inner.Close() }

// Blocking reports true: a *tls.Conn's internal half-connection state
// cannot tolerate the raw-fd epoll reactor's EAGAIN-retry-later pattern,
// so every TLS connection is served from a dedicated goroutine making
// genuinely blocking net.Conn calls instead.
func (t *tlsTransport) Blocking() bool { return true }

// AutocertHTTPHandler returns the HTTP-01 challenge handler an autocert
// deployment must serve on port 80 alongside the HTTPS listener. Callers
// wire this into a vhost's plaintext dispatch path; it is nil when the
// transport is not using autocert.
func AutocertHTTPHandler(tcfg *TLSConfig) func(net.Listener) error {
	if len(tcfg.AutocertHosts) == 0 {
		return nil
	}
	mgr := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(tcfg.AutocertHosts...),
	}
	if tcfg.AutocertCacheDir != "" {
		mgr.Cache = autocert.DirCache(tcfg.AutocertCacheDir)
	}
	handler := mgr.HTTPHandler(nil)
	return func(ln net.Listener) error {
		return http.Serve(ln, handler)
	}
}
