// Package monkeylib is the embeddable core of an HTTP/1.1 server: a host
// application builds a Config, registers one or more virtual hosts and
// optional callbacks, and calls Start to begin serving accepted
// connections with a worker fleet sized to the machine.
package monkeylib

import (
	"runtime"
	"time"

	"github.com/yourusername/monkeylib/pkg/monkeylib/conn"
	"github.com/yourusername/monkeylib/pkg/monkeylib/netio"
)

// Config is the immutable snapshot of server settings captured at Start.
// Build one with New, which applies ServerOption values on top of the
// defaults below - directly mirroring the teacher's DefaultConfig/
// NewBaseServer constructor idiom, replacing its variadic option setters
// with Go-native functional options.
type Config struct {
	Addr string

	Workers int

	ReadBufferSize int
	IdleTimeout    time.Duration
	HeaderTimeout  time.Duration
	MaxHeaderBytes int
	MaxKeepAlive   int

	TLS *netio.TLSConfig
}

// DefaultConfig returns the recommended configuration for a public-facing
// listener: one worker per CPU, generous keep-alive, conservative header
// size and timeout limits.
func DefaultConfig() Config {
	cc := conn.DefaultConfig()
	return Config{
		Addr:           ":8080",
		Workers:        runtime.GOMAXPROCS(0),
		ReadBufferSize: cc.ReadBufferSize,
		IdleTimeout:    cc.IdleTimeout,
		HeaderTimeout:  cc.HeaderTimeout,
		MaxHeaderBytes: cc.MaxHeaderBytes,
		MaxKeepAlive:   cc.MaxKeepAlive,
	}
}

func (c Config) connConfig() conn.Config {
	return conn.Config{
		MaxHeaderBytes: c.MaxHeaderBytes,
		ReadBufferSize: c.ReadBufferSize,
		IdleTimeout:    c.IdleTimeout,
		HeaderTimeout:  c.HeaderTimeout,
		MaxKeepAlive:   c.MaxKeepAlive,
	}
}

// ServerOption customizes a Config built by New.
type ServerOption func(*Config)

// WithAddr overrides the listen address (default ":8080").
func WithAddr(addr string) ServerOption {
	return func(c *Config) { c.Addr = addr }
}

// WithWorkers overrides the worker count (default GOMAXPROCS).
func WithWorkers(n int) ServerOption {
	return func(c *Config) { c.Workers = n }
}

// WithIdleTimeout overrides how long a keep-alive connection may sit idle
// before a worker's sweep closes it.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(c *Config) { c.IdleTimeout = d }
}

// WithMaxKeepAlive caps the number of requests served on one connection
// before it is closed (0 means unlimited).
func WithMaxKeepAlive(n int) ServerOption {
	return func(c *Config) { c.MaxKeepAlive = n }
}

// WithTLS enables TLS termination using either a static certificate pair
// or automatic ACME issuance, see netio.TLSConfig.
func WithTLS(tc *netio.TLSConfig) ServerOption {
	return func(c *Config) { c.TLS = tc }
}
