// Package worker owns one event loop, one connection shard, and the
// timeout sweep that reclaims idle connections - the unit of concurrency
// the rest of this module schedules work onto.
package worker

import (
	"context"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/yourusername/monkeylib/pkg/monkeylib/conn"
	"github.com/yourusername/monkeylib/pkg/monkeylib/event"
	"github.com/yourusername/monkeylib/pkg/monkeylib/sched"
)

// Stats are the atomic counters one worker exposes for the embedding
// façade's WorkerInfo snapshot, following the teacher's atomic-counter
// idiom instead of allocating a struct per observation.
type Stats struct {
	Accepted atomic.Uint64
	Closed   atomic.Uint64
	Requests atomic.Uint64
	Errors   atomic.Uint64
}

// Runtime drives a single shard's connections to completion: adopt newly
// handed-off connections, register them with the event source, react to
// readiness events, and periodically sweep for connections that have sat
// idle too long. Exactly one goroutine ever calls Run for a given
// Runtime, which is what lets conn.Conn skip locking entirely.
type Runtime struct {
	ID int

	// Name is a no-op hook kept for symmetry with the reference
	// implementation's per-worker OS thread naming; Go has no portable
	// non-cgo pthread-rename primitive, so this never does anything
	// beyond recording the requested name for diagnostics.
	Name string

	shard  *sched.Shard
	source event.Source
	cfg    conn.Config

	Stats Stats

	sweepEvery time.Duration
}

// NewRuntime builds a Runtime over shard using source as its readiness
// multiplexer.
func NewRuntime(id int, shard *sched.Shard, source event.Source, cfg conn.Config) *Runtime {
	sweepUnit := cfg.IdleTimeout
	if cfg.HeaderTimeout > 0 && cfg.HeaderTimeout < sweepUnit {
		sweepUnit = cfg.HeaderTimeout
	}
	return &Runtime{
		ID:         id,
		shard:      shard,
		source:     source,
		cfg:        cfg,
		sweepEvery: sweepUnit / 4,
	}
}

// Run blocks, driving the event loop until ctx is canceled. It locks the
// calling goroutine to its OS thread: epoll's edge-triggered semantics
// and the fd-indexed shard table both assume the same goroutine keeps
// calling Wait, so letting the Go scheduler migrate this goroutine across
// threads would cost nothing functionally but defeats any future
// thread-affinity tuning (e.g. SO_REUSEPORT + CPU pinning).
func (r *Runtime) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	events := make([]event.Event, 0, 128)
	lastSweep := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		for _, c := range r.shard.Adopt() {
			if err := r.source.Register(c.FD(), event.Readable, uint64(c.FD())); err != nil {
				log.Printf("worker[%d]: register fd %d failed: %v", r.ID, c.FD(), err)
				c.Close()
				r.shard.Forget(c.FD())
				continue
			}
			r.Stats.Accepted.Add(1)
		}

		waitEvents, err := r.source.Wait(events[:0], 200*time.Millisecond)
		if err != nil {
			log.Printf("worker[%d]: wait failed: %v", r.ID, err)
			continue
		}

		for _, ev := range waitEvents {
			fd := int(ev.Data)
			c, ok := r.shard.Lookup(fd)
			if !ok {
				continue
			}
			r.handleEvent(c, ev)
		}

		if time.Since(lastSweep) >= r.sweepEvery {
			r.sweepIdle()
			lastSweep = time.Now()
		}
	}
}

func (r *Runtime) handleEvent(c *conn.Conn, ev event.Event) {
	if ev.Mode&event.Closed != 0 {
		r.closeConn(c)
		return
	}

	if ev.Mode&event.Readable != 0 && c.State() != conn.StateWritingResponse {
		ready, err := c.OnReadable()
		if err != nil {
			r.closeConn(c)
			return
		}
		if ready {
			if c.State() == conn.StateDispatched {
				c.Dispatch()
				r.Stats.Requests.Add(1)
			} else {
				// OnReadable already buffered a status response for a
				// parser/protocol error (c.State() == StateWritingResponse)
				// instead of handing off a request.
				r.Stats.Errors.Add(1)
			}
			if err := r.source.Modify(c.FD(), event.Writable, uint64(c.FD())); err != nil {
				r.closeConn(c)
				return
			}
			// Fall through: try an immediate write, the socket is very
			// likely writable right after a small response.
			r.flush(c)
		}
	}

	if ev.Mode&event.Writable != 0 && c.State() == conn.StateWritingResponse {
		r.flush(c)
	}
}

func (r *Runtime) flush(c *conn.Conn) {
	done, err := c.OnWritable()
	if err != nil {
		r.closeConn(c)
		return
	}
	if !done {
		return
	}
	if c.Closing() {
		r.closeConn(c)
		return
	}
	if err := r.source.Modify(c.FD(), event.Readable, uint64(c.FD())); err != nil {
		r.closeConn(c)
	}
}

func (r *Runtime) closeConn(c *conn.Conn) {
	r.source.Unregister(c.FD())
	c.Close()
	r.shard.Forget(c.FD())
	r.Stats.Closed.Add(1)
}

// sweepIdle reclaims connections that have sat past their deadline without
// making progress. conn.Conn.OnTick tells stale apart from overdue-but-
// answerable: a connection still waiting on a client's slow request line or
// headers gets a 408 buffered and is routed through the normal write path,
// while an idle keep-alive connection past IdleTimeout is just closed.
func (r *Runtime) sweepIdle() {
	now := time.Now()
	var expired []*conn.Conn
	r.shard.All(func(c *conn.Conn) {
		if err := c.OnTick(now); err != nil {
			expired = append(expired, c)
		}
	})
	for _, c := range expired {
		r.Stats.Errors.Add(1)
		if c.State() == conn.StateWritingResponse {
			if err := r.source.Modify(c.FD(), event.Writable, uint64(c.FD())); err != nil {
				r.closeConn(c)
				continue
			}
			r.flush(c)
			continue
		}
		r.closeConn(c)
	}
}
