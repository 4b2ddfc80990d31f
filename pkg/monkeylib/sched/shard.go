package sched

import (
	"sync/atomic"

	"github.com/yourusername/monkeylib/pkg/monkeylib/conn"
)

// Shard is one worker's slice of the connection population: a fd-indexed
// table, not a map. File descriptors on a single process are small dense
// integers, so a growable slice indexed directly by fd is the idiomatic
// Go analogue of the original C implementation's fd-indexed array, and
// avoids a map's hashing and bucket overhead on the hottest lookup in the
// whole server (every readiness event resolves through this).
//
// Everything here is touched only by the worker goroutine that owns this
// shard; Incoming is the sole handoff point from the acceptor goroutine,
// so that's the only field needing cross-goroutine synchronization.
type Shard struct {
	id int

	// Incoming delivers freshly accepted connections from the acceptor to
	// this shard's worker loop. Buffered so a burst of accepts doesn't
	// stall the acceptor goroutine waiting on a slow worker.
	Incoming chan *conn.Conn

	table []*conn.Conn // indexed by fd; grown on demand
	free  []int        // fds released by Forget; recorded only, never read back

	load atomic.Int64
}

func newShard(id int, queueDepth int) *Shard {
	return &Shard{
		id:       id,
		Incoming: make(chan *conn.Conn, queueDepth),
		table:    make([]*conn.Conn, 256),
	}
}

func (s *Shard) ensure(fd int) {
	if fd < len(s.table) {
		return
	}
	grown := make([]*conn.Conn, fd+1)
	copy(grown, s.table)
	s.table = grown
}

// Adopt drains pending handoffs from Incoming into the shard's fd table
// and returns the newly adopted connections so the caller can register
// them with its event source. Non-blocking: returns immediately once
// Incoming has no connection ready.
func (s *Shard) Adopt() []*conn.Conn {
	var adopted []*conn.Conn
	for {
		select {
		case c := <-s.Incoming:
			s.ensure(c.FD())
			s.table[c.FD()] = c
			s.load.Add(1)
			adopted = append(adopted, c)
		default:
			return adopted
		}
	}
}

// Lookup finds the Conn registered at fd, as handed back by an
// event.Event's Data field (the fd itself, per the worker runtime).
func (s *Shard) Lookup(fd int) (*conn.Conn, bool) {
	if fd < 0 || fd >= len(s.table) {
		return nil, false
	}
	c := s.table[fd]
	return c, c != nil
}

// Forget removes a connection from the shard's table once it's closed,
// freeing the fd slot for reuse bookkeeping.
func (s *Shard) Forget(fd int) {
	if fd < 0 || fd >= len(s.table) || s.table[fd] == nil {
		return
	}
	s.table[fd] = nil
	s.free = append(s.free, fd)
	s.load.Add(-1)
}

// Len reports how many live connections this shard is tracking. Safe to
// call from any goroutine (used by the acceptor for least-loaded
// selection).
func (s *Shard) Len() int64 { return s.load.Load() }

// All calls fn for every connection currently tracked, for the
// idle-timeout sweep. Only safe to call from the owning worker goroutine.
func (s *Shard) All(fn func(*conn.Conn)) {
	for _, c := range s.table {
		if c != nil {
			fn(c)
		}
	}
}

// Table is the full set of shards a server runs, one per worker.
type Table struct {
	shards []*Shard
}

// NewTable creates n shards, each with the given incoming-queue depth.
func NewTable(n, queueDepth int) *Table {
	t := &Table{shards: make([]*Shard, n)}
	for i := range t.shards {
		t.shards[i] = newShard(i, queueDepth)
	}
	return t
}

// Shards returns the underlying shard slice for worker loops to range
// over at startup.
func (t *Table) Shards() []*Shard { return t.shards }

// LeastLoaded picks the shard with the fewest tracked connections. Ties
// break toward the lowest index, which is fine: shard assignment doesn't
// need to be stable, only roughly balanced.
func (t *Table) LeastLoaded() *Shard {
	best := t.shards[0]
	bestLoad := best.Len()
	for _, s := range t.shards[1:] {
		if l := s.Len(); l < bestLoad {
			best, bestLoad = s, l
		}
	}
	return best
}
