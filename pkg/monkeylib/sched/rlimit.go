//go:build linux || darwin

// Package sched distributes accepted connections across a fixed pool of
// worker shards and sizes that pool against the process's file descriptor
// limit.
package sched

import "golang.org/x/sys/unix"

// RaiseFileLimit attempts to raise RLIMIT_NOFILE to want (or the kernel's
// hard ceiling, whichever is lower) and reports the resulting soft limit.
// A listener accepting thousands of keep-alive connections needs this
// raised well past the common 1024 default before shard capacity planning
// means anything.
func RaiseFileLimit(want uint64) (current uint64, err error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, err
	}

	if want <= lim.Cur {
		return lim.Cur, nil
	}

	target := want
	if lim.Max != unix.RLIM_INFINITY && target > lim.Max {
		target = lim.Max
	}

	lim.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return lim.Cur, err
	}
	return target, nil
}
