//go:build linux

package event

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Epoll is the Linux readiness source, backed by epoll(7) in edge-triggered
// mode (EPOLLET). Edge-triggered means the kernel tells us once per state
// change, not once per poll while data sits unread - callers must drain a
// fd fully on each Readable/Writable event.
type Epoll struct {
	fd int
}

// NewEpoll creates an epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("event: epoll_create1: %w", err)
	}
	return &Epoll{fd: fd}, nil
}

func toEpollEvents(interest Mode) uint32 {
	var ev uint32 = unix.EPOLLET
	if interest&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (e *Epoll) Register(fd int, interest Mode, data uint64) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest)}
	packEventData(&ev, data)
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (e *Epoll) Modify(fd int, interest Mode, data uint64) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest)}
	packEventData(&ev, data)
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (e *Epoll) Unregister(fd int) error {
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (e *Epoll) Wait(out []Event, timeout time.Duration) ([]Event, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}

	raw := epollEventBuf(cap(out))
	n, err := unix.EpollWait(e.fd, raw, msec)
	if err != nil {
		if err == unix.EINTR {
			return out, nil
		}
		return out, fmt.Errorf("event: epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := raw[i]
		var mode Mode
		if ev.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
			mode |= Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			mode |= Writable
		}
		if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0 {
			mode |= Closed
		}
		out = append(out, Event{Mode: mode, Data: unpackEventData(&ev)})
	}
	return out, nil
}

func (e *Epoll) Close() error {
	return unix.Close(e.fd)
}

// packEventData/unpackEventData stash our 64-bit connection tag across the
// two union-adjacent fields epoll_event exposes on 64-bit Linux (Fd plus
// Pad). golang.org/x/sys/unix's EpollEvent only exposes Fd as int32, so we
// pack our tag into the raw Fd field directly - the kernel never
// interprets it beyond returning it in epoll_wait, and we don't need the
// OS-level fd back (the caller's table is keyed by the same tag).
func packEventData(ev *unix.EpollEvent, data uint64) {
	ev.Fd = int32(data)
	ev.Pad = int32(data >> 32)
}

func unpackEventData(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

func epollEventBuf(n int) []unix.EpollEvent {
	if n < 64 {
		n = 64
	}
	return make([]unix.EpollEvent, n)
}
