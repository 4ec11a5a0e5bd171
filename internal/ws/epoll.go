//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// readEvents are the readiness events a socket is registered for. EPOLLRDHUP
// reports a peer that half-closed without sending a close frame, so the read
// path can evict it without waiting for the heartbeat.
const readEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR

// Epoll multiplexes socket readiness with Linux epoll. A single poll loop
// hands ready connections to the worker pool instead of parking one
// goroutine per socket.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	conns  map[int]net.Conn // fd -> conn
	events []unix.EpollEvent
}

// NewEpoll creates an epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:     fd,
		conns:  make(map[int]net.Conn),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Add registers conn for read readiness.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	ev := &unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}
	e.mu.Lock()
	e.conns[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove unregisters conn. Removing a connection whose descriptor is already
// closed is not an error.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	e.mu.Lock()
	delete(e.conns, fd)
	e.mu.Unlock()

	if fd < 0 {
		return nil
	}
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.EBADF || err == unix.ENOENT {
		return nil
	}
	return err
}

// Wait returns the connections with pending input. It returns after at most
// timeout with an empty slice when nothing became ready, so the caller can
// observe shutdown. A negative timeout blocks indefinitely.
func (e *Epoll) Wait(timeout time.Duration) ([]net.Conn, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout.Milliseconds())
	}
	n, err := unix.EpollWait(e.fd, e.events, msec)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	ready := make([]net.Conn, 0, n)
	for _, ev := range e.events[:n] {
		if conn, ok := e.conns[int(ev.Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	return ready, nil
}

// Wrap returns conn unchanged; the kernel poller reads nothing itself.
func (e *Epoll) Wrap(conn net.Conn) net.Conn { return conn }

// Rearm is a no-op: level-triggered epoll reports pending input again on its
// own.
func (e *Epoll) Rearm(net.Conn) {}

// Close releases the epoll descriptor. Registered connections are not closed.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns = nil
	return unix.Close(e.fd)
}

// socketFD returns the descriptor behind conn without dup'ing it, or -1 when
// conn does not expose one.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return -1
	}
	return fd
}
