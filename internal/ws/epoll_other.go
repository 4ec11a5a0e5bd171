//go:build !linux

package ws

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Epoll provides a goroutine-per-connection fallback for non-Linux platforms.
// On Linux, this is replaced by the real epoll implementation. This fallback
// allows developers on macOS/Windows to run the server without the epoll
// optimization.
//
// Readiness is detected by reading one byte. The byte is kept on the
// connection returned by Wrap, and the monitor does not read again until the
// server calls Rearm, so the frame reader sees the whole stream.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn // channel that receives connections with pending data
	done    chan struct{}
}

// NewEpoll creates a new fallback epoll instance that uses goroutines to
// monitor each connection for incoming data.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// peekConn replays the bytes the monitor consumed, then the monitor's read
// error, before reading from the socket again.
type peekConn struct {
	net.Conn

	mu      sync.Mutex
	pending []byte
	err     error

	rearm chan struct{}
	stop  chan struct{}
	once  sync.Once
}

func (p *peekConn) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return p.Conn.Read(b)
}

// Wrap returns the connection the server must read from and register.
func (e *Epoll) Wrap(conn net.Conn) net.Conn {
	return &peekConn{
		Conn:  conn,
		rearm: make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
}

// Add registers a connection returned by Wrap and starts its monitor.
func (e *Epoll) Add(conn net.Conn) error {
	p, ok := conn.(*peekConn)
	if !ok {
		return errors.New("ws: connection was not wrapped by the poller")
	}
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.monitor(p)
	return nil
}

// monitor blocks reading a single byte to detect input, hands the
// connection to Wait, then sleeps until Rearm. A read error is also reported
// as readiness so the server's read path observes the closure.
func (e *Epoll) monitor(p *peekConn) {
	buf := make([]byte, 1)
	for {
		// A read deadline left by the frame reader would fail the peek.
		_ = p.Conn.SetReadDeadline(time.Time{})
		n, err := p.Conn.Read(buf)

		p.mu.Lock()
		p.pending = append(p.pending, buf[:n]...)
		p.err = err
		p.mu.Unlock()

		select {
		case e.readyCh <- p:
		case <-p.stop:
			return
		case <-e.done:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-p.rearm:
		case <-p.stop:
			return
		case <-e.done:
			return
		}
	}
}

// Rearm lets the monitor peek at conn again once the server has finished
// reading from it.
func (e *Epoll) Rearm(conn net.Conn) {
	if p, ok := conn.(*peekConn); ok {
		select {
		case p.rearm <- struct{}{}:
		default:
		}
	}
}

// Remove unregisters a connection from the fallback epoll.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	if p, ok := conn.(*peekConn); ok {
		p.once.Do(func() { close(p.stop) })
	}
	pseudoFDs.Delete(conn)
	return nil
}

// Wait returns the connections with pending input, or an empty slice after
// timeout. A negative timeout blocks until a connection is ready or the
// poller is closed.
func (e *Epoll) Wait(timeout time.Duration) ([]net.Conn, error) {
	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-expired:
		return nil, nil
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback epoll instance.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

var (
	pseudoFDs  sync.Map // net.Conn -> int
	nextPseudo atomic.Int64
)

// socketFD hands out a stable synthetic descriptor per connection so the
// ConnectionManager's fd index still works without real descriptors.
func socketFD(conn net.Conn) int {
	if fd, ok := pseudoFDs.Load(conn); ok {
		return fd.(int)
	}
	fd, _ := pseudoFDs.LoadOrStore(conn, int(nextPseudo.Add(1)))
	return fd.(int)
}
