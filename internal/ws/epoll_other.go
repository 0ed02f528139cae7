//go:build !linux

package ws

import (
	"bufio"
	"net"
	"sync"
)

// peekConn reads through a buffer so readiness can be detected with Peek
// without consuming frame bytes.
type peekConn struct {
	net.Conn
	r      *bufio.Reader
	resume chan struct{}
	stop   chan struct{}
}

func (c *peekConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// Epoll emulates readiness notification with one goroutine per connection
// on platforms without epoll. A connection is reported once, then not again
// until Resume is called for it, so reads never overlap with the monitor.
type Epoll struct {
	mu      sync.Mutex
	conns   map[net.Conn]*peekConn
	readyCh chan net.Conn
	done    chan struct{}
	once    sync.Once
}

// NewEpoll creates the fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]*peekConn),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers conn and returns the wrapper to read from. Monitoring starts
// with the first Resume.
func (e *Epoll) Add(conn net.Conn) (net.Conn, error) {
	pc := &peekConn{
		Conn:   conn,
		r:      bufio.NewReader(conn),
		resume: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	e.mu.Lock()
	e.conns[pc] = pc
	e.mu.Unlock()

	go e.monitor(pc)
	return pc, nil
}

func (e *Epoll) monitor(pc *peekConn) {
	for {
		select {
		case <-pc.resume:
		case <-pc.stop:
			return
		case <-e.done:
			return
		}
		_, err := pc.r.Peek(1)
		select {
		case e.readyCh <- pc:
		case <-pc.stop:
			return
		case <-e.done:
			return
		}
		if err != nil {
			// The reader sees the same error and removes the connection.
			return
		}
	}
}

// Resume arms monitoring for conn, initially and after each read.
func (e *Epoll) Resume(conn net.Conn) {
	e.mu.Lock()
	pc := e.conns[conn]
	e.mu.Unlock()
	if pc == nil {
		return
	}
	select {
	case pc.resume <- struct{}{}:
	default:
	}
}

// Remove stops monitoring conn.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	pc := e.conns[conn]
	delete(e.conns, conn)
	e.mu.Unlock()
	if pc != nil {
		close(pc.stop)
	}
	return nil
}

// Wait blocks until at least one connection is ready and returns every
// connection ready at that moment.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
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

// Close stops all monitors.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}

func socketFD(net.Conn) int {
	return -1
}
