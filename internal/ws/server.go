// Package ws is the WebSocket transport for the chat hub. Connections are
// upgraded with gobwas/ws, watched with epoll and read by a bounded worker
// pool; every frame is handed to the MessageDispatcher and every hub event
// leaves through the connection's outbound queue.
package ws

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/starapp/chat-server/internal/chat"
	"github.com/starapp/chat-server/internal/metrics"
	"github.com/starapp/chat-server/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for reading a frame once data is ready
	WriteTimeout   time.Duration // timeout for writing one frame
	MaxFrameBytes  int64         // larger frames close the connection
	SendQueueSize  int           // outbound frames buffered per connection
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxFrameBytes:  64 << 20,
		SendQueueSize:  256,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server accepts WebSocket connections and attaches them to a chat hub.
type Server struct {
	config       ServerConfig
	hub          *chat.Hub
	epoll        *Epoll
	conns        *ConnectionManager
	workerPool   chan struct{} // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(connID string)
	done         chan struct{}
	stopOnce     sync.Once
	startedAt    time.Time
}

// NewServer creates a server that feeds frames to onMessage. Start must be
// called before the upgrade handler is served.
func NewServer(config ServerConfig, hub *chat.Hub, onMessage func(conn *Connection, data []byte)) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	return &Server{
		config:     config,
		hub:        hub,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// Start creates the poller and starts the event loop and heartbeat. It
// returns immediately.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.startedAt = time.Now()

	go s.startEventLoop()
	s.startHeartbeat(s.config.Heartbeat)

	zap.L().Info("ws: server started",
		zap.Int("workers", s.config.WorkerPoolSize),
		zap.Int("max_conns", s.config.MaxConnections),
	)
	return nil
}

// ServeHTTP upgrades the request, sends session_created and attaches the
// connection to the hub.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		zap.L().Debug("ws: upgrade failed", zap.Error(err))
		return
	}

	netConn, err := s.epoll.Add(raw)
	if err != nil {
		zap.L().Error("ws: epoll add failed", zap.Error(err))
		raw.Close()
		return
	}

	c := NewConnection(uuid.NewString(), netConn, s.config.SendQueueSize, s.config.WriteTimeout)

	created, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{SessionID: c.ID})
	if err == nil {
		c.Enqueue(created)
	}

	s.conns.Add(c)
	s.hub.Connect(c.ID, c)
	metrics.ConnectionsTotal.Inc()
	go c.Run(s.RemoveConnection)
	s.epoll.Resume(netConn)

	zap.L().Info("ws: new connection",
		zap.String("session", c.ID),
		zap.String("remote", r.RemoteAddr),
		zap.Int("total", s.conns.Count()),
	)
}

// startEventLoop hands ready connections to the worker pool.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if !isEINTR(err) {
				zap.L().Warn("ws: epoll wait error", zap.Error(err))
			}
			continue
		}

		for _, conn := range conns {
			s.workerPool <- struct{}{}
			go func(conn net.Conn) {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}(conn)
		}
	}
}

// handleConn reads one message from a ready connection. Control frames are
// answered and drained; fragmented messages are reassembled before dispatch.
// Read errors remove the connection.
func (s *Server) handleConn(netConn net.Conn) {
	defer s.epoll.Resume(netConn)

	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// The fallback poller can race a late report with a read in progress.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		defer netConn.SetReadDeadline(time.Time{})
	}

	control := wsutil.ControlFrameHandler(controlWriter{c}, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         netConn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   s.config.MaxFrameBytes,
		OnIntermediate: control,
	}

	header, err := rd.NextFrame()
	if err != nil {
		// A timeout before any byte arrived means the readiness report was stale.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.dropOnReadError(c, err)
		return
	}

	c.Touch()

	if header.OpCode.IsControl() {
		if err := control(header, rd); err != nil {
			s.RemoveConnection(c)
		}
		return
	}

	data, err := readMessage(rd, s.config.MaxFrameBytes)
	if err != nil {
		s.dropOnReadError(c, err)
		return
	}
	if len(data) == 0 || s.onMessage == nil {
		return
	}
	s.onMessage(c, data)
}

// readMessage reads the rest of the current message, across continuation
// frames, capped at limit bytes when limit is positive.
func readMessage(rd *wsutil.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(rd)
	}
	data, err := io.ReadAll(io.LimitReader(rd, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, wsutil.ErrFrameTooLarge
	}
	return data, nil
}

// dropOnReadError removes c, telling the peer first when the message was too
// large.
func (s *Server) dropOnReadError(c *Connection, err error) {
	if errors.Is(err, wsutil.ErrFrameTooLarge) {
		zap.L().Warn("ws: message too large",
			zap.String("session", c.ID),
			zap.Int64("limit", s.config.MaxFrameBytes),
		)
		_ = c.WriteClose(ws.StatusMessageTooBig, "frame too large")
	}
	s.RemoveConnection(c)
}

// SetOnDisconnect registers a callback run after a connection has left the
// hub.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// RemoveConnection detaches c from the poller and the hub and closes it.
// Concurrent calls for the same connection clean up once.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}
	if !s.conns.Remove(c.ID) {
		return
	}

	s.hub.Disconnect(c.ID)
	metrics.ConnectionsTotal.Dec()
	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	zap.L().Info("ws: connection closed", zap.String("session", c.ID), zap.Int("total", s.conns.Count()))
}

// Connections exposes the connection registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	return s.conns.Count()
}

// Uptime is the time since Start.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Shutdown closes every connection and stops the event loop. The HTTP
// listener is owned by the caller.
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() {
		close(s.done)
		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}
		if s.epoll != nil {
			_ = s.epoll.Close()
		}
		zap.L().Info("ws: server stopped")
	})
	return nil
}

// isEINTR reports an interrupted system call, which epoll_wait returns on
// signal delivery.
func isEINTR(err error) bool {
	return errors.Is(err, syscall.EINTR)
}
