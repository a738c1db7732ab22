// Package ws is the WebSocket transport of the support broker. It upgrades
// HTTP connections with gobwas/ws, multiplexes reads through epoll and a
// bounded worker pool, and writes outbound events through one queue and
// writer goroutine per connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deskline/support-chat/internal/metrics"
	"github.com/deskline/support-chat/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr        string        // address to listen on, e.g. ":8080"
	WorkerPoolSize    int           // max concurrent read-worker goroutines
	MaxConnections    int           // hard cap on total connections
	ReadTimeout       time.Duration // timeout for reading a frame once data is ready
	WriteTimeout      time.Duration // timeout for a single frame write
	OutboundQueueSize int           // frames buffered per connection before dropping
	Heartbeat         HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:        ":8080",
		WorkerPoolSize:    256,
		MaxConnections:    100000,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		OutboundQueueSize: 256,
		Heartbeat:         DefaultHeartbeatConfig(),
	}
}

// SessionMirror records connection lifetimes outside the process.
// *session.Store satisfies it.
type SessionMirror interface {
	Create(ctx context.Context, connID string) error
	Touch(ctx context.Context, connIDs ...string) error
	Delete(ctx context.Context, connID string) error
}

// Server is the WebSocket server built on gobwas/ws and epoll.
type Server struct {
	config       ServerConfig
	logger       *zap.Logger
	epoll        *Epoll
	conns        *ConnectionManager
	mirror       SessionMirror
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onDisconnect func(connID string)                 // called when a connection is removed

	mu         sync.Mutex // guards epoll and httpServer between Serve and Shutdown
	httpServer *http.Server
	done       chan struct{}
	stopOnce   sync.Once
	startedAt  time.Time
}

// NewServer creates a Server. onMessage is called from a worker goroutine for
// every complete text frame received from a client.
func NewServer(config ServerConfig, logger *zap.Logger, onMessage func(conn *Connection, data []byte)) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat = DefaultHeartbeatConfig()
	}
	return &Server{
		config:     config,
		logger:     logger.Named("ws"),
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// SetSessionMirror registers where connection lifetimes are mirrored.
func (s *Server) SetSessionMirror(m SessionMirror) {
	s.mirror = m
}

// SetOnDisconnect registers a callback invoked once when a connection is
// removed (read error, heartbeat timeout, write failure or close frame). It
// runs before the mirrored session is deleted.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// Handler returns the HTTP handler serving /ws, /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ws: listen %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve initializes epoll, starts the event loop and heartbeat, and serves
// HTTP on ln. It blocks until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	epoll, err := NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		_ = epoll.Close()
		return nil
	default:
	}
	s.epoll = epoll
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	go s.startEventLoop()
	StartHeartbeat(s, s.config.Heartbeat)

	s.logger.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("workers", s.config.WorkerPoolSize),
		zap.Int("max_conns", s.config.MaxConnections))

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades the request, registers the connection with the
// manager and epoll, starts its writer and sends session:created.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	fd := socketFD(raw)
	conn := wrapConn(raw)
	c := newConnection(uuid.NewString(), conn, fd, s.config.OutboundQueueSize)

	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		s.logger.Error("epoll add failed", zap.String("conn_id", c.ID), zap.Error(err))
		s.conns.Remove(c.ID)
		return
	}
	metrics.ConnectionsTotal.Inc()

	go func() {
		if err := c.writeLoop(s.config.WriteTimeout); err != nil {
			s.logger.Debug("write failed", zap.String("conn_id", c.ID), zap.Error(err))
			s.RemoveConnection(c)
		}
	}()

	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.mirror.Create(ctx, c.ID); err != nil {
			s.logger.Warn("session mirror create failed", zap.String("conn_id", c.ID), zap.Error(err))
		}
		cancel()
	}

	data, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{SessionID: c.ID})
	if err == nil {
		s.Deliver(c.ID, data)
	}

	s.logger.Debug("connection opened",
		zap.String("conn_id", c.ID),
		zap.Int("fd", fd),
		zap.Int("total", s.conns.Count()))
}

// handleHealth reports liveness, the connection count and uptime as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop dispatches every ready connection to a worker goroutine,
// bounded by the worker pool semaphore.
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
			if isEINTR(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("epoll wait error", zap.Error(err))
			continue
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads one frame from a ready connection. wsutil.NextReader lets
// control frames through without waiting for a data frame. Read failures
// evict the connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Level-triggered epoll may report the same fd again before we finish.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A timeout means the readiness was stale; the heartbeat handles dead
		// peers.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.epoll.Rearm(netConn)
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
			return
		}
		s.epoll.Rearm(netConn)
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	s.epoll.Rearm(netConn)

	if len(data) == 0 || s.onMessage == nil {
		return
	}
	s.onMessage(c, data)
}

// Deliver queues data for connID without blocking. Frames for unknown
// connections or full queues are dropped and counted.
func (s *Server) Deliver(connID string, data []byte) {
	c := s.conns.Get(connID)
	if c == nil {
		metrics.OutboundDropped.WithLabelValues("gone").Inc()
		return
	}
	if !c.Enqueue(data) {
		metrics.OutboundDropped.WithLabelValues("queue_full").Inc()
		s.logger.Warn("outbound queue full, dropping frame", zap.String("conn_id", connID))
	}
}

// RemoveConnection evicts a connection from epoll and the manager, closes
// it, and runs the disconnect callback. Concurrent calls for the same
// connection clean up once.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.mirror.Delete(ctx, c.ID); err != nil {
			s.logger.Warn("session mirror delete failed", zap.String("conn_id", c.ID), zap.Error(err))
		}
	}

	s.logger.Debug("connection closed", zap.String("conn_id", c.ID), zap.Int("total", s.conns.Count()))
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops accepting connections, stops the event loop and closes
// every live connection, running the disconnect callback for each.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.stopOnce.Do(func() {
		s.logger.Info("shutting down server")
		s.mu.Lock()
		close(s.done)
		srv, epoll := s.httpServer, s.epoll
		s.mu.Unlock()

		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				shutdownErr = fmt.Errorf("ws: http shutdown: %w", err)
			}
		}

		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}

		if epoll != nil {
			_ = epoll.Close()
		}
		s.logger.Info("server stopped")
	})
	return shutdownErr
}

// isEINTR reports whether err is an interrupted system call, which is
// expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
