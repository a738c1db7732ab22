package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client. Application frames are
// queued on an outbound channel and written by one writer goroutine, so a
// slow client never blocks the goroutine producing the event.
type Connection struct {
	ID        string    // connection id (UUID), also the session id sent to the client
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for epoll lookups (-1 off Linux)
	CreatedAt time.Time // when the connection was established

	lastActive atomic.Int64 // unix nanos of the last frame read from the client
	processing int32        // atomic flag: 0 = idle, 1 = being read by handleConn

	writeMu   sync.Mutex    // serializes frames written to Conn
	outbound  chan []byte   // queued application frames
	closed    chan struct{} // closed once the connection is shut down
	closeOnce sync.Once
}

func newConnection(id string, conn net.Conn, fd int, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = 1
	}
	c := &Connection{
		ID:        id,
		Conn:      conn,
		Fd:        fd,
		CreatedAt: time.Now(),
		outbound:  make(chan []byte, queueSize),
		closed:    make(chan struct{}),
	}
	c.Touch()
	return c
}

// Touch records client activity.
func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last recorded client activity.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Enqueue queues data for the writer goroutine. It never blocks and reports
// false when the queue is full or the connection is closed.
func (c *Connection) Enqueue(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.outbound <- data:
		return true
	default:
		return false
	}
}

// writeLoop drains the outbound queue until the connection closes. A write
// error is returned to the caller, which evicts the connection.
func (c *Connection) writeLoop(writeTimeout time.Duration) error {
	for {
		select {
		case <-c.closed:
			return nil
		case data := <-c.outbound:
			if err := c.WriteMessage(data, writeTimeout); err != nil {
				return err
			}
		}
	}
}

// WriteMessage writes a text frame directly, bypassing the queue. The write
// mutex keeps frames from the writer goroutine and heartbeat pings from
// interleaving.
func (c *Connection) WriteMessage(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close stops the writer and closes the underlying network connection. It is
// safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.Conn.Close()
	})
	return err
}

// ConnectionManager is a goroutine-safe index of live connections by id, by
// file descriptor and by net.Conn.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byFd   map[int]*Connection
	byConn map[net.Conn]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byFd:   make(map[int]*Connection),
		byConn: make(map[net.Conn]*Connection),
	}
}

// Add registers a new connection in every lookup map.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	if conn.Fd >= 0 {
		cm.byFd[conn.Fd] = conn
	}
	cm.byConn[conn.Conn] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by id and closes it. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		if conn.Fd >= 0 {
			delete(cm.byFd, conn.Fd)
		}
		delete(cm.byConn, conn.Conn)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given id, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection wrapping c, or nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	conn := cm.byConn[c]
	cm.mu.RUnlock()
	if conn != nil {
		return conn
	}
	if fd := socketFD(c); fd >= 0 {
		return cm.GetByFd(fd)
	}
	return nil
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
