// Package client provides a WebSocket load test client for supportd. It
// connects using gobwas/ws (the same library the server uses), records the
// session id from session:created, and tracks per-connection metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/deskline/support-chat/internal/protocol"
)

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	FirstMsgLatency  time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client is a single simulated customer or agent connection. Incoming events
// are dispatched to handlers registered with On.
type Client struct {
	conn   net.Conn
	reader io.Reader // handshake buffer first, then conn

	writeMu sync.Mutex

	mu        sync.Mutex
	sessionID string
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	started   time.Time

	session   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New dials url and starts reading events in the background.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		reader:   conn,
		handlers: make(map[string]func(json.RawMessage)),
		started:  start,
		session:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	// The server writes session:created right after the upgrade, so it may
	// already sit in the handshake buffer.
	if br != nil {
		c.reader = io.MultiReader(br, conn)
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()
	return c, nil
}

// Send marshals msg and writes it as a text frame. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	err = wsutil.WriteClientMessage(c.conn, ws.OpText, data)
	c.writeMu.Unlock()

	c.mu.Lock()
	if err != nil {
		c.metrics.Errors++
	} else {
		c.metrics.MessagesSent++
	}
	c.mu.Unlock()
	return err
}

// Join enters a ticket room.
func (c *Client) Join(companyID, ticketID, role, displayName string) error {
	return c.Send(protocol.JoinTicketMsg{
		Type:        protocol.TypeJoinTicket,
		TicketID:    ticketID,
		CompanyID:   companyID,
		Role:        role,
		DisplayName: displayName,
	})
}

// SendMessage posts a text message to the joined ticket.
func (c *Client) SendMessage(ticketID, sender, senderType, content string) error {
	return c.Send(protocol.SendMessageMsg{
		Type:       protocol.TypeSendMessage,
		TicketID:   ticketID,
		Sender:     sender,
		SenderType: senderType,
		Content:    content,
	})
}

// Leave leaves a ticket room without disconnecting.
func (c *Client) Leave(ticketID string) error {
	return c.Send(protocol.LeaveTicketMsg{Type: protocol.TypeLeaveTicket, TicketID: ticketID})
}

// On registers a handler for a server event type, replacing any previous
// one. Handlers run on the read goroutine and must not block.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// WaitForSession blocks until session:created has been received.
func (c *Client) WaitForSession(ctx context.Context) error {
	select {
	case <-c.session:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before session was created")
	}
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection and stops the read loop. It is safe to call
// more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// SessionID returns the id assigned by the server, or "" before the
// handshake completes.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop() {
	rw := struct {
		io.Reader
		io.Writer
	}{c.reader, c.conn}

	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.mu.Lock()
			c.metrics.Errors++
			c.mu.Unlock()
			c.Close()
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		c.mu.Lock()
		if c.metrics.MessagesReceived == 0 {
			c.metrics.FirstMsgLatency = time.Since(c.started)
		}
		c.metrics.MessagesReceived++
		if env.Type == protocol.TypeSessionCreated && c.sessionID == "" {
			var msg protocol.SessionCreatedMsg
			if err := json.Unmarshal(data, &msg); err == nil && msg.SessionID != "" {
				c.sessionID = msg.SessionID
				close(c.session)
			}
		}
		handler := c.handlers[env.Type]
		c.mu.Unlock()

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
