// Package protocol defines the WebSocket events exchanged between support
// clients and the broker. Every frame is a JSON object whose "type" field
// names the event; the remaining fields are the event payload. Event names
// are a wire contract shared with existing clients and must not change.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/deskline/support-chat/internal/chat"
)

// ---------------------------------------------------------------------------
// Event names
// ---------------------------------------------------------------------------

// Client -> Server events.
const (
	TypeJoinTicket  = "join-ticket"
	TypeLeaveTicket = "leave-ticket"
	TypeSendMessage = "message:send"
	TypeTypingStart = "typing:start"
	TypeTypingStop  = "typing:stop"
	TypePing        = "ping"
)

// Server -> Client events.
const (
	TypeSessionCreated      = "session:created"
	TypeTicketHistory       = "ticket:history"
	TypeMessageReceived     = "message:received"
	TypeTypingUpdate        = "typing:update"
	TypeUserJoined          = "user:joined"
	TypeUserLeft            = "user:left"
	TypeTicketUpdated       = "ticket:updated"
	TypeTicketStatusUpdated = "ticket:status-updated"
	TypeError               = "error"
	TypePong                = "pong"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server payloads
// ---------------------------------------------------------------------------

// JoinTicketMsg asks to enter a ticket room as customer or agent.
type JoinTicketMsg struct {
	Type        string `json:"type"`
	TicketID    string `json:"ticketId"`
	CompanyID   string `json:"companyId"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
}

// LeaveTicketMsg leaves the current ticket room without disconnecting.
type LeaveTicketMsg struct {
	Type     string `json:"type"`
	TicketID string `json:"ticketId"`
}

// SendMessageMsg posts a message to the ticket the connection has joined.
type SendMessageMsg struct {
	Type       string `json:"type"`
	TicketID   string `json:"ticketId"`
	Sender     string `json:"sender"`
	SenderType string `json:"senderType"`
	Content    string `json:"content"`
	MediaType  string `json:"mediaType,omitempty"`
	MediaURL   string `json:"mediaUrl,omitempty"`
}

// TypingMsg is the payload of both typing:start and typing:stop.
type TypingMsg struct {
	Type        string `json:"type"`
	TicketID    string `json:"ticketId"`
	DisplayName string `json:"displayName"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client payloads
// ---------------------------------------------------------------------------

// SessionCreatedMsg tells a fresh connection its id.
type SessionCreatedMsg struct {
	SessionID string `json:"sessionId"`
}

// TicketHistoryMsg carries the full message log to a joining connection.
type TicketHistoryMsg struct {
	TicketID string         `json:"ticketId"`
	Messages []chat.Message `json:"messages"`
}

// MessageReceivedMsg delivers a newly stored message to the ticket room.
type MessageReceivedMsg struct {
	Message chat.Message `json:"message"`
}

// TypingUpdateMsg relays another member's typing state.
type TypingUpdateMsg struct {
	TicketID    string `json:"ticketId"`
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
}

// UserJoinedMsg announces a new member to the rest of the room.
type UserJoinedMsg struct {
	TicketID    string    `json:"ticketId"`
	Role        string    `json:"role"`
	DisplayName string    `json:"displayName"`
	Timestamp   time.Time `json:"timestamp"`
}

// UserLeftMsg announces that a member left or disconnected.
type UserLeftMsg struct {
	TicketID    string    `json:"ticketId"`
	Role        string    `json:"role"`
	DisplayName string    `json:"displayName,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TicketUpdatedMsg is the light activity notice for company members who
// are not in the ticket room.
type TicketUpdatedMsg struct {
	TicketID    string       `json:"ticketId"`
	LastMessage chat.Message `json:"lastMessage"`
}

// TicketStatusUpdatedMsg announces a status change to the ticket room.
type TicketStatusUpdatedMsg struct {
	TicketID string      `json:"ticketId"`
	Status   chat.Status `json:"status"`
}

// ErrorMsg reports a rejected operation to the connection that issued it.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct{}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client event.
// It returns the event type, the decoded struct, and any error. Unknown and
// server-only event types are errors.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinTicket:
		var m JoinTicketMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveTicket:
		var m LeaveTicketMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStart, TypeTypingStop:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage encodes payload as a JSON object and injects msgType
// under the "type" key. The payload must encode to a JSON object.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	// RawMessage values keep each field's original encoding (large integers,
	// timestamps) intact through the re-marshal.
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: payload is not a JSON object: %w", err)
	}
	if m == nil {
		m = make(map[string]json.RawMessage, 1)
	}

	typeRaw, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal type: %w", err)
	}
	m["type"] = typeRaw

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
