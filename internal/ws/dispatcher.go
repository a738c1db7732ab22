package ws

import (
	"go.uber.org/zap"

	"github.com/deskline/support-chat/internal/protocol"
)

// MessageHandler handles one parsed client event. msg is the concrete struct
// returned by protocol.ParseClientMessage (protocol.JoinTicketMsg,
// protocol.SendMessageMsg, ...).
type MessageHandler func(conn *Connection, msg interface{})

// Deliverer queues an encoded frame for a connection. *Server satisfies it.
type Deliverer interface {
	Deliver(connID string, data []byte)
}

// MessageDispatcher routes incoming frames to registered handlers by event
// type. It answers ping itself and replies with an error event to frames
// that cannot be parsed or have no handler.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	out      Deliverer
	logger   *zap.Logger
}

// NewMessageDispatcher creates a MessageDispatcher that replies through out.
// out may be nil and set later with SetDeliverer, since the server needs the
// Dispatch callback before it exists.
func NewMessageDispatcher(out Deliverer, logger *zap.Logger) *MessageDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		out:      out,
		logger:   logger,
	}
}

// SetDeliverer assigns where replies are sent.
func (d *MessageDispatcher) SetDeliverer(out Deliverer) {
	d.out = out
}

// Register associates a MessageHandler with an event type, replacing any
// previous handler for it.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.logger.Debug("dispatch parse error", zap.String("conn_id", conn.ID), zap.Error(err))
		d.Reply(conn.ID, protocol.TypeError, protocol.ErrorMsg{
			Code:    "parse_error",
			Message: "invalid message format",
		})
		return
	}

	if msgType == protocol.TypePing {
		conn.Touch()
		d.Reply(conn.ID, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.logger.Debug("unsupported message type", zap.String("type", msgType), zap.String("conn_id", conn.ID))
		d.Reply(conn.ID, protocol.TypeError, protocol.ErrorMsg{
			Code:    "unsupported_type",
			Message: "unsupported message type",
		})
		return
	}

	handler(conn, msg)
}

// Reply encodes an event and queues it for a single connection.
func (d *MessageDispatcher) Reply(connID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		d.logger.Error("failed to encode reply", zap.String("type", msgType), zap.Error(err))
		return
	}
	if d.out == nil {
		return
	}
	d.out.Deliver(connID, data)
}
