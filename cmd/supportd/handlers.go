package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/deskline/support-chat/internal/apperror"
	"github.com/deskline/support-chat/internal/broker"
	"github.com/deskline/support-chat/internal/chat"
	"github.com/deskline/support-chat/internal/protocol"
	"github.com/deskline/support-chat/internal/ratelimit"
	"github.com/deskline/support-chat/internal/session"
	"github.com/deskline/support-chat/internal/ws"
)

// chatHandlers adapts inbound WebSocket events to broker operations and
// reports failures to the originating connection only.
type chatHandlers struct {
	broker  *broker.Broker
	limiter *ratelimit.Limiter // nil when Redis is not configured
	replies *ws.MessageDispatcher
	logger  *zap.Logger
}

func registerHandlers(d *ws.MessageDispatcher, b *broker.Broker, limiter *ratelimit.Limiter, logger *zap.Logger) {
	h := &chatHandlers{broker: b, limiter: limiter, replies: d, logger: logger}

	// -----------------------------------------------------------------------
	// join-ticket: enter a ticket room, receive its history
	// -----------------------------------------------------------------------
	d.Register(protocol.TypeJoinTicket, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.JoinTicketMsg)
		if !ok {
			return
		}
		err := b.Join(conn.ID, broker.JoinRequest{
			CompanyID:   m.CompanyID,
			TicketID:    m.TicketID,
			Role:        session.Role(m.Role),
			DisplayName: m.DisplayName,
		})
		h.fail(conn.ID, err)
	})

	// -----------------------------------------------------------------------
	// leave-ticket: leave the room but keep the connection
	// -----------------------------------------------------------------------
	d.Register(protocol.TypeLeaveTicket, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.LeaveTicketMsg)
		if !ok {
			return
		}
		h.fail(conn.ID, b.Leave(conn.ID, m.TicketID))
	})

	// -----------------------------------------------------------------------
	// message:send: append and fan out
	// -----------------------------------------------------------------------
	d.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		if !h.allow(conn.ID, ratelimit.RuleMessage) {
			h.fail(conn.ID, apperror.RateLimited())
			return
		}
		_, err := b.SendMessage(conn.ID, broker.SendRequest{
			TicketID:   m.TicketID,
			Sender:     m.Sender,
			SenderType: chat.SenderType(m.SenderType),
			Content:    m.Content,
			MediaType:  chat.MediaType(m.MediaType),
			MediaURL:   m.MediaURL,
		})
		h.fail(conn.ID, err)
	})

	// -----------------------------------------------------------------------
	// typing:start / typing:stop: relay only
	// -----------------------------------------------------------------------
	d.Register(protocol.TypeTypingStart, h.typing(true))
	d.Register(protocol.TypeTypingStop, h.typing(false))
}

func (h *chatHandlers) typing(isTyping bool) ws.MessageHandler {
	return func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		if !h.allow(conn.ID, ratelimit.RuleTyping) {
			h.fail(conn.ID, apperror.RateLimited())
			return
		}
		h.fail(conn.ID, h.broker.Typing(conn.ID, broker.TypingRequest{
			TicketID:    m.TicketID,
			DisplayName: m.DisplayName,
			IsTyping:    isTyping,
		}))
	}
}

func (h *chatHandlers) allow(connID string, rule ratelimit.Rule) bool {
	if h.limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	// Allow fails open and logs Redis errors itself; only the verdict matters.
	ok, _ := h.limiter.Allow(ctx, connID, rule)
	return ok
}

// fail sends err to connID as an error event. A nil err is a no-op.
func (h *chatHandlers) fail(connID string, err error) {
	if err == nil {
		return
	}
	appErr := apperror.From(err)
	if appErr.Kind == apperror.KindInternal {
		h.logger.Error("operation failed", zap.String("conn_id", connID), zap.Error(err))
	}
	h.replies.Reply(connID, protocol.TypeError, protocol.ErrorMsg{
		Code:    appErr.Code,
		Message: appErr.Message,
	})
}
