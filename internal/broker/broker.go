// Package broker is the room/session state machine of the support chat. It
// maps live connections to ticket rooms, enforces tenant isolation on every
// operation, mutates the conversation store and fans the resulting events
// out to the right connections.
//
// A connection moves through Connected (no room) -> InTicketRoom -> gone.
// All mutations and recipient computations for one ticket are serialized by
// a per-ticket lock, so every member observes the same event order and a
// joiner sees each message either in its history or live, never both.
package broker

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deskline/support-chat/internal/apperror"
	"github.com/deskline/support-chat/internal/chat"
	"github.com/deskline/support-chat/internal/metrics"
	"github.com/deskline/support-chat/internal/protocol"
	"github.com/deskline/support-chat/internal/session"
	"github.com/deskline/support-chat/internal/tenant"
)

// Outbox delivers an encoded event to a connection. Deliver must not block;
// implementations drop the event when the connection cannot keep up.
type Outbox interface {
	Deliver(connID string, data []byte)
}

// EventPublisher receives ticket events after the mutation they describe has
// been committed. Publishing is best effort.
type EventPublisher interface {
	PublishTicketEvent(ctx context.Context, ev chat.TicketEvent) error
}

// PresenceRecorder mirrors room membership to an external store.
type PresenceRecorder interface {
	SetRoom(ctx context.Context, conn session.Connection) error
	ClearRoom(ctx context.Context, connID string) error
}

// Companies resolves company ids. *tenant.Directory satisfies it.
type Companies interface {
	ByID(companyID string) (tenant.Company, error)
}

// JoinRequest is the payload of a join-ticket operation.
type JoinRequest struct {
	CompanyID   string
	TicketID    string
	Role        session.Role
	DisplayName string
}

// SendRequest is the payload of a message:send operation.
type SendRequest struct {
	TicketID   string
	Sender     string
	SenderType chat.SenderType
	Content    string
	MediaType  chat.MediaType
	MediaURL   string
}

// TypingRequest is the payload of typing:start and typing:stop.
type TypingRequest struct {
	TicketID    string
	DisplayName string
	IsTyping    bool
}

// Broker owns every state transition of connections and tickets.
type Broker struct {
	companies Companies
	store     *chat.Store
	registry  *session.Registry
	outbox    Outbox
	publisher EventPublisher
	presence  PresenceRecorder
	logger    *zap.Logger
	now       func() time.Time

	// ticket id -> *sync.Mutex. Entries are never evicted; tickets live as
	// long as the process.
	roomLocks sync.Map

	// Connections that have disconnected, so a join still in flight on a
	// read worker cannot register them afterwards. Pruned after goneTTL.
	goneMu    sync.Mutex
	gone      map[string]time.Time
	lastSweep time.Time
}

// goneTTL bounds how long a disconnected id is remembered. It only has to
// outlive a handler already running for that connection.
const goneTTL = time.Minute

// Option configures optional Broker collaborators.
type Option func(*Broker)

// WithPublisher publishes committed ticket events to p.
func WithPublisher(p EventPublisher) Option {
	return func(b *Broker) { b.publisher = p }
}

// WithPresence mirrors joins and leaves to p.
func WithPresence(p PresenceRecorder) Option {
	return func(b *Broker) { b.presence = p }
}

// New creates a Broker. companies, store, registry and outbox are required.
func New(companies Companies, store *chat.Store, registry *session.Registry, outbox Outbox, logger *zap.Logger, opts ...Option) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broker{
		companies: companies,
		store:     store,
		registry:  registry,
		outbox:    outbox,
		logger:    logger,
		now:       time.Now,
		gone:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ---------------------------------------------------------------------------
// Connection operations
// ---------------------------------------------------------------------------

// Join places connID in the ticket room. The ticket must belong to
// req.CompanyID. A connection that is already in another ticket's room
// leaves it first. The joiner receives ticket:history; every other member
// receives user:joined.
func (b *Broker) Join(connID string, req JoinRequest) (err error) {
	defer b.observe("join", time.Now(), &err)

	ticket, err := b.store.Ticket(req.TicketID)
	if err != nil {
		return err
	}
	if ticket.CompanyID != req.CompanyID {
		b.logger.Warn("cross-tenant join rejected",
			zap.String("conn_id", connID),
			zap.String("company_id", req.CompanyID),
			zap.String("ticket_id", req.TicketID))
		return apperror.AccessDenied()
	}
	if !req.Role.Valid() {
		return apperror.Validation("role must be customer or agent")
	}

	if prev, ok := b.registry.Lookup(connID); ok && prev.TicketID != req.TicketID {
		b.leaveRoom(connID, prev.TicketID)
	}

	conn := session.Connection{
		ID:          connID,
		CompanyID:   ticket.CompanyID,
		TicketID:    ticket.ID,
		Role:        req.Role,
		DisplayName: req.DisplayName,
	}

	unlock := b.lockRoom(ticket.ID)
	if !b.registerLive(conn) {
		unlock()
		return apperror.New(apperror.KindNotInRoom, "connection closed")
	}
	history := b.store.Messages(ticket.ID)
	others := without(b.registry.MembersOfTicket(ticket.ID), connID)

	b.deliver([]string{connID}, protocol.TypeTicketHistory, protocol.TicketHistoryMsg{
		TicketID: ticket.ID,
		Messages: history,
	})
	b.deliver(others, protocol.TypeUserJoined, protocol.UserJoinedMsg{
		TicketID:    ticket.ID,
		Role:        string(req.Role),
		DisplayName: req.DisplayName,
		Timestamp:   b.now().UTC(),
	})
	unlock()

	metrics.ActiveRooms.Set(float64(b.registry.RoomCount()))
	b.logger.Debug("joined ticket",
		zap.String("conn_id", connID),
		zap.String("ticket_id", ticket.ID),
		zap.String("role", string(req.Role)),
		zap.Int("history", len(history)))

	if b.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if perr := b.presence.SetRoom(ctx, conn); perr != nil {
			b.logger.Warn("presence update failed", zap.String("conn_id", connID), zap.Error(perr))
		}
	}
	return nil
}

// Leave removes connID from its ticket room and tells the remaining members.
// A non-empty ticketID must match the room the connection is in. Leaving
// while not in a room is a no-op. The connection itself stays open.
func (b *Broker) Leave(connID, ticketID string) (err error) {
	defer b.observe("leave", time.Now(), &err)

	conn, ok := b.registry.Lookup(connID)
	if !ok {
		return nil
	}
	if ticketID != "" && ticketID != conn.TicketID {
		return apperror.AccessDenied()
	}
	b.leaveRoom(connID, conn.TicketID)
	return nil
}

// Disconnect is called once the transport connection is gone. Remaining
// members of its room receive user:left.
func (b *Broker) Disconnect(connID string) {
	defer b.observe("disconnect", time.Now(), nil)

	b.markGone(connID)
	if conn, ok := b.registry.Lookup(connID); ok {
		b.leaveRoom(connID, conn.TicketID)
	}
}

// SendMessage appends a message to the connection's ticket and fans it out:
// message:received to every room member including the sender, and
// ticket:updated to company members watching other tickets.
func (b *Broker) SendMessage(connID string, req SendRequest) (msg chat.Message, err error) {
	defer b.observe("send_message", time.Now(), &err)

	conn, err := b.member(connID, req.TicketID)
	if err != nil {
		return chat.Message{}, err
	}

	unlock := b.lockRoom(conn.TicketID)
	// The connection may have moved between the lookup and the lock.
	if cur, ok := b.registry.Lookup(connID); !ok || cur.TicketID != conn.TicketID {
		unlock()
		return chat.Message{}, apperror.NotInRoom()
	}

	msg, err = b.store.AppendMessage(conn.TicketID, chat.NewMessage{
		Sender:     req.Sender,
		SenderType: req.SenderType,
		Content:    req.Content,
		MediaType:  req.MediaType,
		MediaURL:   req.MediaURL,
	})
	if err != nil {
		unlock()
		return chat.Message{}, err
	}

	room := b.registry.MembersOfTicket(conn.TicketID)
	b.deliver(room, protocol.TypeMessageReceived, protocol.MessageReceivedMsg{Message: msg})
	b.deliver(outside(b.registry.MembersOfCompany(conn.CompanyID), room), protocol.TypeTicketUpdated, protocol.TicketUpdatedMsg{
		TicketID:    conn.TicketID,
		LastMessage: msg,
	})
	unlock()

	metrics.MessagesTotal.WithLabelValues(string(msg.SenderType)).Inc()
	b.publish(chat.TicketEvent{
		Type:      chat.EventMessageCreated,
		CompanyID: conn.CompanyID,
		TicketID:  conn.TicketID,
		Message:   &msg,
	})
	return msg, nil
}

// Typing relays a typing indicator to the other members of the room. Nothing
// is stored and no expiry is tracked.
func (b *Broker) Typing(connID string, req TypingRequest) (err error) {
	defer b.observe("typing", time.Now(), &err)

	conn, err := b.member(connID, req.TicketID)
	if err != nil {
		return err
	}

	unlock := b.lockRoom(conn.TicketID)
	defer unlock()
	b.deliver(without(b.registry.MembersOfTicket(conn.TicketID), connID), protocol.TypeTypingUpdate, protocol.TypingUpdateMsg{
		TicketID:    conn.TicketID,
		DisplayName: req.DisplayName,
		IsTyping:    req.IsTyping,
	})
	return nil
}

// ---------------------------------------------------------------------------
// Boundary operations
// ---------------------------------------------------------------------------

// CreateTicket opens a ticket for a customer of companyID.
func (b *Broker) CreateTicket(ctx context.Context, companyID, customerID, customerName string) (t chat.Ticket, err error) {
	defer b.observe("create_ticket", time.Now(), &err)

	if blank(companyID) || blank(customerID) || blank(customerName) {
		return chat.Ticket{}, apperror.Validation("companyId, customerId and customerName are required")
	}
	t, err = b.store.CreateTicket(companyID, customerID, customerName)
	if err != nil {
		return chat.Ticket{}, err
	}

	b.logger.Info("ticket created",
		zap.String("ticket_id", t.ID),
		zap.String("company_id", companyID))
	b.publishCtx(ctx, chat.TicketEvent{
		Type:      chat.EventTicketCreated,
		CompanyID: companyID,
		TicketID:  t.ID,
		Status:    t.Status,
	})
	return t, nil
}

// UpdateStatus sets a ticket's status on behalf of companyID and broadcasts
// ticket:status-updated to the room, also when the status is unchanged.
func (b *Broker) UpdateStatus(ctx context.Context, companyID, ticketID string, status chat.Status) (t chat.Ticket, err error) {
	defer b.observe("update_status", time.Now(), &err)

	if _, err := b.owned(companyID, ticketID); err != nil {
		return chat.Ticket{}, err
	}

	unlock := b.lockRoom(ticketID)
	t, err = b.store.UpdateStatus(ticketID, status)
	if err != nil {
		unlock()
		return chat.Ticket{}, err
	}
	b.deliver(b.registry.MembersOfTicket(ticketID), protocol.TypeTicketStatusUpdated, protocol.TicketStatusUpdatedMsg{
		TicketID: ticketID,
		Status:   t.Status,
	})
	unlock()

	b.logger.Info("ticket status updated",
		zap.String("ticket_id", ticketID),
		zap.String("status", string(t.Status)))
	b.publishCtx(ctx, chat.TicketEvent{
		Type:      chat.EventStatusUpdated,
		CompanyID: companyID,
		TicketID:  ticketID,
		Status:    t.Status,
	})
	return t, nil
}

// TicketsForCompany lists the company's tickets, most recently active first.
func (b *Broker) TicketsForCompany(companyID string) ([]chat.Ticket, error) {
	if _, err := b.companies.ByID(companyID); err != nil {
		return nil, err
	}
	return b.store.TicketsForCompany(companyID), nil
}

// TicketWithMessages returns a ticket owned by companyID and its full log.
func (b *Broker) TicketWithMessages(companyID, ticketID string) (chat.Ticket, []chat.Message, error) {
	t, err := b.owned(companyID, ticketID)
	if err != nil {
		return chat.Ticket{}, nil, err
	}
	return t, b.store.Messages(ticketID), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// owned resolves a ticket and checks that it belongs to companyID.
func (b *Broker) owned(companyID, ticketID string) (chat.Ticket, error) {
	if _, err := b.companies.ByID(companyID); err != nil {
		return chat.Ticket{}, err
	}
	t, err := b.store.Ticket(ticketID)
	if err != nil {
		return chat.Ticket{}, err
	}
	if t.CompanyID != companyID {
		return chat.Ticket{}, apperror.AccessDenied()
	}
	return t, nil
}

// member returns connID's registration if it is in ticketID's room.
func (b *Broker) member(connID, ticketID string) (session.Connection, error) {
	conn, ok := b.registry.Lookup(connID)
	if !ok {
		return session.Connection{}, apperror.NotInRoom()
	}
	if conn.TicketID != ticketID {
		return session.Connection{}, apperror.AccessDenied()
	}
	return conn, nil
}

func (b *Broker) leaveRoom(connID, ticketID string) {
	unlock := b.lockRoom(ticketID)
	cur, ok := b.registry.Lookup(connID)
	if !ok || cur.TicketID != ticketID {
		unlock()
		return
	}
	b.registry.Unregister(connID)
	b.deliver(b.registry.MembersOfTicket(ticketID), protocol.TypeUserLeft, protocol.UserLeftMsg{
		TicketID:    ticketID,
		Role:        string(cur.Role),
		DisplayName: cur.DisplayName,
		Timestamp:   b.now().UTC(),
	})
	unlock()

	metrics.ActiveRooms.Set(float64(b.registry.RoomCount()))
	b.logger.Debug("left ticket",
		zap.String("conn_id", connID),
		zap.String("ticket_id", ticketID))

	if b.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := b.presence.ClearRoom(ctx, connID); err != nil {
			b.logger.Warn("presence clear failed", zap.String("conn_id", connID), zap.Error(err))
		}
	}
}

// registerLive registers conn unless it has already disconnected. Holding
// goneMu across the check and the registration pairs with markGone: either
// Disconnect sees the registration, or the join sees the disconnect.
func (b *Broker) registerLive(conn session.Connection) bool {
	b.goneMu.Lock()
	defer b.goneMu.Unlock()
	if _, dead := b.gone[conn.ID]; dead {
		return false
	}
	b.registry.Register(conn)
	return true
}

func (b *Broker) markGone(connID string) {
	now := b.now()
	b.goneMu.Lock()
	defer b.goneMu.Unlock()
	b.gone[connID] = now
	if now.Sub(b.lastSweep) < goneTTL {
		return
	}
	for id, at := range b.gone {
		if now.Sub(at) > goneTTL {
			delete(b.gone, id)
		}
	}
	b.lastSweep = now
}

func (b *Broker) lockRoom(ticketID string) func() {
	v, _ := b.roomLocks.LoadOrStore(ticketID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// deliver encodes the event once and hands it to the outbox for each
// recipient.
func (b *Broker) deliver(connIDs []string, msgType string, payload interface{}) {
	if len(connIDs) == 0 {
		return
	}
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		b.logger.Error("failed to encode event", zap.String("type", msgType), zap.Error(err))
		return
	}
	for _, id := range connIDs {
		b.outbox.Deliver(id, data)
	}
}

func (b *Broker) publish(ev chat.TicketEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.publishCtx(ctx, ev)
}

func (b *Broker) publishCtx(ctx context.Context, ev chat.TicketEvent) {
	if b.publisher == nil {
		return
	}
	ev.Ts = b.now().UnixMilli()
	if err := b.publisher.PublishTicketEvent(ctx, ev); err != nil {
		metrics.PublishFailures.Inc()
		b.logger.Warn("ticket event publish failed",
			zap.String("type", ev.Type),
			zap.String("ticket_id", ev.TicketID),
			zap.Error(err))
	}
}

func (b *Broker) observe(op string, start time.Time, errp *error) {
	result := "ok"
	if errp != nil && *errp != nil {
		result = apperror.From(*errp).Code
	}
	metrics.BrokerOps.WithLabelValues(op, result).Inc()
	metrics.BrokerOpLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func without(ids []string, exclude string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// outside returns the ids in all that are not in room.
func outside(all, room []string) []string {
	if len(all) == 0 {
		return nil
	}
	in := make(map[string]struct{}, len(room))
	for _, id := range room {
		in[id] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, id := range all {
		if _, ok := in[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
