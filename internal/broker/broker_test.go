package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deskline/support-chat/internal/apperror"
	"github.com/deskline/support-chat/internal/chat"
	"github.com/deskline/support-chat/internal/protocol"
	"github.com/deskline/support-chat/internal/session"
	"github.com/deskline/support-chat/internal/tenant"
)

// recorder is an Outbox that keeps every delivered frame per connection.
type recorder struct {
	mu     sync.Mutex
	frames map[string][][]byte
}

func newRecorder() *recorder {
	return &recorder{frames: make(map[string][][]byte)}
}

func (r *recorder) Deliver(connID string, data []byte) {
	r.mu.Lock()
	r.frames[connID] = append(r.frames[connID], data)
	r.mu.Unlock()
}

// event is a decoded outbound frame.
type event struct {
	Type string
	Raw  []byte
}

func (e event) decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(e.Raw, v); err != nil {
		t.Fatalf("decode %s: %v", e.Type, err)
	}
}

// take returns and clears the frames delivered to connID.
func (r *recorder) take(t *testing.T, connID string) []event {
	t.Helper()
	r.mu.Lock()
	frames := r.frames[connID]
	delete(r.frames, connID)
	r.mu.Unlock()

	out := make([]event, 0, len(frames))
	for _, f := range frames {
		var env protocol.Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame for %s: %s", connID, f)
		}
		out = append(out, event{Type: env.Type, Raw: f})
	}
	return out
}

func types(events []event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func expectTypes(t *testing.T, got []event, want ...string) {
	t.Helper()
	g := types(got)
	if len(g) != len(want) {
		t.Fatalf("events = %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("events = %v, want %v", g, want)
		}
	}
}

// publisherStub records published ticket events.
type publisherStub struct {
	mu     sync.Mutex
	events []chat.TicketEvent
	err    error
}

func (p *publisherStub) PublishTicketEvent(_ context.Context, ev chat.TicketEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *publisherStub) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	broker   *Broker
	store    *chat.Store
	registry *session.Registry
	out      *recorder
	pub      *publisherStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, err := tenant.NewDirectory(tenant.DefaultCompanies()...)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	f := &fixture{
		store:    chat.NewStore(dir),
		registry: session.NewRegistry(),
		out:      newRecorder(),
		pub:      &publisherStub{},
	}
	f.broker = New(dir, f.store, f.registry, f.out, zap.NewNop(), WithPublisher(f.pub))
	return f
}

func (f *fixture) ticket(t *testing.T, companyID, customer string) chat.Ticket {
	t.Helper()
	tk, err := f.broker.CreateTicket(context.Background(), companyID, "cust-"+customer, customer)
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return tk
}

func (f *fixture) join(t *testing.T, connID string, tk chat.Ticket, role session.Role, name string) {
	t.Helper()
	err := f.broker.Join(connID, JoinRequest{
		CompanyID:   tk.CompanyID,
		TicketID:    tk.ID,
		Role:        role,
		DisplayName: name,
	})
	if err != nil {
		t.Fatalf("Join(%s): %v", connID, err)
	}
}

func (f *fixture) send(t *testing.T, connID string, tk chat.Ticket, sender string, st chat.SenderType, content string) chat.Message {
	t.Helper()
	msg, err := f.broker.SendMessage(connID, SendRequest{
		TicketID:   tk.ID,
		Sender:     sender,
		SenderType: st,
		Content:    content,
	})
	if err != nil {
		t.Fatalf("SendMessage(%s): %v", connID, err)
	}
	return msg
}

// ---------------------------------------------------------------------------
// End-to-end conversation
// ---------------------------------------------------------------------------

func TestSupportConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := f.ticket(t, "company-1", "Ana")

	f.join(t, "cust", tk, session.RoleCustomer, "Ana")
	expectTypes(t, f.out.take(t, "cust"), protocol.TypeTicketHistory)

	f.send(t, "cust", tk, "Ana", chat.SenderCustomer, "Olá")
	expectTypes(t, f.out.take(t, "cust"), protocol.TypeMessageReceived)

	f.join(t, "agent", tk, session.RoleAgent, "Carlos")
	agentEvents := f.out.take(t, "agent")
	expectTypes(t, agentEvents, protocol.TypeTicketHistory)
	var hist protocol.TicketHistoryMsg
	agentEvents[0].decode(t, &hist)
	if len(hist.Messages) != 1 || hist.Messages[0].Content != "Olá" {
		t.Fatalf("agent history = %+v", hist.Messages)
	}

	custEvents := f.out.take(t, "cust")
	expectTypes(t, custEvents, protocol.TypeUserJoined)
	var joined protocol.UserJoinedMsg
	custEvents[0].decode(t, &joined)
	if joined.Role != "agent" || joined.DisplayName != "Carlos" {
		t.Errorf("user:joined = %+v", joined)
	}

	f.send(t, "agent", tk, "Carlos", chat.SenderAgent, "Oi, como posso ajudar?")
	for _, id := range []string{"cust", "agent"} {
		evs := f.out.take(t, id)
		expectTypes(t, evs, protocol.TypeMessageReceived)
		var got protocol.MessageReceivedMsg
		evs[0].decode(t, &got)
		if got.Message.Content != "Oi, como posso ajudar?" || got.Message.SenderType != chat.SenderAgent {
			t.Errorf("%s got %+v", id, got.Message)
		}
	}

	if _, err := f.broker.UpdateStatus(ctx, "company-1", tk.ID, chat.StatusClosed); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	for _, id := range []string{"cust", "agent"} {
		evs := f.out.take(t, id)
		expectTypes(t, evs, protocol.TypeTicketStatusUpdated)
		var got protocol.TicketStatusUpdatedMsg
		evs[0].decode(t, &got)
		if got.Status != chat.StatusClosed || got.TicketID != tk.ID {
			t.Errorf("%s got %+v", id, got)
		}
	}

	got, msgs, err := f.broker.TicketWithMessages("company-1", tk.ID)
	if err != nil {
		t.Fatalf("TicketWithMessages: %v", err)
	}
	if got.Status != chat.StatusClosed {
		t.Errorf("status = %s, want closed", got.Status)
	}
	if len(msgs) != 2 || msgs[0].Content != "Olá" || msgs[1].Content != "Oi, como posso ajudar?" {
		t.Errorf("messages = %+v", msgs)
	}

	wantPub := []string{chat.EventTicketCreated, chat.EventMessageCreated, chat.EventMessageCreated, chat.EventStatusUpdated}
	if p := f.pub.types(); fmt.Sprint(p) != fmt.Sprint(wantPub) {
		t.Errorf("published = %v, want %v", p, wantPub)
	}
}

// ---------------------------------------------------------------------------
// Join
// ---------------------------------------------------------------------------

func TestJoinErrors(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t, "company-1", "Ana")

	cases := []struct {
		name string
		req  JoinRequest
		kind apperror.Kind
	}{
		{"unknown ticket", JoinRequest{CompanyID: "company-1", TicketID: "nope", Role: session.RoleAgent}, apperror.KindTicketNotFound},
		{"other tenant", JoinRequest{CompanyID: "company-2", TicketID: tk.ID, Role: session.RoleAgent}, apperror.KindAccessDenied},
		{"bad role", JoinRequest{CompanyID: "company-1", TicketID: tk.ID, Role: "admin"}, apperror.KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.broker.Join("c1", tc.req)
			if !apperror.Is(err, tc.kind) {
				t.Fatalf("Join() error = %v, want %s", err, tc.kind)
			}
			if _, ok := f.registry.Lookup("c1"); ok {
				t.Fatal("rejected join registered the connection")
			}
			if evs := f.out.take(t, "c1"); len(evs) != 0 {
				t.Fatalf("rejected join delivered %v", types(evs))
			}
		})
	}
}

func TestJoinDifferentTicketLeavesPrevious(t *testing.T) {
	f := newFixture(t)
	t1 := f.ticket(t, "company-1", "Ana")
	t2 := f.ticket(t, "company-1", "Bruno")

	f.join(t, "cust", t1, session.RoleCustomer, "Ana")
	f.join(t, "agent", t1, session.RoleAgent, "Carlos")
	f.out.take(t, "cust")
	f.out.take(t, "agent")

	f.join(t, "agent", t2, session.RoleAgent, "Carlos")

	custEvents := f.out.take(t, "cust")
	expectTypes(t, custEvents, protocol.TypeUserLeft)
	var left protocol.UserLeftMsg
	custEvents[0].decode(t, &left)
	if left.Role != "agent" || left.TicketID != t1.ID {
		t.Errorf("user:left = %+v", left)
	}
	expectTypes(t, f.out.take(t, "agent"), protocol.TypeTicketHistory)

	equal(t, f.registry.MembersOfTicket(t1.ID), "cust")
	equal(t, f.registry.MembersOfTicket(t2.ID), "agent")
}

func TestRejoinSameTicketResendsHistory(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t, "company-1", "Ana")

	f.join(t, "cust", tk, session.RoleCustomer, "Ana")
	f.join(t, "agent", tk, session.RoleAgent, "Carlos")
	f.out.take(t, "cust")
	f.out.take(t, "agent")

	f.join(t, "agent", tk, session.RoleAgent, "Carlos")
	expectTypes(t, f.out.take(t, "agent"), protocol.TypeTicketHistory)
	expectTypes(t, f.out.take(t, "cust"), protocol.TypeUserJoined)
	if f.registry.Count() != 2 {
		t.Errorf("Count() = %d, want 2", f.registry.Count())
	}
}

// ---------------------------------------------------------------------------
// SendMessage
// ---------------------------------------------------------------------------

func TestSendMessageErrors(t *testing.T) {
	f := newFixture(t)
	t1 := f.ticket(t, "company-1", "Ana")
	t2 := f.ticket(t, "company-1", "Bruno")

	_, err := f.broker.SendMessage("ghost", SendRequest{TicketID: t1.ID, Sender: "x", SenderType: chat.SenderAgent, Content: "hi"})
	if !apperror.Is(err, apperror.KindNotInRoom) {
		t.Errorf("unregistered send error = %v, want not_in_room", err)
	}

	f.join(t, "cust", t1, session.RoleCustomer, "Ana")
	f.out.take(t, "cust")

	_, err = f.broker.SendMessage("cust", SendRequest{TicketID: t2.ID, Sender: "Ana", SenderType: chat.SenderCustomer, Content: "hi"})
	if !apperror.Is(err, apperror.KindAccessDenied) {
		t.Errorf("wrong-room send error = %v, want access_denied", err)
	}

	_, err = f.broker.SendMessage("cust", SendRequest{TicketID: t1.ID, Sender: "Ana", SenderType: "robot", Content: "hi"})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("bad sender type error = %v, want validation_failed", err)
	}

	_, err = f.broker.SendMessage("cust", SendRequest{TicketID: t1.ID, Sender: "Ana", SenderType: chat.SenderCustomer})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("empty content error = %v, want validation_failed", err)
	}

	if evs := f.out.take(t, "cust"); len(evs) != 0 {
		t.Errorf("rejected sends delivered %v", types(evs))
	}
	if n := len(f.store.Messages(t1.ID)); n != 0 {
		t.Errorf("rejected sends stored %d messages", n)
	}
}

func TestSendMessageFanOut(t *testing.T) {
	f := newFixture(t)
	t1 := f.ticket(t, "company-1", "Ana")
	t2 := f.ticket(t, "company-1", "Bruno")
	other := f.ticket(t, "company-2", "Zed")

	f.join(t, "cust", t1, session.RoleCustomer, "Ana")
	f.join(t, "agent1", t1, session.RoleAgent, "Carlos")
	f.join(t, "agent2", t2, session.RoleAgent, "Dora")
	f.join(t, "foreign", other, session.RoleAgent, "Eve")
	for _, id := range []string{"cust", "agent1", "agent2", "foreign"} {
		f.out.take(t, id)
	}

	msg := f.send(t, "cust", t1, "Ana", chat.SenderCustomer, "Olá")

	expectTypes(t, f.out.take(t, "cust"), protocol.TypeMessageReceived)
	expectTypes(t, f.out.take(t, "agent1"), protocol.TypeMessageReceived)

	evs := f.out.take(t, "agent2")
	expectTypes(t, evs, protocol.TypeTicketUpdated)
	var upd protocol.TicketUpdatedMsg
	evs[0].decode(t, &upd)
	if upd.TicketID != t1.ID || upd.LastMessage.ID != msg.ID {
		t.Errorf("ticket:updated = %+v", upd)
	}

	if evs := f.out.take(t, "foreign"); len(evs) != 0 {
		t.Errorf("other tenant received %v", types(evs))
	}
}

func TestSendMessageMediaShape(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t, "company-1", "Ana")
	f.join(t, "cust", tk, session.RoleCustomer, "Ana")
	f.out.take(t, "cust")

	_, err := f.broker.SendMessage("cust", SendRequest{
		TicketID:   tk.ID,
		Sender:     "Ana",
		SenderType: chat.SenderCustomer,
		MediaType:  chat.MediaImage,
		MediaURL:   "https://cdn.example/a.png",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	evs := f.out.take(t, "cust")
	expectTypes(t, evs, protocol.TypeMessageReceived)
	var got protocol.MessageReceivedMsg
	evs[0].decode(t, &got)
	if got.Message.MediaType == nil || *got.Message.MediaType != chat.MediaImage {
		t.Errorf("mediaType = %v", got.Message.MediaType)
	}
	if got.Message.MediaURL == nil || *got.Message.MediaURL != "https://cdn.example/a.png" {
		t.Errorf("mediaUrl = %v", got.Message.MediaURL)
	}
}

func TestConcurrentSendersTotalOrder(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t, "company-1", "Ana")

	const senders, perSender = 8, 25
	ids := make([]string, senders)
	for i := range ids {
		ids[i] = fmt.Sprintf("conn-%d", i)
		f.join(t, ids[i], tk, session.RoleAgent, ids[i])
	}
	for _, id := range ids {
		f.out.take(t, id)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := f.broker.SendMessage(id, SendRequest{
					TicketID:   tk.ID,
					Sender:     id,
					SenderType: chat.SenderAgent,
					Content:    fmt.Sprintf("%s-%d", id, i),
				})
				if err != nil {
					t.Errorf("SendMessage(%s): %v", id, err)
				}
			}
		}(id)
	}
	wg.Wait()

	stored := f.store.Messages(tk.ID)
	if len(stored) != senders*perSender {
		t.Fatalf("stored %d messages, want %d", len(stored), senders*perSender)
	}

	// Every member sees every message exactly once, in store order.
	for _, id := range ids {
		evs := f.out.take(t, id)
		if len(evs) != len(stored) {
			t.Fatalf("%s received %d events, want %d", id, len(evs), len(stored))
		}
		for i, e := range evs {
			var got protocol.MessageReceivedMsg
			e.decode(t, &got)
			if got.Message.ID != stored[i].ID {
				t.Fatalf("%s event %d = %s, want %s", id, i, got.Message.ID, stored[i].ID)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Typing, leave, disconnect
// ---------------------------------------------------------------------------

func TestTypingGoesToOthersOnly(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t, "company-1", "Ana")
	f.join(t, "cust", tk, session.RoleCustomer, "Ana")
	f.join(t, "agent", tk, session.RoleAgent, "Carlos")
	f.out.take(t, "cust")
	f.out.take(t, "agent")

	if err := f.broker.Typing("agent", TypingRequest{TicketID: tk.ID, DisplayName: "Carlos", IsTyping: true}); err != nil {
		t.Fatalf("Typing: %v", err)
	}
	if evs := f.out.take(t, "agent"); len(evs) != 0 {
		t.Errorf("typist received %v", types(evs))
	}
	evs := f.out.take(t, "cust")
	expectTypes(t, evs, protocol.TypeTypingUpdate)
	var got protocol.TypingUpdateMsg
	evs[0].decode(t, &got)
	if got.DisplayName != "Carlos" || !got.IsTyping {
		t.Errorf("typing:update = %+v", got)
	}

	if err := f.broker.Typing("ghost", TypingRequest{TicketID: tk.ID}); !apperror.Is(err, apperror.KindNotInRoom) {
		t.Errorf("unregistered typing error = %v, want not_in_room", err)
	}
	if err := f.broker.Typing("agent", TypingRequest{TicketID: "other"}); !apperror.Is(err, apperror.KindAccessDenied) {
		t.Errorf("wrong-room typing error = %v, want access_denied", err)
	}
}

func TestLeaveAndDisconnect(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t, "company-1", "Ana")
	f.join(t, "cust", tk, session.RoleCustomer, "Ana")
	f.join(t, "agent", tk, session.RoleAgent, "Carlos")
	f.out.take(t, "cust")
	f.out.take(t, "agent")

	if err := f.broker.Leave("agent", "someone-else"); !apperror.Is(err, apperror.KindAccessDenied) {
		t.Fatalf("Leave(wrong ticket) error = %v, want access_denied", err)
	}
	if err := f.broker.Leave("agent", tk.ID); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	expectTypes(t, f.out.take(t, "cust"), protocol.TypeUserLeft)
	if _, ok := f.registry.Lookup("agent"); ok {
		t.Fatal("agent still registered after leave")
	}
	if err := f.broker.Leave("agent", tk.ID); err != nil {
		t.Fatalf("second Leave should be a no-op, got %v", err)
	}

	f.broker.Disconnect("cust")
	f.broker.Disconnect("cust")
	if f.registry.Count() != 0 {
		t.Errorf("Count() = %d after disconnect, want 0", f.registry.Count())
	}
	if evs := f.out.take(t, "agent"); len(evs) != 0 {
		t.Errorf("departed agent received %v", types(evs))
	}
}

func TestJoinAfterDisconnectIsRejected(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t, "company-1", "Ana")
	f.join(t, "agent", tk, session.RoleAgent, "Carlos")
	f.out.take(t, "agent")

	// The transport removed the connection while its join was still queued.
	f.broker.Disconnect("dead")
	err := f.broker.Join("dead", JoinRequest{
		CompanyID:   tk.CompanyID,
		TicketID:    tk.ID,
		Role:        session.RoleCustomer,
		DisplayName: "Ana",
	})
	if !apperror.Is(err, apperror.KindNotInRoom) {
		t.Fatalf("Join after Disconnect error = %v, want not_in_room", err)
	}
	if _, ok := f.registry.Lookup("dead"); ok {
		t.Fatal("disconnected connection was registered")
	}
	if members := f.registry.MembersOfTicket(tk.ID); len(members) != 1 || members[0] != "agent" {
		t.Fatalf("members = %v, want [agent]", members)
	}
	if evs := f.out.take(t, "agent"); len(evs) != 0 {
		t.Errorf("agent received %v for a dead connection", types(evs))
	}

	f.send(t, "agent", tk, "Carlos", chat.SenderAgent, "Oi")
	if evs := f.out.take(t, "dead"); len(evs) != 0 {
		t.Errorf("dead connection received %v", types(evs))
	}
}

func TestDisconnectRacingJoinNeverLeavesGhost(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t, "company-1", "Ana")

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("c%d", i)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.broker.Join(id, JoinRequest{CompanyID: tk.CompanyID, TicketID: tk.ID, Role: session.RoleCustomer, DisplayName: id})
		}()
		go func() {
			defer wg.Done()
			f.broker.Disconnect(id)
		}()
		wg.Wait()
		if _, ok := f.registry.Lookup(id); ok {
			t.Fatalf("%s registered after Disconnect", id)
		}
	}
}

func TestDisconnectedIDsArePruned(t *testing.T) {
	dir, err := tenant.NewDirectory(tenant.DefaultCompanies()...)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := New(dir, chat.NewStore(dir), session.NewRegistry(), newRecorder(), zap.NewNop())
	b.now = func() time.Time { return now }

	b.Disconnect("old")
	now = now.Add(2 * goneTTL)
	b.Disconnect("new")

	b.goneMu.Lock()
	_, oldKept := b.gone["old"]
	_, newKept := b.gone["new"]
	b.goneMu.Unlock()
	if oldKept || !newKept {
		t.Errorf("gone set: old=%v new=%v, want old pruned and new kept", oldKept, newKept)
	}
}

// ---------------------------------------------------------------------------
// Boundary operations
// ---------------------------------------------------------------------------

func TestUpdateStatusIdempotentStillBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, "company-1", "Ana")
	f.join(t, "cust", tk, session.RoleCustomer, "Ana")
	f.out.take(t, "cust")

	first, err := f.broker.UpdateStatus(ctx, "company-1", tk.ID, chat.StatusClosed)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := f.broker.UpdateStatus(ctx, "company-1", tk.ID, chat.StatusClosed)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt not refreshed: %s then %s", first.UpdatedAt, second.UpdatedAt)
	}
	expectTypes(t, f.out.take(t, "cust"), protocol.TypeTicketStatusUpdated, protocol.TypeTicketStatusUpdated)
}

func TestBoundaryErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, "company-1", "Ana")

	if _, err := f.broker.UpdateStatus(ctx, "company-2", tk.ID, chat.StatusClosed); !apperror.Is(err, apperror.KindAccessDenied) {
		t.Errorf("cross-tenant UpdateStatus error = %v", err)
	}
	if _, err := f.broker.UpdateStatus(ctx, "company-1", "nope", chat.StatusClosed); !apperror.Is(err, apperror.KindTicketNotFound) {
		t.Errorf("missing ticket UpdateStatus error = %v", err)
	}
	if _, err := f.broker.UpdateStatus(ctx, "company-1", tk.ID, "archived"); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("bad status UpdateStatus error = %v", err)
	}
	if _, err := f.broker.UpdateStatus(ctx, "company-9", tk.ID, chat.StatusOpen); !apperror.Is(err, apperror.KindUnknownCompany) {
		t.Errorf("unknown company UpdateStatus error = %v", err)
	}
	if _, _, err := f.broker.TicketWithMessages("company-2", tk.ID); !apperror.Is(err, apperror.KindAccessDenied) {
		t.Errorf("cross-tenant TicketWithMessages error = %v", err)
	}
	if _, err := f.broker.TicketsForCompany("company-9"); !apperror.Is(err, apperror.KindUnknownCompany) {
		t.Errorf("unknown company TicketsForCompany error = %v", err)
	}
	if _, err := f.broker.CreateTicket(ctx, "company-1", "", "Ana"); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("blank customer CreateTicket error = %v", err)
	}
	if _, err := f.broker.CreateTicket(ctx, "company-9", "c", "Ana"); !apperror.Is(err, apperror.KindUnknownCompany) {
		t.Errorf("unknown company CreateTicket error = %v", err)
	}

	list, err := f.broker.TicketsForCompany("company-2")
	if err != nil || len(list) != 0 {
		t.Errorf("company-2 tickets = %v, %v; want none", list, err)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.pub.err = fmt.Errorf("nats down")

	if _, err := f.broker.CreateTicket(context.Background(), "company-1", "c1", "Ana"); err != nil {
		t.Fatalf("CreateTicket with failing publisher: %v", err)
	}
}

func equal(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	seen := make(map[string]bool, len(got))
	for _, id := range got {
		seen[id] = true
	}
	for _, id := range want {
		if !seen[id] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
