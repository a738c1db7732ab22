// Package chat is the authoritative in-memory record of support tickets and
// their ordered message logs, indexed by company.
package chat

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deskline/support-chat/internal/apperror"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusClosed
}

// SenderType identifies which side of the conversation wrote a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
)

// Valid reports whether t is a known sender type.
func (t SenderType) Valid() bool {
	return t == SenderCustomer || t == SenderAgent
}

// MediaType describes an attachment. The empty value means no attachment.
type MediaType string

const (
	MediaNone  MediaType = ""
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Valid reports whether m is a known media type (including none).
func (m MediaType) Valid() bool {
	return m == MediaNone || m == MediaImage || m == MediaVideo
}

// Ticket is a single customer support conversation scoped to one company.
type Ticket struct {
	ID           string    `json:"id"`
	CompanyID    string    `json:"companyId"`
	CustomerID   string    `json:"customerId"`
	CustomerName string    `json:"customerName"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Message is one immutable entry of a ticket's log. MediaType and MediaURL
// are nil when nothing is attached.
type Message struct {
	ID         string     `json:"id"`
	TicketID   string     `json:"ticketId"`
	Sender     string     `json:"sender"`
	SenderType SenderType `json:"senderType"`
	Content    string     `json:"content"`
	MediaType  *MediaType `json:"mediaType"`
	MediaURL   *string    `json:"mediaUrl"`
	Timestamp  time.Time  `json:"timestamp"`
}

// NewMessage is the input to AppendMessage.
type NewMessage struct {
	Sender     string
	SenderType SenderType
	Content    string
	MediaType  MediaType
	MediaURL   string
}

// CompanyChecker reports whether a company exists. *tenant.Directory
// satisfies it.
type CompanyChecker interface {
	Exists(companyID string) bool
}

type ticketRecord struct {
	ticket Ticket
	log    messageLog
}

// Store holds every ticket and message for the lifetime of the process.
// All methods are goroutine-safe; readers never observe a partially applied
// write.
type Store struct {
	mu        sync.RWMutex
	tickets   map[string]*ticketRecord
	byCompany map[string][]string // company id -> ticket ids in creation order
	companies CompanyChecker
	now       func() time.Time
}

// NewStore creates an empty store that validates company ids against
// companies.
func NewStore(companies CompanyChecker) *Store {
	return &Store{
		tickets:   make(map[string]*ticketRecord),
		byCompany: make(map[string][]string),
		companies: companies,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// CreateTicket opens a new ticket for a customer of companyID.
func (s *Store) CreateTicket(companyID, customerID, customerName string) (Ticket, error) {
	if !s.companies.Exists(companyID) {
		return Ticket{}, apperror.UnknownCompany(companyID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := newTicketID(now)
	for s.tickets[id] != nil {
		id = newTicketID(now)
	}

	t := Ticket{
		ID:           id,
		CompanyID:    companyID,
		CustomerID:   customerID,
		CustomerName: customerName,
		Status:       StatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.tickets[id] = &ticketRecord{ticket: t}
	s.byCompany[companyID] = append(s.byCompany[companyID], id)
	return t, nil
}

// Ticket returns the ticket with the given id.
func (s *Store) Ticket(ticketID string) (Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tickets[ticketID]
	if !ok {
		return Ticket{}, apperror.TicketNotFound()
	}
	return rec.ticket, nil
}

// TicketsForCompany returns the company's tickets, most recently active
// first. Tickets with equal UpdatedAt keep their creation order.
func (s *Store) TicketsForCompany(companyID string) []Ticket {
	s.mu.RLock()
	ids := s.byCompany[companyID]
	out := make([]Ticket, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.tickets[id].ticket)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// UpdateStatus sets the ticket status and refreshes UpdatedAt. Any valid
// status is accepted at any time, including the current one.
func (s *Store) UpdateStatus(ticketID string, status Status) (Ticket, error) {
	if !status.Valid() {
		return Ticket{}, apperror.Validation(fmt.Sprintf("invalid status %q", status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tickets[ticketID]
	if !ok {
		return Ticket{}, apperror.TicketNotFound()
	}
	rec.ticket.Status = status
	rec.ticket.UpdatedAt = s.now()
	return rec.ticket, nil
}

// AppendMessage appends a message to the ticket's log and refreshes the
// ticket's UpdatedAt. It is the single point that decides message order.
func (s *Store) AppendMessage(ticketID string, in NewMessage) (Message, error) {
	if !in.SenderType.Valid() {
		return Message{}, apperror.Validation(fmt.Sprintf("invalid sender type %q", in.SenderType))
	}
	if strings.TrimSpace(in.Sender) == "" {
		return Message{}, apperror.Validation("sender required")
	}
	if err := ValidateMessage(in.Content, in.MediaType, in.MediaURL); err != nil {
		return Message{}, apperror.Validation(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tickets[ticketID]
	if !ok {
		return Message{}, apperror.TicketNotFound()
	}

	now := s.now()
	msg := Message{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		Sender:     in.Sender,
		SenderType: in.SenderType,
		Content:    in.Content,
		Timestamp:  now,
	}
	if in.MediaType != MediaNone {
		mediaType := in.MediaType
		mediaURL := in.MediaURL
		msg.MediaType = &mediaType
		msg.MediaURL = &mediaURL
	}

	rec.log.append(msg)
	rec.ticket.UpdatedAt = now
	return msg, nil
}

// Messages returns the ticket's messages in append order. Unknown tickets
// and tickets without messages yield an empty slice.
func (s *Store) Messages(ticketID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tickets[ticketID]
	if !ok {
		return []Message{}
	}
	return rec.log.snapshot()
}

// Stats returns the number of tickets and messages held.
func (s *Store) Stats() (tickets, messages int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.tickets {
		messages += rec.log.len()
	}
	return len(s.tickets), messages
}

// newTicketID combines a millisecond timestamp with a random suffix so ids
// sort roughly by creation and never collide in practice.
func newTicketID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("ticket-%d-%s", now.UnixMilli(), suffix)
}
