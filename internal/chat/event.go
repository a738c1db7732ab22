package chat

// Ticket event types published after a committed mutation.
const (
	EventTicketCreated  = "ticket.created"
	EventMessageCreated = "message.created"
	EventStatusUpdated  = "status.updated"
)

// TicketEvent is the payload published to support.<company>.ticket.<ticket>
// subjects for consumers outside the broker (auditing, notifications).
type TicketEvent struct {
	Type      string   `json:"type"`
	CompanyID string   `json:"companyId"`
	TicketID  string   `json:"ticketId"`
	Status    Status   `json:"status,omitempty"`
	Message   *Message `json:"message,omitempty"`
	Ts        int64    `json:"ts"` // unix millis
}
