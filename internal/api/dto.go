package api

import (
	"github.com/deskline/support-chat/internal/chat"
	"github.com/deskline/support-chat/internal/tenant"
)

// CreateTicketRequest is the body of POST /api/tickets.
type CreateTicketRequest struct {
	CompanyID    string `json:"companyId"`
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName"`
}

// UpdateStatusRequest is the body of PATCH .../status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// TicketDetail is the response of GET .../tickets/:ticketId.
type TicketDetail struct {
	Ticket   chat.Ticket    `json:"ticket"`
	Messages []chat.Message `json:"messages"`
}

// CompanySummary is the public view of a company; the API key is never
// returned.
type CompanySummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func companySummary(c tenant.Company) CompanySummary {
	return CompanySummary{ID: c.ID, Name: c.Name}
}
