package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/deskline/support-chat/internal/apperror"
	"github.com/deskline/support-chat/internal/chat"
	"github.com/deskline/support-chat/internal/tenant"
)

// TicketService is the subset of the broker the REST boundary uses.
// *broker.Broker satisfies it.
type TicketService interface {
	CreateTicket(ctx context.Context, companyID, customerID, customerName string) (chat.Ticket, error)
	UpdateStatus(ctx context.Context, companyID, ticketID string, status chat.Status) (chat.Ticket, error)
	TicketsForCompany(companyID string) ([]chat.Ticket, error)
	TicketWithMessages(companyID, ticketID string) (chat.Ticket, []chat.Message, error)
}

// CompanyDirectory resolves companies. *tenant.Directory satisfies it.
type CompanyDirectory interface {
	ByAPIKey(apiKey string) (tenant.Company, error)
	All() []tenant.Company
}

// AppOptions configures NewApp.
type AppOptions struct {
	Name           string
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

func (o AppOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// HealthHandler responds to liveness probes.
type HealthHandler struct {
	serviceName string
	version     string
}

// NewHealthHandler returns a new handler instance.
func NewHealthHandler(serviceName, version string) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// TicketsHandler serves ticket endpoints.
type TicketsHandler struct {
	service TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(service TicketService) *TicketsHandler {
	return &TicketsHandler{service: service}
}

// CreateTicket POST /api/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.Validation("invalid payload")
	}
	ticket, err := h.service.CreateTicket(c.UserContext(), req.CompanyID, req.CustomerID, req.CustomerName)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(ticket)
}

// ListTickets GET /api/companies/:companyId/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	tickets, err := h.service.TicketsForCompany(c.Params("companyId"))
	if err != nil {
		return err
	}
	return c.JSON(tickets)
}

// GetTicket GET /api/companies/:companyId/tickets/:ticketId.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, msgs, err := h.service.TicketWithMessages(c.Params("companyId"), c.Params("ticketId"))
	if err != nil {
		return err
	}
	return c.JSON(TicketDetail{Ticket: ticket, Messages: msgs})
}

// UpdateStatus PATCH /api/companies/:companyId/tickets/:ticketId/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	var req UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.Validation("invalid payload")
	}
	if req.Status == "" {
		return apperror.Validation("status required")
	}
	ticket, err := h.service.UpdateStatus(c.UserContext(), c.Params("companyId"), c.Params("ticketId"), chat.Status(req.Status))
	if err != nil {
		return err
	}
	return c.JSON(ticket)
}

// CompaniesHandler serves company lookups.
type CompaniesHandler struct {
	directory CompanyDirectory
}

// NewCompaniesHandler constructs handler.
func NewCompaniesHandler(directory CompanyDirectory) *CompaniesHandler {
	return &CompaniesHandler{directory: directory}
}

// ByAPIKey GET /api/company/:apiKey.
func (h *CompaniesHandler) ByAPIKey(c *fiber.Ctx) error {
	company, err := h.directory.ByAPIKey(c.Params("apiKey"))
	if err != nil {
		// Do not echo the key back.
		return apperror.New(apperror.KindUnknownCompany, "company not found")
	}
	return c.JSON(companySummary(company))
}

// List GET /api/companies.
func (h *CompaniesHandler) List(c *fiber.Ctx) error {
	all := h.directory.All()
	out := make([]CompanySummary, 0, len(all))
	for _, company := range all {
		out = append(out, companySummary(company))
	}
	return c.JSON(out)
}
