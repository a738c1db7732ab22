// Package api is the REST boundary of the support broker, served by Fiber.
// Every mutation goes through the broker so that connected clients see the
// same events as the HTTP caller.
package api

import (
	"github.com/gofiber/fiber/v2"
)

// RouteConfig bundles the handlers for route registration.
type RouteConfig struct {
	Health    *HealthHandler
	Tickets   *TicketsHandler
	Companies *CompaniesHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)

	api := app.Group("/api")
	api.Post("/tickets", cfg.Tickets.CreateTicket)

	api.Get("/companies", cfg.Companies.List)
	api.Get("/company/:apiKey", cfg.Companies.ByAPIKey)

	company := api.Group("/companies/:companyId")
	company.Get("/tickets", cfg.Tickets.ListTickets)
	company.Get("/tickets/:ticketId", cfg.Tickets.GetTicket)
	company.Patch("/tickets/:ticketId/status", cfg.Tickets.UpdateStatus)
}

// NewApp creates a Fiber app with middlewares and routes registered.
func NewApp(cfg RouteConfig, opts AppOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               opts.Name,
		DisableStartupMessage: true,
	})
	RegisterMiddlewares(app, opts.logger(), opts.RequestTimeout)
	RegisterRoutes(app, cfg)
	return app
}
