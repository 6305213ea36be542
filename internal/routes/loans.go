package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kopa-credit/kopa/internal/loans"
)

// RegisterLoanRoutes wires loan scheduling endpoints.
func RegisterLoanRoutes(r fiber.Router, h *loans.Handler) {
	r.Post("/loans", h.Approve)
	r.Get("/loans/:loanId/schedule", h.Schedule)
	r.Delete("/loans/:loanId", h.Cancel)
}
