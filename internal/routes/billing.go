package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lexconsult/lexconsult_wallet/internal/billing"
)

// RegisterBillingRoutes wires call registration and settlement.
func RegisterBillingRoutes(r fiber.Router, h *billing.Handler, idem fiber.Handler) {
	r.Post("/internal/calls", idem, h.Register)
	r.Post("/calls/:callId/settle", idem, h.Settle)
	r.Get("/calls/:callId/billing", h.Record)
}
