package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lexconsult/lexconsult_wallet/internal/recharge"
)

// RegisterPaymentRoutes wires recharge orders and payment verification.
func RegisterPaymentRoutes(r fiber.Router, h *recharge.Handler, idem fiber.Handler) {
	r.Post("/payments/orders", idem, h.CreateOrder)
	r.Post("/payments/verify", h.Verify)
}
