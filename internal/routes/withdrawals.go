package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lexconsult/lexconsult_wallet/internal/withdrawal"
)

// RegisterWithdrawalRoutes wires the payee and admin sides of withdrawals.
func RegisterWithdrawalRoutes(r fiber.Router, h *withdrawal.Handler, idem, limit fiber.Handler) {
	r.Post("/withdrawals", limit, idem, h.Request)
	r.Get("/withdrawals", h.History)
	r.Post("/withdrawals/validate-account", limit, h.ValidateAccount)

	r.Get("/admin/withdrawals/pending", h.Pending)
	r.Post("/admin/withdrawals/:id/process", idem, h.Process)
	r.Post("/admin/withdrawals/:id/retry-payout", idem, h.RetryPayout)
	r.Get("/admin/withdrawals/:id/payout", h.RefreshPayout)
}
