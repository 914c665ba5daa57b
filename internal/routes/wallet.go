package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lexconsult/lexconsult_wallet/internal/wallet"
)

// RegisterWalletRoutes wires balance, transaction and account endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, idem fiber.Handler) {
	r.Get("/wallet", h.Balance)
	r.Get("/wallet/transactions", h.ListTransactions)
	r.Post("/wallet/transactions", idem, h.PostTransaction)

	r.Post("/internal/accounts", idem, h.OpenAccount)
	r.Get("/admin/accounts/:accountId/reconcile", h.Reconcile)
}
