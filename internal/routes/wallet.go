package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/solven/escrow/internal/wallet"
)

// RegisterWalletRoutes wires wallet endpoints. moneyLimiter throttles the
// routes that move funds out of the wallet.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, moneyLimiter fiber.Handler) {
	group := r.Group("/wallet")
	group.Get("", h.Me)
	group.Get("/balance", h.Balance)
	group.Get("/transactions", h.Transactions)
	group.Post("/reconcile", h.Reconcile)
	group.Post("/transfer", moneyLimiter, h.Transfer)
	group.Post("/withdraw", moneyLimiter, h.Withdraw)
}
