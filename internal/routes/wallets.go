package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kopa-credit/kopa/internal/matcher"
)

// RegisterWalletRoutes wires wallet money-movement and read endpoints.
func RegisterWalletRoutes(r fiber.Router, h *matcher.Handler, depositLimiter fiber.Handler) {
	r.Post("/wallets/:walletId/deposits", depositLimiter, h.Deposit)
	r.Post("/wallets/:walletId/withdrawals", h.Withdraw)
	r.Post("/transactions/:transactionId/reversals", h.Reverse)
	r.Delete("/wallets/:walletId", h.Close)
	r.Get("/wallets/:walletId", h.Wallet)
	r.Get("/wallets/:walletId/transactions", h.Transactions)
	r.Get("/owners/:ownerId/obligations", h.Outstanding)
}
