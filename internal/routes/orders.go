package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/solven/escrow/internal/escrow"
	"github.com/solven/escrow/internal/orders"
)

// RegisterOrderRoutes wires order endpoints, including the delivery
// confirmation that releases the escrow.
func RegisterOrderRoutes(r fiber.Router, h *orders.Handler, eh *escrow.Handler) {
	group := r.Group("/orders")
	group.Post("", h.Create)
	group.Get("", h.List)
	group.Get("/:orderId", h.Get)
	group.Patch("/:orderId/status", h.UpdateStatus)
	group.Post("/:orderId/cancel", h.Cancel)
	group.Post("/:orderId/confirm-delivery", eh.ConfirmDelivery)
	group.Get("/:orderId/escrow", eh.ByOrder)
}

// RegisterEscrowRoutes wires escrow endpoints.
func RegisterEscrowRoutes(r fiber.Router, h *escrow.Handler) {
	group := r.Group("/escrows")
	group.Get("", h.List)
	group.Get("/:escrowId", h.Get)
	group.Post("/:escrowId/release", h.Release)
	group.Post("/:escrowId/dispute", h.Dispute)
	group.Post("/:escrowId/refund", h.Refund)
}
