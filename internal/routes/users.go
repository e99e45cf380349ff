package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/solven/escrow/internal/users"
)

// RegisterUserRoutes wires profile endpoints.
func RegisterUserRoutes(r fiber.Router, h *users.Handler) {
	r.Get("/me", h.Me)
	r.Put("/me/bank", h.UpdateBank)
}
