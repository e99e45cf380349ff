package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/solven/escrow/internal/auth"
)

// RegisterAuthRoutes wires the public authentication endpoints. rateLimiter
// guards the endpoints that send or check verification codes.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/register", rateLimiter, h.Register)
	group.Post("/otp", rateLimiter, h.RequestCode)
	group.Post("/verify", rateLimiter, h.Verify)
	group.Post("/refresh", h.Refresh)
}

// RegisterSessionRoutes wires authentication endpoints that need a session.
func RegisterSessionRoutes(r fiber.Router, h *auth.Handler) {
	r.Post("/auth/logout", h.Logout)
}
