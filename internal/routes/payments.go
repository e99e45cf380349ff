package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/solven/escrow/internal/payments"
)

// webhookPath is excluded from idempotency; gateways never send the header.
const webhookPath = "/api/v1/payments/webhooks"

// RegisterWebhookRoutes wires the unauthenticated gateway callbacks.
func RegisterWebhookRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/payments/webhooks/:gateway", h.Webhook)
	r.Get("/payments/gateways", h.Gateways)
}

// RegisterPaymentRoutes wires checkout endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/orders/:orderId/pay", h.Initialize)
	r.Get("/payments/:gateway/verify/:reference", h.Verify)
}
