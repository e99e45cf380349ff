package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/solven/escrow/internal/gateway"
	"github.com/solven/escrow/internal/payments"
)

// RegisterSandboxRoutes lets a developer complete sandbox payments. The
// signed webhook the sandbox produces goes through the same checkout path a
// real gateway callback would.
func RegisterSandboxRoutes(r fiber.Router, sandboxes map[string]*gateway.Sandbox, checkout *payments.Checkout) {
	complete := func(settle bool) fiber.Handler {
		return func(c *fiber.Ctx) error {
			sb, ok := sandboxes[c.Params("gateway")]
			if !ok {
				return fiber.NewError(http.StatusNotFound, "unknown sandbox gateway")
			}
			finish := sb.Fail
			if settle {
				finish = sb.Settle
			}
			payload, sig, err := finish(c.Params("reference"))
			if err != nil {
				return err
			}
			intent, err := checkout.HandleWebhook(c.UserContext(), sb.Name(), payload, sig)
			if err != nil {
				return err
			}
			return c.JSON(intent)
		}
	}
	group := r.Group("/sandbox/:gateway/:reference")
	group.Post("/settle", complete(true))
	group.Post("/fail", complete(false))
}
