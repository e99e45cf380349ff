package payments

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes checkout endpoints.
type Handler struct {
	checkout *Checkout
}

// NewHandler constructs a checkout handler.
func NewHandler(checkout *Checkout) *Handler {
	return &Handler{checkout: checkout}
}

// signatureHeaders names the header each gateway signs its webhooks in.
var signatureHeaders = map[string]string{
	"paystack": "X-Paystack-Signature",
	"monnify":  "Monnify-Signature",
}

type initializeRequest struct {
	Gateway string `json:"gateway"`
	Email   string `json:"email"`
}

// Initialize starts paying for the order in the path.
func (h *Handler) Initialize(c *fiber.Ctx) error {
	var req initializeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	res, err := h.checkout.Initialize(c.UserContext(), InitializeInput{
		OrderID: c.Params("orderId"),
		BuyerID: uid,
		Gateway: req.Gateway,
		Email:   req.Email,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(res)
}

// Verify polls the gateway for a payment.
func (h *Handler) Verify(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	intent, err := h.checkout.Verify(c.UserContext(), c.Params("gateway"), c.Params("reference"), uid)
	if err != nil {
		return err
	}
	return c.JSON(intent)
}

// Webhook receives gateway callbacks. It is mounted without bearer auth; the
// signature authenticates the caller.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	name := c.Params("gateway")
	header, ok := signatureHeaders[name]
	if !ok {
		header = "X-Signature"
	}
	if _, err := h.checkout.HandleWebhook(c.UserContext(), name, c.Body(), c.Get(header)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success"})
}

// Gateways lists the available gateways.
func (h *Handler) Gateways(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"gateways": h.checkout.Gateways()})
}
