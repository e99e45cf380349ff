package escrow

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/solven/escrow/internal/commission"
)

// Handler exposes escrow endpoints to buyers and sellers.
type Handler struct {
	service *Service
}

// NewHandler builds an escrow HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type releaseResponse struct {
	EscrowID  string               `json:"escrow_id,omitempty"`
	OrderID   string               `json:"order_id,omitempty"`
	Breakdown commission.Breakdown `json:"breakdown"`
}

// List returns every escrow the caller takes part in.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	views, err := h.service.ListForUser(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"escrows": views, "count": len(views)})
}

// Get returns one escrow by id.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	view, err := h.service.Get(c.UserContext(), c.Params("escrowId"), uid)
	if err != nil {
		return err
	}
	return c.JSON(view)
}

// ByOrder returns the escrow funding an order.
func (h *Handler) ByOrder(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	view, err := h.service.GetByOrder(c.UserContext(), c.Params("orderId"), uid)
	if err != nil {
		return err
	}
	return c.JSON(view)
}

// Release pays the seller. Only the buyer may release.
func (h *Handler) Release(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	id := c.Params("escrowId")
	split, err := h.service.Release(c.UserContext(), id, uid)
	if err != nil {
		return err
	}
	return c.JSON(releaseResponse{EscrowID: id, Breakdown: split})
}

// ConfirmDelivery completes a delivered order and releases its escrow.
func (h *Handler) ConfirmDelivery(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	id := c.Params("orderId")
	split, err := h.service.ConfirmDelivery(c.UserContext(), id, uid)
	if err != nil {
		return err
	}
	return c.JSON(releaseResponse{OrderID: id, Breakdown: split})
}

// Dispute suspends a held escrow.
func (h *Handler) Dispute(c *fiber.Ctx) error {
	var req reasonRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	e, err := h.service.Dispute(c.UserContext(), c.Params("escrowId"), uid, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(e)
}

// Refund returns a held or disputed escrow to the buyer.
func (h *Handler) Refund(c *fiber.Ctx) error {
	var req reasonRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	uid, _ := c.Locals("user_id").(string)
	e, err := h.service.Refund(c.UserContext(), c.Params("escrowId"), uid, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(e)
}
