package orders

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes order endpoints.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler builds an orders HTTP handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

type createRequest struct {
	SellerID        string          `json:"seller_id"`
	ProductID       string          `json:"product_id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DeliveryAddress string          `json:"delivery_address"`
	DeliveryPhone   string          `json:"delivery_phone"`
}

// Create places an order for the caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	o, err := h.coordinator.Create(c.UserContext(), CreateInput{
		BuyerID:         uid,
		SellerID:        req.SellerID,
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		UnitPrice:       req.UnitPrice,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryPhone:   req.DeliveryPhone,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(o)
}

// Get returns an order the caller takes part in.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	o, err := h.coordinator.GetForParticipant(c.UserContext(), c.Params("orderId"), uid)
	if err != nil {
		return err
	}
	return c.JSON(o)
}

// List returns the caller's orders. ?role=buyer or ?role=seller narrows it.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	list, err := h.coordinator.ListForUser(c.UserContext(), uid, Role(c.Query("role")))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"orders": list, "count": len(list)})
}

type statusRequest struct {
	Status Status `json:"status"`
}

// UpdateStatus records a shipping update from the seller.
func (h *Handler) UpdateStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	o, err := h.coordinator.UpdateBySeller(c.UserContext(), c.Params("orderId"), uid, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(o)
}

// Cancel cancels an unpaid order.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	o, err := h.coordinator.Cancel(c.UserContext(), c.Params("orderId"), uid)
	if err != nil {
		return err
	}
	return c.JSON(o)
}
