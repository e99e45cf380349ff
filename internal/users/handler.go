package users

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes profile endpoints for the authenticated user.
type Handler struct {
	service *Service
}

// NewHandler builds a users handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type profileResponse struct {
	ID            string      `json:"id"`
	Phone         string      `json:"phone"`
	Role          Role        `json:"role"`
	FirstName     string      `json:"first_name,omitempty"`
	LastName      string      `json:"last_name,omitempty"`
	Email         string      `json:"email"`
	PhoneVerified bool        `json:"phone_verified"`
	Bank          BankDetails `json:"bank"`
}

func toProfile(u User) profileResponse {
	return profileResponse{
		ID:            u.ID,
		Phone:         u.Phone,
		Role:          u.Role,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Email:         u.ContactEmail(),
		PhoneVerified: u.PhoneVerified,
		Bank:          u.Bank,
	}
}

// Me returns the caller's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	u, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.JSON(toProfile(u))
}

// UpdateBank replaces the caller's payout bank details.
func (h *Handler) UpdateBank(c *fiber.Ctx) error {
	var req BankDetails
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	u, err := h.service.UpdateBankDetails(c.UserContext(), uid, req)
	if err != nil {
		return err
	}
	return c.JSON(toProfile(u))
}
