package auth

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/users"
)

// Handler exposes sign-up and session endpoints.
type Handler struct {
	users *users.Service
	svc   *Service
}

// NewHandler builds an auth handler.
func NewHandler(u *users.Service, svc *Service) *Handler {
	return &Handler{users: u, svc: svc}
}

type registerRequest struct {
	Phone     string `json:"phone"`
	Role      string `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// Register signs a user up and sends the first code.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	u, err := h.users.Register(c.UserContext(), users.RegisterInput{
		Phone:     req.Phone,
		Role:      users.Role(req.Role),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"user_id": u.ID,
		"phone":   u.Phone,
		"message": "verification code sent",
	})
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

// RequestCode sends a login or resend code.
func (h *Handler) RequestCode(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.users.RequestCode(c.UserContext(), req.Phone); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "verification code sent"})
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// Verify checks a code and returns a token pair.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	session, err := h.svc.Login(c.UserContext(), req.Phone, req.Code)
	if errors.Is(err, apperr.ErrUnauthorized) {
		return fiber.NewError(http.StatusUnauthorized, "invalid code")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"user_id":       session.User.ID,
		"access_token":  session.Tokens.AccessToken,
		"refresh_token": session.Tokens.RefreshToken,
		"expires_in":    session.Tokens.ExpiresIn,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh issues a new token pair.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	pair, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if errors.Is(err, ErrInvalidToken) {
		return fiber.NewError(http.StatusUnauthorized, "invalid refresh token")
	}
	if err != nil {
		return err
	}
	return c.JSON(pair)
}

// Logout revokes the caller's tokens.
func (h *Handler) Logout(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if err := h.svc.Logout(c.UserContext(), uid); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "logged_out"})
}
