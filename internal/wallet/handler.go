package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
)

// Handler exposes wallet HTTP endpoints for the authenticated user.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type walletResponse struct {
	ID        string          `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Status    Status          `json:"status"`
	CreatedAt string          `json:"created_at"`
}

// Me returns the caller's wallet.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	w, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.JSON(walletResponse{
		ID:        w.ID,
		Balance:   w.Balance,
		Currency:  w.Currency,
		Status:    w.Status,
		CreatedAt: w.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Balance returns the caller's balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	balance, err := h.service.GetBalance(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.JSON(balance)
}

// Transactions lists the caller's ledger entries, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	entries, err := h.service.ListTransactions(c.UserContext(), uid, c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transactions": entries, "count": len(entries)})
}

type transferRequest struct {
	RecipientID string          `json:"recipient_id"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
}

// Transfer moves funds from the caller to another user's wallet. Replaying a
// reference returns the original result.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	res, err := h.service.Transfer(c.UserContext(), TransferInput{
		SenderID:    uid,
		RecipientID: req.RecipientID,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Description: req.Description,
	})
	if errors.Is(err, apperr.ErrDuplicateReference) {
		return c.Status(http.StatusOK).JSON(res)
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(res)
}

type withdrawRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// Withdraw requests a payout to the caller's registered bank account.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	res, err := h.service.Withdraw(c.UserContext(), WithdrawInput{
		UserID:    uid,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if errors.Is(err, apperr.ErrDuplicateReference) {
		return c.Status(http.StatusOK).JSON(res)
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(res)
}

// Reconcile checks the caller's balance against the ledger and freezes the
// wallet on a mismatch.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	report, err := h.service.Reconcile(c.UserContext(), uid)
	if errors.Is(err, apperr.ErrLedgerCorrupted) {
		return c.Status(apperr.HTTPStatus(err)).JSON(report)
	}
	if err != nil {
		return err
	}
	return c.JSON(report)
}
