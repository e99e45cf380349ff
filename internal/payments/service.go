// Package payments takes a buyer from an unpaid order to a held escrow
// through an external payment gateway.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/commission"
	"github.com/solven/escrow/internal/escrow"
	"github.com/solven/escrow/internal/gateway"
	"github.com/solven/escrow/internal/orders"
)

// ReferencePrefix starts every checkout payment reference.
const ReferencePrefix = "PAY_"

// Orders reads the order being paid for.
type Orders interface {
	Get(ctx context.Context, id string) (orders.Order, error)
}

// Escrows opens the escrow once a payment is confirmed.
type Escrows interface {
	Create(ctx context.Context, in escrow.CreateInput) (escrow.Escrow, error)
}

// Checkout coordinates payment intents, gateways and escrow creation.
type Checkout struct {
	intents  Store
	orders   Orders
	escrows  Escrows
	gateways *gateway.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewCheckout builds a checkout service.
func NewCheckout(intents Store, ord Orders, esc Escrows, gateways *gateway.Registry, logger *slog.Logger) *Checkout {
	return &Checkout{
		intents:  intents,
		orders:   ord,
		escrows:  esc,
		gateways: gateways,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// InitializeInput starts paying for an order.
type InitializeInput struct {
	OrderID string
	BuyerID string
	Gateway string
	Email   string
}

// InitializeResult carries the intent and the gateway instructions.
type InitializeResult struct {
	Intent       Intent                   `json:"intent"`
	Instructions gateway.InitializeResult `json:"instructions"`
}

// Initialize records a pending intent for the full order total and asks the
// gateway how the buyer should pay.
func (c *Checkout) Initialize(ctx context.Context, in InitializeInput) (InitializeResult, error) {
	provider, err := c.gateways.Get(in.Gateway)
	if err != nil {
		return InitializeResult{}, err
	}
	order, err := c.orders.Get(ctx, in.OrderID)
	if err != nil {
		return InitializeResult{}, err
	}
	if order.BuyerID != in.BuyerID {
		return InitializeResult{}, fmt.Errorf("order %s: %w", order.ID, apperr.ErrUnauthorized)
	}
	if order.Status != orders.StatusPendingPayment {
		return InitializeResult{}, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, apperr.ErrInvalidState)
	}

	now := c.now()
	intent := Intent{
		Reference: ReferencePrefix + uuid.NewString(),
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		Gateway:   provider.Name(),
		Amount:    order.TotalAmount.RoundBank(commission.Places),
		Status:    IntentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.intents.Create(ctx, intent); err != nil {
		return InitializeResult{}, err
	}

	res, err := provider.Initialize(ctx, gateway.InitializeRequest{
		Amount:    intent.Amount,
		Email:     in.Email,
		Reference: intent.Reference,
	})
	if err != nil {
		intent.Status = IntentFailed
		intent.UpdatedAt = c.now()
		if uerr := c.intents.Update(ctx, intent); uerr != nil {
			c.logger.Error("payment.intent_update_failed", "reference", intent.Reference, "error", uerr)
		}
		return InitializeResult{}, err
	}

	intent.AuthorizationURL = res.AuthorizationURL
	if res.Account != nil {
		intent.AccountNumber = res.Account.AccountNumber
	}
	intent.UpdatedAt = c.now()
	if err := c.intents.Update(ctx, intent); err != nil {
		return InitializeResult{}, err
	}

	c.logger.Info("payment.initialized", "reference", intent.Reference, "order_id", order.ID,
		"gateway", intent.Gateway, "amount", intent.Amount.String())
	return InitializeResult{Intent: intent, Instructions: res}, nil
}

// Verify asks the gateway for the payment's status and funds the order when
// it has been paid in full. Only the buyer who created the intent may ask.
func (c *Checkout) Verify(ctx context.Context, gatewayName, reference, buyerID string) (Intent, error) {
	provider, err := c.gateways.Get(gatewayName)
	if err != nil {
		return Intent{}, err
	}
	intent, err := c.intent(ctx, provider.Name(), reference)
	if err != nil {
		return Intent{}, err
	}
	if intent.BuyerID != buyerID {
		return Intent{}, fmt.Errorf("payment intent %s: %w", reference, apperr.ErrNotFound)
	}
	if intent.Status == IntentPaid {
		return intent, nil
	}

	v, err := provider.Verify(ctx, reference)
	if err != nil {
		return Intent{}, err
	}
	return c.settle(ctx, intent, v.Status, v.Amount)
}

// HandleWebhook authenticates a gateway callback and applies it. Replays of
// an applied callback change nothing.
func (c *Checkout) HandleWebhook(ctx context.Context, gatewayName string, payload []byte, signature string) (Intent, error) {
	provider, err := c.gateways.Get(gatewayName)
	if err != nil {
		return Intent{}, err
	}
	ev, err := provider.HandleWebhook(ctx, payload, signature)
	if err != nil {
		c.logger.Warn("payment.webhook_rejected", "gateway", gatewayName, "error", err)
		return Intent{}, err
	}
	intent, err := c.intent(ctx, provider.Name(), ev.Reference)
	if err != nil {
		return Intent{}, err
	}
	return c.settle(ctx, intent, ev.Status, ev.Amount)
}

// Gateways lists the gateways a buyer can choose from.
func (c *Checkout) Gateways() []gateway.Info {
	return c.gateways.Describe()
}

// Get returns an intent to the buyer who created it.
func (c *Checkout) Get(ctx context.Context, reference, buyerID string) (Intent, error) {
	intent, err := c.intents.Get(ctx, reference)
	if err != nil {
		return Intent{}, err
	}
	if intent.BuyerID != buyerID {
		return Intent{}, fmt.Errorf("payment intent %s: %w", reference, apperr.ErrNotFound)
	}
	return intent, nil
}

func (c *Checkout) intent(ctx context.Context, gatewayName, reference string) (Intent, error) {
	intent, err := c.intents.Get(ctx, reference)
	if err != nil {
		return Intent{}, err
	}
	if intent.Gateway != gatewayName {
		return Intent{}, fmt.Errorf("payment %s belongs to %s, not %s: %w",
			reference, intent.Gateway, gatewayName, apperr.ErrInvalidInput)
	}
	return intent, nil
}

func (c *Checkout) settle(ctx context.Context, intent Intent, status gateway.PaymentStatus, paid decimal.Decimal) (Intent, error) {
	switch status {
	case gateway.StatusPending:
		return intent, nil
	case gateway.StatusFailed:
		if intent.Status != IntentPending {
			return intent, nil
		}
		intent.Status = IntentFailed
		intent.UpdatedAt = c.now()
		if err := c.intents.Update(ctx, intent); err != nil {
			return Intent{}, err
		}
		c.logger.Info("payment.failed", "reference", intent.Reference, "order_id", intent.OrderID)
		return intent, nil
	}

	if intent.Status == IntentPaid {
		return intent, nil
	}
	if !paid.RoundBank(commission.Places).Equal(intent.Amount) {
		c.logger.Warn("payment.amount_mismatch", "reference", intent.Reference, "order_id", intent.OrderID,
			"expected", intent.Amount.String(), "paid", paid.String())
		return intent, fmt.Errorf("payment %s paid %s, order total is %s: %w",
			intent.Reference, paid, intent.Amount, apperr.ErrInvalidAmount)
	}

	e, err := c.escrows.Create(ctx, escrow.CreateInput{
		OrderID:              intent.OrderID,
		Amount:               intent.Amount,
		Gateway:              intent.Gateway,
		PaymentReference:     intent.Reference,
		VirtualAccountNumber: intent.AccountNumber,
	})
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrDuplicateEscrow) && e.PaymentReference == intent.Reference:
		// already funded by this payment
	default:
		return intent, err
	}

	intent.Status = IntentPaid
	intent.EscrowID = e.ID
	intent.UpdatedAt = c.now()
	if err := c.intents.Update(ctx, intent); err != nil {
		return Intent{}, err
	}
	c.logger.Info("payment.confirmed", "reference", intent.Reference, "order_id", intent.OrderID, "escrow_id", e.ID)
	return intent, nil
}
