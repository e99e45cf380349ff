package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/commission"
	"github.com/solven/escrow/internal/notification"
)

// Coordinator maps lifecycle events onto order status. Every status write
// goes through the store's compare-and-set, so a stale or repeated event
// fails with apperr.ErrInvalidTransition instead of overwriting.
type Coordinator struct {
	store      Store
	commission *commission.Calculator
	notifier   notification.Notifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewCoordinator builds an order coordinator.
func NewCoordinator(store Store, calc *commission.Calculator, notifier notification.Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:      store,
		commission: calc,
		notifier:   notifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput captures a new purchase.
type CreateInput struct {
	BuyerID         string
	SellerID        string
	ProductID       string
	Quantity        int
	UnitPrice       decimal.Decimal
	DeliveryAddress string
	DeliveryPhone   string
}

// Create records an order in PENDING_PAYMENT. Total and commission are fixed
// here from the price in effect now.
func (c *Coordinator) Create(ctx context.Context, in CreateInput) (Order, error) {
	if in.BuyerID == "" || in.SellerID == "" || strings.TrimSpace(in.ProductID) == "" {
		return Order{}, fmt.Errorf("buyer, seller and product required: %w", apperr.ErrInvalidInput)
	}
	if in.BuyerID == in.SellerID {
		return Order{}, fmt.Errorf("cannot buy your own product: %w", apperr.ErrInvalidInput)
	}
	if in.Quantity < 1 {
		return Order{}, fmt.Errorf("quantity %d: %w", in.Quantity, apperr.ErrInvalidInput)
	}
	unitPrice := in.UnitPrice.RoundBank(commission.Places)
	if !unitPrice.IsPositive() {
		return Order{}, fmt.Errorf("unit price %s: %w", in.UnitPrice, apperr.ErrInvalidAmount)
	}

	total := unitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
	split, err := c.commission.Split(total)
	if err != nil {
		return Order{}, err
	}

	now := c.now()
	o := Order{
		ID:               uuid.NewString(),
		BuyerID:          in.BuyerID,
		SellerID:         in.SellerID,
		ProductID:        in.ProductID,
		Quantity:         in.Quantity,
		UnitPrice:        unitPrice,
		TotalAmount:      total,
		CommissionAmount: split.Commission,
		Status:           StatusPendingPayment,
		DeliveryAddress:  in.DeliveryAddress,
		DeliveryPhone:    in.DeliveryPhone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := c.store.Create(ctx, o); err != nil {
		return Order{}, err
	}
	c.logger.Info("order.created", "order_id", o.ID, "buyer_id", o.BuyerID, "seller_id", o.SellerID,
		"total", total.String(), "commission", split.Commission.String())
	return o, nil
}

// Get fetches an order without any participant check. Internal callers only.
func (c *Coordinator) Get(ctx context.Context, id string) (Order, error) {
	return c.store.Get(ctx, id)
}

// GetForParticipant fetches an order on behalf of its buyer or seller.
func (c *Coordinator) GetForParticipant(ctx context.Context, id, userID string) (Order, error) {
	o, err := c.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if _, ok := o.RoleOf(userID); !ok {
		return Order{}, fmt.Errorf("user %s on order %s: %w", userID, id, apperr.ErrUnauthorized)
	}
	return o, nil
}

// ListForUser returns the user's orders, optionally narrowed to one role.
func (c *Coordinator) ListForUser(ctx context.Context, userID string, role Role) ([]Order, error) {
	switch role {
	case RoleAny, RoleBuyer, RoleSeller:
	default:
		return nil, fmt.Errorf("role %q: %w", role, apperr.ErrInvalidInput)
	}
	return c.store.ListByParticipant(ctx, userID, role)
}

// Apply moves the order according to event.
func (c *Coordinator) Apply(ctx context.Context, orderID string, event Event) (Order, error) {
	t, ok := lookup(event)
	if !ok {
		return Order{}, fmt.Errorf("event %q: %w", event, apperr.ErrInvalidInput)
	}
	o, err := c.store.Transition(ctx, orderID, t.from, t.to, c.now())
	if err != nil {
		return Order{}, err
	}
	c.logger.Info("order.transitioned", "order_id", orderID, "event", string(event), "status", string(o.Status))
	return o, nil
}

// UpdateBySeller lets the seller report SHIPPED, IN_TRANSIT or DELIVERED.
func (c *Coordinator) UpdateBySeller(ctx context.Context, orderID, sellerID string, status Status) (Order, error) {
	event, ok := sellerEvents[status]
	if !ok {
		return Order{}, fmt.Errorf("seller cannot set %s: %w", status, apperr.ErrInvalidTransition)
	}
	o, err := c.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.SellerID != sellerID {
		return Order{}, fmt.Errorf("user %s is not the seller of %s: %w", sellerID, orderID, apperr.ErrUnauthorized)
	}
	o, err = c.Apply(ctx, orderID, event)
	if err != nil {
		return Order{}, err
	}
	c.notify(ctx, o.BuyerID, fmt.Sprintf("Your order %s is now %s", o.ID, o.Status))
	return o, nil
}

// Cancel lets the buyer abandon an order that has not been paid.
func (c *Coordinator) Cancel(ctx context.Context, orderID, buyerID string) (Order, error) {
	o, err := c.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.BuyerID != buyerID {
		return Order{}, fmt.Errorf("user %s is not the buyer of %s: %w", buyerID, orderID, apperr.ErrUnauthorized)
	}
	o, err = c.Apply(ctx, orderID, EventBuyerCancelled)
	if err != nil {
		return Order{}, err
	}
	c.notify(ctx, o.SellerID, fmt.Sprintf("Order %s was cancelled by the buyer", o.ID))
	return o, nil
}

func (c *Coordinator) notify(ctx context.Context, userID, body string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Send(ctx, notification.Message{Kind: notification.KindOrderStatus, Destination: userID, Body: body}); err != nil {
		c.logger.Warn("notification failed", "user_id", userID, "error", err)
	}
}
