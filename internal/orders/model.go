// Package orders keeps order status consistent with escrow and delivery
// events. It is the single writer of Order.Status.
package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of an order.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaymentHeld    Status = "PAYMENT_HELD"
	StatusShipped        Status = "SHIPPED"
	StatusInTransit      Status = "IN_TRANSIT"
	StatusDelivered      Status = "DELIVERED"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusDisputed       Status = "DISPUTED"
)

// Role is the part a user plays in an order.
type Role string

const (
	RoleAny    Role = ""
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Order is a single purchase intent.
type Order struct {
	ID               string          `json:"id"`
	BuyerID          string          `json:"buyer_id"`
	SellerID         string          `json:"seller_id"`
	ProductID        string          `json:"product_id"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	Status           Status          `json:"status"`
	DeliveryAddress  string          `json:"delivery_address"`
	DeliveryPhone    string          `json:"delivery_phone"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// RoleOf returns the role userID plays in the order, or false if none.
func (o Order) RoleOf(userID string) (Role, bool) {
	switch userID {
	case o.BuyerID:
		return RoleBuyer, true
	case o.SellerID:
		return RoleSeller, true
	}
	return RoleAny, false
}
