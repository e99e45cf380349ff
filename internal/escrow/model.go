// Package escrow holds buyer payments in custody until delivery is confirmed
// or the payment is refunded. Escrows move HELD -> RELEASED, HELD -> REFUNDED
// or HELD -> DISPUTED -> REFUNDED and never return to HELD.
package escrow

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/orders"
)

// Status of an escrow.
type Status string

const (
	StatusHeld     Status = "HELD"
	StatusReleased Status = "RELEASED"
	StatusRefunded Status = "REFUNDED"
	StatusDisputed Status = "DISPUTED"
)

// Escrow is the custodial hold of one order's payment.
type Escrow struct {
	ID                   string          `json:"id"`
	OrderID              string          `json:"order_id"`
	BuyerID              string          `json:"buyer_id"`
	SellerID             string          `json:"seller_id"`
	Amount               decimal.Decimal `json:"amount"`
	Status               Status          `json:"status"`
	Gateway              string          `json:"gateway"`
	PaymentReference     string          `json:"payment_reference"`
	VirtualAccountNumber string          `json:"virtual_account_number,omitempty"`
	HeldAt               time.Time       `json:"held_at"`
	ReleasedAt           *time.Time      `json:"released_at,omitempty"`
	RefundedAt           *time.Time      `json:"refunded_at,omitempty"`
	DisputedAt           *time.Time      `json:"disputed_at,omitempty"`
	DisputeReason        string          `json:"dispute_reason,omitempty"`
	DisputedBy           string          `json:"disputed_by,omitempty"`
	RefundReason         string          `json:"refund_reason,omitempty"`
}

// Terminal reports whether no further transition is possible.
func (e Escrow) Terminal() bool {
	return e.Status == StatusReleased || e.Status == StatusRefunded
}

func (e Escrow) roleOf(userID string) (orders.Role, bool) {
	switch userID {
	case e.BuyerID:
		return orders.RoleBuyer, true
	case e.SellerID:
		return orders.RoleSeller, true
	}
	return orders.RoleAny, false
}

// View is an escrow as seen by one of its participants.
type View struct {
	Escrow
	Role orders.Role `json:"role"`
}

// Resolution carries the details recorded with a transition.
type Resolution struct {
	At     time.Time
	Reason string
	By     string
}
