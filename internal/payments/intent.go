package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus tracks a checkout attempt.
type IntentStatus string

const (
	IntentPending IntentStatus = "pending"
	IntentPaid    IntentStatus = "paid"
	IntentFailed  IntentStatus = "failed"
)

// Intent is one attempt by a buyer to pay for an order through a gateway.
// Its reference is the gateway payment reference.
type Intent struct {
	Reference        string          `json:"reference"`
	OrderID          string          `json:"order_id"`
	BuyerID          string          `json:"buyer_id"`
	Gateway          string          `json:"gateway"`
	Amount           decimal.Decimal `json:"amount"`
	Status           IntentStatus    `json:"status"`
	AuthorizationURL string          `json:"authorization_url,omitempty"`
	AccountNumber    string          `json:"account_number,omitempty"`
	EscrowID         string          `json:"escrow_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
