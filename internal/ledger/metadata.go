package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
)

// Metadata is the typed payload attached to an entry. Each variant validates
// its own fields before the entry is written.
type Metadata interface {
	Type() string
	Validate() error
}

// TransferMetadata marks one leg of a wallet-to-wallet transfer.
type TransferMetadata struct {
	Direction    string `json:"direction"`
	Counterparty string `json:"counterparty"`
}

func (TransferMetadata) Type() string { return "transfer" }

func (m TransferMetadata) Validate() error {
	if m.Direction != "out" && m.Direction != "in" {
		return fmt.Errorf("transfer direction %q: %w", m.Direction, apperr.ErrInvalidInput)
	}
	if m.Counterparty == "" {
		return fmt.Errorf("transfer counterparty missing: %w", apperr.ErrInvalidInput)
	}
	return nil
}

// WithdrawalMetadata records where a withdrawal is paid out.
type WithdrawalMetadata struct {
	BankName      string          `json:"bank_name"`
	AccountNumber string          `json:"account_number"`
	AccountName   string          `json:"account_name"`
	Fee           decimal.Decimal `json:"fee"`
}

func (WithdrawalMetadata) Type() string { return "withdrawal" }

func (m WithdrawalMetadata) Validate() error {
	if m.BankName == "" || m.AccountNumber == "" || m.AccountName == "" {
		return fmt.Errorf("withdrawal destination incomplete: %w", apperr.ErrMissingPayoutDestination)
	}
	if m.Fee.IsNegative() {
		return fmt.Errorf("withdrawal fee %s: %w", m.Fee, apperr.ErrInvalidAmount)
	}
	return nil
}

// FeeMetadata ties a platform fee to the entry it was charged for.
type FeeMetadata struct {
	Purpose   string `json:"purpose"`
	Principal string `json:"principal_reference"`
}

func (FeeMetadata) Type() string { return "fee" }

func (m FeeMetadata) Validate() error {
	if m.Purpose == "" || m.Principal == "" {
		return fmt.Errorf("fee metadata incomplete: %w", apperr.ErrInvalidInput)
	}
	return nil
}

// EscrowReleaseMetadata records the split behind a seller credit.
type EscrowReleaseMetadata struct {
	EscrowID   string          `json:"escrow_id"`
	OrderID    string          `json:"order_id"`
	Gross      decimal.Decimal `json:"gross"`
	Commission decimal.Decimal `json:"commission"`
	Rate       decimal.Decimal `json:"rate"`
}

func (EscrowReleaseMetadata) Type() string { return "escrow_release" }

func (m EscrowReleaseMetadata) Validate() error {
	if m.EscrowID == "" || m.OrderID == "" {
		return fmt.Errorf("escrow release metadata incomplete: %w", apperr.ErrInvalidInput)
	}
	if m.Commission.IsNegative() || m.Commission.GreaterThan(m.Gross) {
		return fmt.Errorf("commission %s of %s: %w", m.Commission, m.Gross, apperr.ErrInvalidAmount)
	}
	return nil
}

// AdjustmentMetadata covers manual or system postings outside the flows above.
type AdjustmentMetadata struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor,omitempty"`
}

func (AdjustmentMetadata) Type() string { return "adjustment" }

func (m AdjustmentMetadata) Validate() error {
	if m.Reason == "" {
		return fmt.Errorf("adjustment reason missing: %w", apperr.ErrInvalidInput)
	}
	return nil
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeMetadata serializes m with its type tag. A nil m encodes to nil.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: m.Type(), Data: data})
}

// DecodeMetadata restores a value written by EncodeMetadata.
func DecodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	var m Metadata
	switch env.Type {
	case "transfer":
		var v TransferMetadata
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		m = v
	case "withdrawal":
		var v WithdrawalMetadata
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		m = v
	case "fee":
		var v FeeMetadata
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		m = v
	case "escrow_release":
		var v EscrowReleaseMetadata
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		m = v
	case "adjustment":
		var v AdjustmentMetadata
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		m = v
	default:
		return nil, fmt.Errorf("metadata type %q: %w", env.Type, apperr.ErrInvalidInput)
	}
	return m, nil
}
