package wallet

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/ledger"
)

// Status of a wallet. A frozen wallet refuses every mutation until its ledger
// is reconciled by hand.
type Status string

const (
	StatusActive Status = "active"
	StatusFrozen Status = "frozen"
)

// Wallet is the stored value account of one user. Balance mirrors the ledger
// and is only changed together with an appended entry.
type Wallet struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string          `json:"wallet_id"`
	Amount   decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	AsOf     time.Time       `json:"timestamp"`
}

// PayoutAccount is the bank account a withdrawal is paid to.
type PayoutAccount struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// Complete reports whether every field is filled in.
func (p PayoutAccount) Complete() bool {
	return p.BankName != "" && p.AccountNumber != "" && p.AccountName != ""
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Reference string       `json:"reference"`
	Debit     ledger.Entry `json:"debit"`
	Credit    ledger.Entry `json:"credit"`
}

// WithdrawalResult holds the principal and fee entries of a withdrawal.
type WithdrawalResult struct {
	Reference   string        `json:"reference"`
	Principal   ledger.Entry  `json:"principal"`
	Fee         *ledger.Entry `json:"fee,omitempty"`
	Destination PayoutAccount `json:"destination"`
}

// ReconcileReport compares a wallet balance with its ledger.
type ReconcileReport struct {
	WalletID  string          `json:"wallet_id"`
	Balance   decimal.Decimal `json:"balance"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
	Frozen    bool            `json:"frozen"`
}
