// Package commission splits a released escrow amount between the seller and
// the platform.
package commission

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
)

// Places is the number of decimal places of the smallest currency unit.
const Places = 2

// Breakdown is the outcome of a split.
type Breakdown struct {
	Total        decimal.Decimal `json:"total"`
	SellerAmount decimal.Decimal `json:"seller_amount"`
	Commission   decimal.Decimal `json:"commission"`
	Rate         decimal.Decimal `json:"rate"`
}

// Calculator holds a validated commission rate.
type Calculator struct {
	rate decimal.Decimal
}

// New validates rate and returns a calculator. The rate must lie in [0, 1).
func New(rate decimal.Decimal) (*Calculator, error) {
	if err := ValidateRate(rate); err != nil {
		return nil, err
	}
	return &Calculator{rate: rate}, nil
}

// ValidateRate fails with ErrInvalidConfiguration when rate is outside [0, 1).
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission rate %s outside [0, 1): %w", rate, apperr.ErrInvalidConfiguration)
	}
	return nil
}

// Rate returns the configured rate.
func (c *Calculator) Rate() decimal.Decimal {
	return c.rate
}

// Split applies the configured rate to gross.
func (c *Calculator) Split(gross decimal.Decimal) (Breakdown, error) {
	return Split(gross, c.rate)
}

// Split computes the seller share and the commission for gross. The seller
// share is rounded half-to-even to the currency unit and the commission takes
// whatever remains, so the two always add up to gross.
func Split(gross, rate decimal.Decimal) (Breakdown, error) {
	if err := ValidateRate(rate); err != nil {
		return Breakdown{}, err
	}
	if gross.IsNegative() {
		return Breakdown{}, fmt.Errorf("gross amount %s: %w", gross, apperr.ErrInvalidAmount)
	}

	seller := gross.Mul(decimal.NewFromInt(1).Sub(rate)).RoundBank(Places)
	return Breakdown{
		Total:        gross,
		SellerAmount: seller,
		Commission:   gross.Sub(seller),
		Rate:         rate,
	}, nil
}
