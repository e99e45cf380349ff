package commission

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solven/escrow/internal/apperr"
)

func TestSplitFivePercent(t *testing.T) {
	b, err := Split(decimal.NewFromInt(10000), decimal.RequireFromString("0.05"))
	require.NoError(t, err)

	assert.True(t, b.SellerAmount.Equal(decimal.NewFromInt(9500)), "seller got %s", b.SellerAmount)
	assert.True(t, b.Commission.Equal(decimal.NewFromInt(500)), "commission got %s", b.Commission)
	assert.True(t, b.Total.Equal(decimal.NewFromInt(10000)))
}

func TestSplitIsExactForAwkwardAmounts(t *testing.T) {
	rates := []string{"0", "0.05", "0.075", "0.1234", "0.3333", "0.9999"}
	for _, r := range rates {
		rate := decimal.RequireFromString(r)
		for cents := int64(1); cents <= 2000; cents += 7 {
			gross := decimal.New(cents, -2)
			b, err := Split(gross, rate)
			require.NoError(t, err)
			assert.True(t, b.SellerAmount.Add(b.Commission).Equal(gross),
				"rate %s gross %s: %s + %s", r, gross, b.SellerAmount, b.Commission)
			assert.False(t, b.Commission.IsNegative(), "rate %s gross %s", r, gross)
		}
	}
}

func TestSplitRoundsHalfToEven(t *testing.T) {
	// 0.25 * 0.5 = 0.125 rounds to 0.12 under banker's rounding
	b, err := Split(decimal.RequireFromString("0.25"), decimal.RequireFromString("0.5"))
	require.NoError(t, err)

	assert.Equal(t, "0.12", b.SellerAmount.StringFixed(2))
	assert.Equal(t, "0.13", b.Commission.StringFixed(2))
}

func TestRateOutOfRange(t *testing.T) {
	for _, r := range []string{"-0.01", "1", "1.5"} {
		t.Run(r, func(t *testing.T) {
			_, err := New(decimal.RequireFromString(r))
			assert.True(t, errors.Is(err, apperr.ErrInvalidConfiguration), fmt.Sprint(err))
		})
	}
}

func TestSplitRejectsNegativeGross(t *testing.T) {
	c, err := New(decimal.RequireFromString("0.05"))
	require.NoError(t, err)

	_, err = c.Split(decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
}
