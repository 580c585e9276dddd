// Package pricing computes the platform commission and total charge for an
// escrow transaction. All arithmetic is integer fixed-point so the result
// is identical for any input on any platform.
package pricing

import (
	"errors"

	"github.com/safepay/escrow-gateway/internal/model"
)

// CommissionRateBPS is the platform fee in basis points (2%).
const CommissionRateBPS = 200

var ErrInvalidAmount = errors.New("amount must be a positive value")

// ComputeTotals returns the commission and the total charge for a base
// amount. Commission is amount * 2% rounded half-up to minor units.
func ComputeTotals(amount model.Money) (commission, total model.Money, err error) {
	if amount <= 0 {
		return 0, 0, ErrInvalidAmount
	}

	// half-up rounding: (a*bps + 5000) / 10000
	commission = model.Money((int64(amount)*CommissionRateBPS + 5000) / 10000)
	total = amount + commission
	return commission, total, nil
}
