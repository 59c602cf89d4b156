package money

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Amounts are stored as NUMERIC(36,18).
const (
	Scale            = 18
	MaxIntegerDigits = 18
)

// Fits reports whether d can be stored without rounding: at most Scale
// fractional digits and MaxIntegerDigits integer digits. Only the exponent and
// coefficient are inspected, so huge exponents are rejected without rescaling.
func Fits(d decimal.Decimal) bool {
	if d.IsZero() {
		return true
	}
	coef := new(big.Int).Abs(d.Coefficient())
	digits := int64(len(coef.String()))
	exp := int64(d.Exponent())
	if digits+exp > MaxIntegerDigits {
		return false
	}
	if exp >= -Scale {
		return true
	}
	// Trailing zeros beyond the scale are harmless ("1.50000000000000000000").
	shift := -exp - Scale
	if shift >= digits {
		return false
	}
	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(shift), nil)
	return new(big.Int).Mod(coef, pow).Sign() == 0
}

// Parse parses s as a storable amount.
func Parse(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil || !Fits(d) {
		return decimal.Zero, false
	}
	return d, true
}
