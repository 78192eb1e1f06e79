// Package money holds the fixed-point rules shared by every balance, price
// and quantity in the exchange: 8 fractional digits, products truncated
// toward zero.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every stored value.
const Scale int32 = 8

// Limit is the exclusive magnitude bound of a stored value, NUMERIC(30,8)
// leaves 22 integer digits.
var Limit = decimal.New(1, 22)

// CommissionRate is the flat taker fee charged on the gross value of a trade.
var CommissionRate = decimal.RequireFromString("0.015")

// Parse reads a decimal string and rejects values that need more than Scale
// fractional digits.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if !Valid(d) {
		return decimal.Zero, fmt.Errorf("decimal %q has more than %d fractional digits", s, Scale)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Valid reports whether d is representable at Scale without rounding.
func Valid(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale))
}

// InRange reports whether d fits the storage precision.
func InRange(d decimal.Decimal) bool {
	return d.Abs().LessThan(Limit)
}

// Mul multiplies and truncates the product at Scale.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(Scale)
}

// Commission returns the fee owed on a gross trade value.
func Commission(gross decimal.Decimal) decimal.Decimal {
	return Mul(gross, CommissionRate)
}

// String formats d with exactly Scale fractional digits.
func String(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
