// Package money holds the rounding rules applied to account balances.
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// BalancePlaces is the precision balances are rounded to after an exchange.
const BalancePlaces = 2

// RoundHalfDown rounds v to places decimal digits. Exact ties go toward zero:
// 1.005 -> 1.00, 1.0051 -> 1.01, -1.005 -> -1.00.
//
// The float is read through its shortest decimal representation, so 1.005 is a
// tie even though its binary value is slightly below it.
func RoundHalfDown(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	d := decimal.NewFromFloat(v)
	truncated := d.Truncate(places)
	rem := d.Sub(truncated).Abs()
	half := decimal.New(5, -(places + 1))
	if rem.GreaterThan(half) {
		unit := decimal.New(1, -places)
		if d.IsNegative() {
			truncated = truncated.Sub(unit)
		} else {
			truncated = truncated.Add(unit)
		}
	}
	f, _ := truncated.Float64()
	return f
}

// RoundBalance applies RoundHalfDown at BalancePlaces.
func RoundBalance(v float64) float64 {
	return RoundHalfDown(v, BalancePlaces)
}
