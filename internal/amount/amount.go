// Package amount renders raw on-chain integer amounts as human-readable decimals.
package amount

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is assumed for tokens missing from the registry
const DefaultDecimals int32 = 18

// Format renders raw / 10^decimals with trailing zeros trimmed
func Format(raw *big.Int, decimals int32) string {
	if raw == nil {
		return "0"
	}
	return decimal.NewFromBigInt(raw, -decimals).String()
}

// FormatWithDenom renders "<amount> <denom>"
func FormatWithDenom(raw *big.Int, decimals int32, denom string) string {
	return Format(raw, decimals) + " " + denom
}

// Percent renders (actual - expected) / expected as a percentage with two
// decimal places. It returns "" when expected is zero or either side is nil.
func Percent(actual, expected *big.Int) string {
	if actual == nil || expected == nil || expected.Sign() == 0 {
		return ""
	}
	a := decimal.NewFromBigInt(actual, 0)
	e := decimal.NewFromBigInt(expected, 0)
	return a.Sub(e).Div(e).Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}
