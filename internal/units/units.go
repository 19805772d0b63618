// Package units converts between human-readable decimal amounts and the
// fixed-point integers used on the ledger.
package units

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DefaultDecimals is the scale of the native asset and curve tokens.
const DefaultDecimals = 18

var (
	ErrNegative  = errors.New("amount is negative")
	ErrPrecision = errors.New("amount has more fractional digits than the scale allows")
	ErrOverflow  = errors.New("amount does not fit into 256 bits")
)

// Parse converts a decimal string such as "1.05" into an integer scaled by
// 10^decimals.
func Parse(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d, decimals)
}

// FromDecimal scales d by 10^decimals.
func FromDecimal(d decimal.Decimal, decimals int32) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%s: %w", d, ErrNegative)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%s with %d decimals: %w", d, decimals, ErrPrecision)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%s: %w", d, ErrOverflow)
	}
	return v, nil
}

// MustParse is Parse for constants known to be valid.
func MustParse(s string, decimals int32) *uint256.Int {
	v, err := Parse(s, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// Ether parses an 18-decimal amount and panics on malformed input.
func Ether(s string) *uint256.Int {
	return MustParse(s, DefaultDecimals)
}

// ToDecimal converts a scaled integer back into a decimal.
func ToDecimal(v *uint256.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -decimals)
}

// Format renders a scaled integer without trailing zeros, e.g. "1.05".
func Format(v *uint256.Int, decimals int32) string {
	return ToDecimal(v, decimals).String()
}

// ToFloat is a lossy conversion used for metrics.
func ToFloat(v *uint256.Int, decimals int32) float64 {
	f, _ := ToDecimal(v, decimals).Float64()
	return f
}
