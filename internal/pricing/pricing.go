// Package pricing implements the constant-product math shared by curve
// previews and trade execution.
//
// All functions are pure: they never mutate their arguments and always
// return freshly allocated results, so a preview computed from a reserve
// snapshot agrees bit-for-bit with the execution that follows it.
package pricing

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientLiquidity is returned when the out-reserve cannot cover a trade.
	ErrInsufficientLiquidity = errors.New("ERR_INSUFFICIENT_LIQUIDITY")
	// ErrArithmetic is returned when an intermediate value leaves the 256-bit range.
	ErrArithmetic = errors.New("ERR_ARITHMETIC")
)

// GetAmountOut returns the amount of the out-asset released for amountIn of the
// in-asset against a curve with invariant k:
//
//	amountOut = reserveOut - k / (reserveIn + amountIn)
//
// The quotient is truncated. A quotient of zero or one above reserveOut fails
// with ErrInsufficientLiquidity, so the result is always strictly less than
// reserveOut.
func GetAmountOut(amountIn, k, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountIn == nil || k == nil || reserveIn == nil || reserveOut == nil {
		return nil, fmt.Errorf("%w: nil operand", ErrArithmetic)
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, fmt.Errorf("%w: empty reserve", ErrInsufficientLiquidity)
	}

	denominator, overflow := new(uint256.Int).AddOverflow(reserveIn, amountIn)
	if overflow {
		return nil, fmt.Errorf("%w: reserve in %s + amount in %s overflows",
			ErrArithmetic, reserveIn.Dec(), amountIn.Dec())
	}

	remaining := new(uint256.Int).Div(k, denominator)
	if remaining.Gt(reserveOut) {
		return nil, fmt.Errorf("%w: invariant requires %s, reserve out holds %s",
			ErrInsufficientLiquidity, remaining.Dec(), reserveOut.Dec())
	}
	// remaining == 0 would hand out the whole reserve
	if remaining.IsZero() {
		return nil, fmt.Errorf("%w: trade drains reserve out", ErrInsufficientLiquidity)
	}

	return new(uint256.Int).Sub(reserveOut, remaining), nil
}

// FeeOn returns amount * numerator / denominator rounded down. The product is
// computed at 512-bit width; only a quotient beyond 256 bits fails.
func FeeOn(amount, numerator, denominator *uint256.Int) (*uint256.Int, error) {
	if amount == nil || numerator == nil || denominator == nil {
		return nil, fmt.Errorf("%w: nil operand", ErrArithmetic)
	}
	if denominator.IsZero() {
		return nil, fmt.Errorf("%w: zero fee denominator", ErrArithmetic)
	}

	fee, overflow := new(uint256.Int).MulDivOverflow(amount, numerator, denominator)
	if overflow {
		return nil, fmt.Errorf("%w: fee on %s overflows", ErrArithmetic, amount.Dec())
	}
	return fee, nil
}

// Invariant returns reserveA * reserveB, failing if the product does not fit
// into 256 bits.
func Invariant(reserveA, reserveB *uint256.Int) (*uint256.Int, error) {
	k, overflow := new(uint256.Int).MulOverflow(reserveA, reserveB)
	if overflow {
		return nil, fmt.Errorf("%w: invariant %s * %s overflows",
			ErrArithmetic, reserveA.Dec(), reserveB.Dec())
	}
	return k, nil
}
