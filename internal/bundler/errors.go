// =============================
// File: internal/bundler/errors.go
// =============================
package bundler

import (
	"errors"
	"fmt"

	"github.com/rovshanmuradov/curve-bundler/internal/pricing"
)

// Error codes returned by settlement operations. Each failed operation is
// reverted as a whole; callers use errors.Is to tell the causes apart.
var (
	ErrAlreadyInitialized = errors.New("ERR_CORE_ALREADY_INITIALIZED")
	ErrNotInitialized     = errors.New("ERR_CORE_NOT_INITIALIZED")
	ErrExpired            = errors.New("ERR_EXPIRED")
	ErrInsufficientValue  = errors.New("ERR_INSUFFICIENT_VALUE")
	ErrZeroAmount         = errors.New("ERR_ZERO_AMOUNT")
	ErrTransferFailed     = errors.New("ERR_TRANSFER_FAILED")
	ErrInvalidParams      = errors.New("ERR_INVALID_PARAMS")
	ErrUnknownToken       = errors.New("ERR_UNKNOWN_TOKEN")

	// ErrCurveMismatch means a curve settled a trade for a different amount
	// than its own reserves priced.
	ErrCurveMismatch = errors.New("ERR_CURVE_MISMATCH")

	ErrInsufficientLiquidity = pricing.ErrInsufficientLiquidity
	ErrArithmetic            = pricing.ErrArithmetic
)

// SettlementError reports which operation failed.
type SettlementError struct {
	Op  string
	Err error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

func transferFailed(step string, err error) error {
	return fmt.Errorf("%s: %w: %w", step, ErrTransferFailed, err)
}
