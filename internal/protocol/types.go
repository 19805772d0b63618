// internal/protocol/types.go
package protocol

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
)

var (
	// ErrCurveNotFound is returned when no curve is registered for a token.
	ErrCurveNotFound = errors.New("curve not found")

	// ErrFactoryNotFound is returned by Registry.Get for unknown addresses.
	ErrFactoryNotFound = errors.New("factory not found")
)

// Curve is a constant-product curve instance the bundler trades against.
type Curve interface {
	// Address returns the curve account holding the native reserve.
	Address() ledger.Address

	// Token returns the mint of the token traded on this curve.
	Token() ledger.Address

	// VirtualReserves returns the current (native, token) virtual reserves.
	VirtualReserves() (native, token *uint256.Int)

	// K returns the pricing invariant.
	K() *uint256.Int

	// FeeConfig returns the sell-side fee rate as numerator/denominator.
	FeeConfig() (numerator, denominator *uint256.Int)

	// ApplyBuy books amountIn of native (already transferred to the curve)
	// and sends the purchased tokens to recipient.
	ApplyBuy(amountIn *uint256.Int, recipient ledger.Address) (*uint256.Int, error)

	// ApplySell books amountIn of tokens (already transferred to the curve)
	// and sends the gross native proceeds to recipient.
	ApplySell(amountIn *uint256.Int, recipient ledger.Address) (*uint256.Int, error)
}

// Factory deploys curves and resolves existing ones.
type Factory interface {
	Address() ledger.Address

	// DeployFee returns the fixed charge for creating a curve.
	DeployFee() *uint256.Int

	// CreateCurve deploys a new curve and token pair.
	CreateCurve(creator ledger.Address, name, symbol, tokenURI string) (Curve, error)

	// CurveOf returns the curve trading token, or ErrCurveNotFound.
	CurveOf(token ledger.Address) (Curve, error)
}

// Vault collects protocol fees.
type Vault interface {
	Address() ledger.Address

	// Deposit moves amount of native from the payer into the vault.
	Deposit(from ledger.Address, amount *uint256.Int) error
}
