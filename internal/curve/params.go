// =============================
// File: internal/curve/params.go
// =============================
package curve

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/pricing"
)

// Decimals of both the native asset and curve tokens.
const Decimals = 18

// Storage keys of a curve account.
const (
	keyVirtualNative  = "virtual_native"
	keyVirtualToken   = "virtual_token"
	keyK              = "k"
	keyFeeNumerator   = "fee_numerator"
	keyFeeDenominator = "fee_denominator"
	keyRealNative     = "real_native"
	keyToken          = "token"
	keyCreator        = "creator"
)

// Storage keys of the factory account.
const (
	keyCurveCount  = "curve_count"
	keyCurvePrefix = "curve:"
)

// PDA seeds.
var (
	seedMint         = []byte("mint")
	seedBondingCurve = []byte("bonding-curve")
)

// Params configures every curve deployed by a Factory.
type Params struct {
	DeployFee      *uint256.Int
	VirtualNative  *uint256.Int
	VirtualToken   *uint256.Int
	FeeNumerator   *uint256.Int
	FeeDenominator *uint256.Int
}

// DefaultParams returns pump.fun-like launch parameters: 30 native units of
// virtual liquidity against 1.073B virtual tokens and a 1% sell fee.
func DefaultParams() Params {
	unit := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals))
	return Params{
		DeployFee:      new(uint256.Int).Div(unit, uint256.NewInt(50)), // 0.02
		VirtualNative:  new(uint256.Int).Mul(uint256.NewInt(30), unit),
		VirtualToken:   new(uint256.Int).Mul(uint256.NewInt(1_073_000_000), unit),
		FeeNumerator:   uint256.NewInt(1),
		FeeDenominator: uint256.NewInt(100),
	}
}

// Validate checks that curves created with p can be priced.
func (p Params) Validate() error {
	if p.DeployFee == nil || p.VirtualNative == nil || p.VirtualToken == nil ||
		p.FeeNumerator == nil || p.FeeDenominator == nil {
		return errors.New("curve params: all fields are required")
	}
	if p.VirtualNative.IsZero() || p.VirtualToken.IsZero() {
		return errors.New("curve params: virtual reserves must be positive")
	}
	if p.FeeDenominator.IsZero() {
		return errors.New("curve params: fee denominator must be positive")
	}
	if !p.FeeNumerator.Lt(p.FeeDenominator) {
		return fmt.Errorf("curve params: fee %s/%s must be below 100%%",
			p.FeeNumerator.Dec(), p.FeeDenominator.Dec())
	}
	if _, err := pricing.Invariant(p.VirtualNative, p.VirtualToken); err != nil {
		return fmt.Errorf("curve params: %w", err)
	}
	return nil
}
