// ==============================================
// File: internal/curve/bonding_curve.go
// ==============================================
package curve

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
	"github.com/rovshanmuradov/curve-bundler/internal/pricing"
	"github.com/rovshanmuradov/curve-bundler/internal/protocol"
	"go.uber.org/zap"
)

// ErrInputNotReceived is returned when a trade is applied before its input
// has been transferred to the curve.
var ErrInputNotReceived = errors.New("curve: trade input not received")

// BondingCurve is a constant-product curve whose state lives in the storage
// of its ledger account.
type BondingCurve struct {
	addr   ledger.Address
	state  *ledger.State
	logger *zap.Logger
}

var _ protocol.Curve = (*BondingCurve)(nil)

// Attach binds a BondingCurve to an existing curve account.
func Attach(state *ledger.State, addr ledger.Address, logger *zap.Logger) *BondingCurve {
	return &BondingCurve{
		addr:   addr,
		state:  state,
		logger: logger.Named("bonding_curve").With(zap.String("curve", addr.String())),
	}
}

// Address returns the curve account.
func (c *BondingCurve) Address() ledger.Address {
	return c.addr
}

// Token returns the mint traded on this curve.
func (c *BondingCurve) Token() ledger.Address {
	mint, _ := c.state.LoadAddress(c.addr, keyToken)
	return mint
}

// Creator returns the account the curve was created for.
func (c *BondingCurve) Creator() ledger.Address {
	creator, _ := c.state.LoadAddress(c.addr, keyCreator)
	return creator
}

// VirtualReserves returns the current virtual (native, token) reserves.
func (c *BondingCurve) VirtualReserves() (native, token *uint256.Int) {
	return c.state.Load(c.addr, keyVirtualNative), c.state.Load(c.addr, keyVirtualToken)
}

// K returns the pricing invariant fixed at creation.
func (c *BondingCurve) K() *uint256.Int {
	return c.state.Load(c.addr, keyK)
}

// FeeConfig returns the sell fee rate.
func (c *BondingCurve) FeeConfig() (numerator, denominator *uint256.Int) {
	return c.state.Load(c.addr, keyFeeNumerator), c.state.Load(c.addr, keyFeeDenominator)
}

// RealNative returns the native amount deposited by buyers and not yet
// paid out to sellers.
func (c *BondingCurve) RealNative() *uint256.Int {
	return c.state.Load(c.addr, keyRealNative)
}

// ApplyBuy books amountIn of native and sends the purchased tokens to recipient.
// The native input must already sit in the curve account.
func (c *BondingCurve) ApplyBuy(amountIn *uint256.Int, recipient ledger.Address) (*uint256.Int, error) {
	vNative, vToken := c.VirtualReserves()

	amountOut, err := pricing.GetAmountOut(amountIn, c.K(), vNative, vToken)
	if err != nil {
		return nil, fmt.Errorf("price buy: %w", err)
	}

	realNative := c.RealNative()
	realNative.Add(realNative, amountIn)
	if c.state.NativeBalance(c.addr).Lt(realNative) {
		return nil, fmt.Errorf("%w: expected %s native on curve", ErrInputNotReceived, realNative.Dec())
	}

	vNative.Add(vNative, amountIn)
	vToken.Sub(vToken, amountOut)

	c.state.Store(c.addr, keyVirtualNative, vNative)
	c.state.Store(c.addr, keyVirtualToken, vToken)
	c.state.Store(c.addr, keyRealNative, realNative)

	if err := c.state.TransferToken(c.Token(), c.addr, recipient, amountOut); err != nil {
		return nil, fmt.Errorf("deliver tokens: %w", err)
	}

	c.logger.Debug("Buy applied",
		zap.String("amount_in", amountIn.Dec()),
		zap.String("amount_out", amountOut.Dec()),
		zap.String("virtual_native", vNative.Dec()),
		zap.String("virtual_token", vToken.Dec()))

	return amountOut, nil
}

// ApplySell books amountIn of tokens and sends the gross native proceeds to
// recipient. The tokens must already sit in the curve account.
func (c *BondingCurve) ApplySell(amountIn *uint256.Int, recipient ledger.Address) (*uint256.Int, error) {
	vNative, vToken := c.VirtualReserves()

	amountOut, err := pricing.GetAmountOut(amountIn, c.K(), vToken, vNative)
	if err != nil {
		return nil, fmt.Errorf("price sell: %w", err)
	}

	// the curve's token balance tracks its virtual token reserve
	expected := new(uint256.Int).Add(vToken, amountIn)
	if c.state.TokenBalance(c.Token(), c.addr).Lt(expected) {
		return nil, fmt.Errorf("%w: expected %s tokens on curve", ErrInputNotReceived, expected.Dec())
	}

	realNative := c.RealNative()
	if realNative.Lt(amountOut) {
		return nil, fmt.Errorf("%w: curve holds %s real native, sell needs %s",
			pricing.ErrInsufficientLiquidity, realNative.Dec(), amountOut.Dec())
	}
	realNative.Sub(realNative, amountOut)

	vToken.Set(expected)
	vNative.Sub(vNative, amountOut)

	c.state.Store(c.addr, keyVirtualNative, vNative)
	c.state.Store(c.addr, keyVirtualToken, vToken)
	c.state.Store(c.addr, keyRealNative, realNative)

	if err := c.state.Transfer(c.addr, recipient, amountOut); err != nil {
		return nil, fmt.Errorf("pay proceeds: %w", err)
	}

	c.logger.Debug("Sell applied",
		zap.String("amount_in", amountIn.Dec()),
		zap.String("amount_out", amountOut.Dec()),
		zap.String("virtual_native", vNative.Dec()),
		zap.String("virtual_token", vToken.Dec()))

	return amountOut, nil
}
