// internal/curve/factory.go
package curve

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
	"github.com/rovshanmuradov/curve-bundler/internal/pricing"
	"github.com/rovshanmuradov/curve-bundler/internal/protocol"
	"go.uber.org/zap"
)

// Factory deploys bonding curves and their tokens into a ledger state.
// Curve and mint addresses are program-derived from the factory address.
type Factory struct {
	addr   ledger.Address
	state  *ledger.State
	params Params
	logger *zap.Logger
}

var _ protocol.Factory = (*Factory)(nil)

// NewFactory creates a factory living at addr.
func NewFactory(state *ledger.State, addr ledger.Address, params Params, logger *zap.Logger) (*Factory, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Factory{
		addr:   addr,
		state:  state,
		params: params,
		logger: logger.Named("curve_factory"),
	}, nil
}

// Address returns the factory account.
func (f *Factory) Address() ledger.Address {
	return f.addr
}

// DeployFee returns the fixed charge for creating a curve. The factory only
// quotes it; the caller routes it to the fee vault.
func (f *Factory) DeployFee() *uint256.Int {
	return f.params.DeployFee.Clone()
}

// Params returns a copy of the launch parameters.
func (f *Factory) Params() Params {
	return Params{
		DeployFee:      f.params.DeployFee.Clone(),
		VirtualNative:  f.params.VirtualNative.Clone(),
		VirtualToken:   f.params.VirtualToken.Clone(),
		FeeNumerator:   f.params.FeeNumerator.Clone(),
		FeeDenominator: f.params.FeeDenominator.Clone(),
	}
}

// CreateCurve deploys a new token and the curve trading it. The full virtual
// token reserve is minted to the curve.
func (f *Factory) CreateCurve(creator ledger.Address, name, symbol, tokenURI string) (protocol.Curve, error) {
	if name == "" || symbol == "" {
		return nil, errors.New("create curve: token name and symbol are required")
	}

	nonce := f.state.Load(f.addr, keyCurveCount)
	mint, curveAddr, err := f.deriveAddresses(creator, nonce.Uint64())
	if err != nil {
		return nil, fmt.Errorf("create curve: %w", err)
	}

	k, err := pricing.Invariant(f.params.VirtualNative, f.params.VirtualToken)
	if err != nil {
		return nil, fmt.Errorf("create curve: %w", err)
	}

	if err := f.state.CreateToken(ledger.TokenInfo{
		Mint:     mint,
		Name:     name,
		Symbol:   symbol,
		URI:      tokenURI,
		Decimals: Decimals,
	}); err != nil {
		return nil, fmt.Errorf("create curve: %w", err)
	}

	f.state.Store(curveAddr, keyVirtualNative, f.params.VirtualNative)
	f.state.Store(curveAddr, keyVirtualToken, f.params.VirtualToken)
	f.state.Store(curveAddr, keyK, k)
	f.state.Store(curveAddr, keyFeeNumerator, f.params.FeeNumerator)
	f.state.Store(curveAddr, keyFeeDenominator, f.params.FeeDenominator)
	f.state.Store(curveAddr, keyRealNative, uint256.NewInt(0))
	f.state.StoreAddress(curveAddr, keyToken, mint)
	f.state.StoreAddress(curveAddr, keyCreator, creator)

	if err := f.state.MintToken(mint, curveAddr, f.params.VirtualToken); err != nil {
		return nil, fmt.Errorf("create curve: %w", err)
	}

	f.state.StoreAddress(f.addr, keyCurvePrefix+mint.String(), curveAddr)
	f.state.Store(f.addr, keyCurveCount, nonce.AddUint64(nonce, 1))

	f.logger.Info("Curve created",
		zap.String("curve", curveAddr.String()),
		zap.String("token", mint.String()),
		zap.String("creator", creator.String()),
		zap.String("symbol", symbol))

	return Attach(f.state, curveAddr, f.logger), nil
}

// CurveOf returns the curve trading token.
func (f *Factory) CurveOf(token ledger.Address) (protocol.Curve, error) {
	addr, ok := f.state.LoadAddress(f.addr, keyCurvePrefix+token.String())
	if !ok {
		return nil, fmt.Errorf("token %s: %w", token, protocol.ErrCurveNotFound)
	}
	return Attach(f.state, addr, f.logger), nil
}

// CurveCount returns how many curves the factory has deployed.
func (f *Factory) CurveCount() uint64 {
	return f.state.Load(f.addr, keyCurveCount).Uint64()
}

func (f *Factory) deriveAddresses(creator ledger.Address, nonce uint64) (mint, curve ledger.Address, err error) {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], nonce)

	mint, _, err = solana.FindProgramAddress([][]byte{seedMint, creator.Bytes(), seq[:]}, f.addr)
	if err != nil {
		return ledger.Address{}, ledger.Address{}, fmt.Errorf("derive mint address: %w", err)
	}
	curve, _, err = solana.FindProgramAddress([][]byte{seedBondingCurve, mint.Bytes()}, f.addr)
	if err != nil {
		return ledger.Address{}, ledger.Address{}, fmt.Errorf("derive curve address: %w", err)
	}
	return mint, curve, nil
}
