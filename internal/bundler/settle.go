// internal/bundler/settle.go
package bundler

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/events"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
	"github.com/rovshanmuradov/curve-bundler/internal/pricing"
	"github.com/rovshanmuradov/curve-bundler/internal/protocol"
	"go.uber.org/zap"
)

// The functions in this file run inside ledger.Atomic or ledger.Simulate
// and must not take the ledger lock.

func (b *Bundler) createAndBuy(p CreateAndBuyParams) (*CreateResult, *events.CurveCreatedEvent, *events.TradeEvent, error) {
	if b.factory == nil {
		return nil, nil, nil, ErrNotInitialized
	}
	if isZero(p.AmountIn) {
		return nil, nil, nil, ErrZeroAmount
	}
	if p.Name == "" || p.Symbol == "" {
		return nil, nil, nil, fmt.Errorf("%w: token name and symbol are required", ErrInvalidParams)
	}

	deployFee := b.factory.DeployFee()
	fees, err := sum(orZero(p.Fee), deployFee)
	if err != nil {
		return nil, nil, nil, err
	}
	required, err := sum(p.AmountIn, fees)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := b.receive(p.Caller, p.Value, required); err != nil {
		return nil, nil, nil, err
	}

	curve, err := b.factory.CreateCurve(p.Creator, p.Name, p.Symbol, p.TokenURI)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create curve: %w", err)
	}

	amountOut, err := b.buyLeg(curve, p.AmountIn, p.Creator)
	if err != nil {
		return nil, nil, nil, err
	}

	// deploy fee and buy fee go to the vault as one deposit
	if err := b.vault.Deposit(b.addr, fees); err != nil {
		return nil, nil, nil, transferFailed("route fees", err)
	}
	if err := b.refund(p.Caller, p.Value, required); err != nil {
		return nil, nil, nil, err
	}

	vNative, vToken := curve.VirtualReserves()
	now := b.now()

	res := &CreateResult{
		Curve:         curve.Address(),
		Token:         curve.Token(),
		VirtualNative: vNative,
		VirtualToken:  vToken,
		AmountOut:     amountOut,
	}
	created := &events.CurveCreatedEvent{
		BaseEvent: events.BaseEvent{EventType: events.CurveCreated, EventTime: now},
		Curve:     res.Curve,
		Token:     res.Token,
		Creator:   p.Creator,
		Name:      p.Name,
		Symbol:    p.Symbol,
		TokenURI:  p.TokenURI,
		DeployFee: deployFee,
	}
	trade := &events.TradeEvent{
		BaseEvent:      events.BaseEvent{EventType: events.TradeBuy, EventTime: now},
		ID:             uuid.New().String(),
		Curve:          res.Curve,
		Token:          res.Token,
		Caller:         p.Caller,
		Recipient:      p.Creator,
		AmountIn:       p.AmountIn.Clone(),
		AmountOutGross: amountOut.Clone(),
		AmountOut:      amountOut.Clone(),
		Fee:            orZero(p.Fee).Clone(),
		VirtualNative:  vNative.Clone(),
		VirtualToken:   vToken.Clone(),
	}

	return res, created, trade, nil
}

func (b *Bundler) buy(p BuyParams) (*events.TradeEvent, error) {
	if b.factory == nil {
		return nil, ErrNotInitialized
	}
	now := b.now()
	if now.After(p.Deadline) {
		return nil, fmt.Errorf("%w: deadline %s", ErrExpired, p.Deadline.UTC().Format(time.RFC3339))
	}
	if isZero(p.AmountIn) {
		return nil, ErrZeroAmount
	}

	curve, err := b.resolve(p.Token)
	if err != nil {
		return nil, err
	}

	fee := orZero(p.Fee)
	required, err := sum(p.AmountIn, fee)
	if err != nil {
		return nil, err
	}
	if err := b.receive(p.Caller, p.Value, required); err != nil {
		return nil, err
	}

	amountOut, err := b.buyLeg(curve, p.AmountIn, p.Recipient)
	if err != nil {
		return nil, err
	}

	if err := b.vault.Deposit(b.addr, fee); err != nil {
		return nil, transferFailed("route fee", err)
	}
	if err := b.refund(p.Caller, p.Value, required); err != nil {
		return nil, err
	}

	vNative, vToken := curve.VirtualReserves()
	return &events.TradeEvent{
		BaseEvent:      events.BaseEvent{EventType: events.TradeBuy, EventTime: now},
		ID:             uuid.New().String(),
		Curve:          curve.Address(),
		Token:          p.Token,
		Caller:         p.Caller,
		Recipient:      p.Recipient,
		AmountIn:       p.AmountIn.Clone(),
		AmountOutGross: amountOut.Clone(),
		AmountOut:      amountOut,
		Fee:            fee.Clone(),
		VirtualNative:  vNative,
		VirtualToken:   vToken,
	}, nil
}

func (b *Bundler) sell(p SellParams) (*events.TradeEvent, error) {
	if b.factory == nil {
		return nil, ErrNotInitialized
	}
	now := b.now()
	if now.After(p.Deadline) {
		return nil, fmt.Errorf("%w: deadline %s", ErrExpired, p.Deadline.UTC().Format(time.RFC3339))
	}
	if isZero(p.AmountIn) {
		return nil, ErrZeroAmount
	}

	curve, err := b.resolve(p.Token)
	if err != nil {
		return nil, err
	}

	// sell needs no native input, attached value is returned in full
	zero := new(uint256.Int)
	if err := b.receive(p.Caller, p.Value, zero); err != nil {
		return nil, err
	}

	vNative, vToken := curve.VirtualReserves()
	k := curve.K()
	feeNum, feeDen := curve.FeeConfig()

	st := b.ledger.State()
	if err := st.TransferTokenFrom(p.Token, b.addr, p.Caller, curve.Address(), p.AmountIn); err != nil {
		return nil, transferFailed("pull tokens", err)
	}

	gross, err := pricing.GetAmountOut(p.AmountIn, k, vToken, vNative)
	if err != nil {
		return nil, err
	}
	fee, err := pricing.FeeOn(gross, feeNum, feeDen)
	if err != nil {
		return nil, err
	}
	net := new(uint256.Int).Sub(gross, fee)

	settled, err := curve.ApplySell(p.AmountIn, b.addr)
	if err != nil {
		return nil, curveFailed("apply sell", err)
	}
	if !settled.Eq(gross) {
		return nil, fmt.Errorf("%w: curve paid %s, priced %s", ErrCurveMismatch, settled.Dec(), gross.Dec())
	}

	if err := st.Transfer(b.addr, p.Recipient, net); err != nil {
		return nil, transferFailed("pay proceeds", err)
	}
	if err := b.vault.Deposit(b.addr, fee); err != nil {
		return nil, transferFailed("route fee", err)
	}
	if err := b.refund(p.Caller, p.Value, zero); err != nil {
		return nil, err
	}

	b.logger.Debug("Sell priced",
		zap.String("gross", gross.Dec()),
		zap.String("fee", fee.Dec()),
		zap.String("fee_rate", feeNum.Dec()+"/"+feeDen.Dec()))

	postNative, postToken := curve.VirtualReserves()
	return &events.TradeEvent{
		BaseEvent:      events.BaseEvent{EventType: events.TradeSell, EventTime: now},
		ID:             uuid.New().String(),
		Curve:          curve.Address(),
		Token:          p.Token,
		Caller:         p.Caller,
		Recipient:      p.Recipient,
		AmountIn:       p.AmountIn.Clone(),
		AmountOutGross: gross,
		AmountOut:      net,
		Fee:            fee,
		VirtualNative:  postNative,
		VirtualToken:   postToken,
	}, nil
}

// buyLeg moves amountIn from the bundler account into the curve and has the
// curve deliver the tokens. k and reserves are read fresh on every call.
func (b *Bundler) buyLeg(curve Curve, amountIn *uint256.Int, recipient ledger.Address) (*uint256.Int, error) {
	vNative, vToken := curve.VirtualReserves()
	amountOut, err := pricing.GetAmountOut(amountIn, curve.K(), vNative, vToken)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("Buy priced",
		zap.String("amount_in", amountIn.Dec()),
		zap.String("amount_out", amountOut.Dec()),
		zap.String("virtual_native", vNative.Dec()),
		zap.String("virtual_token", vToken.Dec()))

	if err := b.ledger.State().Transfer(b.addr, curve.Address(), amountIn); err != nil {
		return nil, transferFailed("fund curve", err)
	}

	settled, err := curve.ApplyBuy(amountIn, recipient)
	if err != nil {
		return nil, curveFailed("apply buy", err)
	}
	if !settled.Eq(amountOut) {
		return nil, fmt.Errorf("%w: curve delivered %s, priced %s", ErrCurveMismatch, settled.Dec(), amountOut.Dec())
	}
	return amountOut, nil
}

func (b *Bundler) resolve(token ledger.Address) (Curve, error) {
	curve, err := b.factory.CurveOf(token)
	if err != nil {
		if errors.Is(err, protocol.ErrCurveNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
		}
		return nil, fmt.Errorf("resolve curve: %w", err)
	}
	return curve, nil
}

// receive checks the attached value against required and moves it from the
// caller into the bundler account.
func (b *Bundler) receive(caller ledger.Address, value, required *uint256.Int) error {
	value = orZero(value)
	if value.Lt(required) {
		return fmt.Errorf("%w: attached %s, required %s", ErrInsufficientValue, value.Dec(), required.Dec())
	}
	if err := b.ledger.State().Transfer(caller, b.addr, value); err != nil {
		return transferFailed("receive value", err)
	}
	return nil
}

// refund returns whatever part of the attached value was not spent.
func (b *Bundler) refund(caller ledger.Address, value, spent *uint256.Int) error {
	excess := new(uint256.Int).Sub(orZero(value), spent)
	if excess.IsZero() {
		return nil
	}
	if err := b.ledger.State().Transfer(b.addr, caller, excess); err != nil {
		return transferFailed("refund value", err)
	}
	return nil
}

// curveFailed keeps pricing errors as they are and marks ledger failures
// inside the curve as failed transfers.
func curveFailed(step string, err error) error {
	if errors.Is(err, ledger.ErrInsufficientBalance) || errors.Is(err, ledger.ErrInsufficientAllowance) ||
		errors.Is(err, ledger.ErrUnknownToken) {
		return transferFailed(step, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}

func sum(a, b *uint256.Int) (*uint256.Int, error) {
	s, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s overflows", ErrArithmetic, a.Dec(), b.Dec())
	}
	return s, nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}
