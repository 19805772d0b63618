package bundler

import (
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/curve"
	"github.com/rovshanmuradov/curve-bundler/internal/events"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
	"github.com/rovshanmuradov/curve-bundler/internal/pricing"
	"github.com/rovshanmuradov/curve-bundler/internal/protocol"
	"github.com/rovshanmuradov/curve-bundler/internal/units"
	"github.com/rovshanmuradov/curve-bundler/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	tokenName   = "Xbuilders7 Token"
	tokenSymbol = "XBD7"
	tokenURI    = "ipfs://bafkreif2wh4t4ijxnt3dkx3w7j5n2b3evg6ksd4vth5py6ef4ohr7hgl3i"
)

func newAddress() ledger.Address {
	return solana.NewWallet().PublicKey()
}

func add(vs ...*uint256.Int) *uint256.Int {
	total := new(uint256.Int)
	for _, v := range vs {
		total.Add(total, v)
	}
	return total
}

type fixture struct {
	ledger  *ledger.Ledger
	bundler *Bundler
	factory *curve.Factory
	vault   *vault.Vault
	pub     *capturePublisher
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	l := ledger.New(logger)

	f, err := curve.NewFactory(l.State(), newAddress(), curve.DefaultParams(), logger)
	require.NoError(t, err)
	registry := protocol.NewRegistry(logger)
	require.NoError(t, registry.Register(f))

	fx := &fixture{
		ledger:  l,
		factory: f,
		vault:   vault.New(l.State(), newAddress(), newAddress(), logger),
		pub:     &capturePublisher{},
		now:     time.Unix(1_700_000_000, 0),
	}
	fx.bundler, err = New(&Config{
		Ledger:    l,
		Address:   newAddress(),
		Factories: registry,
		Vault:     fx.vault,
		Publisher: fx.pub,
		Clock:     func() time.Time { return fx.now },
		Logger:    logger,
	})
	require.NoError(t, err)
	require.NoError(t, fx.bundler.Initialize(f.Address()))
	return fx
}

func (fx *fixture) funded(t *testing.T, amount string) ledger.Address {
	t.Helper()
	addr := newAddress()
	require.NoError(t, fx.ledger.Fund(addr, units.Ether(amount)))
	return addr
}

func (fx *fixture) deadline() time.Time {
	return fx.now.Add(time.Hour)
}

func (fx *fixture) vaultBalance() *uint256.Int {
	return fx.ledger.NativeBalance(fx.vault.Address())
}

// createCurve previews and then executes CreateAndBuy with the exact value.
func (fx *fixture) createCurve(t *testing.T, creator ledger.Address, amountIn, fee *uint256.Int) (*CreateResult, *uint256.Int) {
	t.Helper()
	deployFee := fx.factory.DeployFee()
	params := CreateAndBuyParams{
		Caller:   creator,
		Value:    add(amountIn, fee, deployFee),
		Creator:  creator,
		Name:     tokenName,
		Symbol:   tokenSymbol,
		TokenURI: tokenURI,
		AmountIn: amountIn,
		Fee:      fee,
	}

	preview, err := fx.bundler.PreviewCreateAndBuy(params)
	require.NoError(t, err)

	res, err := fx.bundler.CreateAndBuy(params)
	require.NoError(t, err)
	assert.Equal(t, preview, res)

	return res, deployFee
}

type curveState struct {
	vNative, vToken, k, feeNum, feeDen *uint256.Int
	address                            ledger.Address
}

func (fx *fixture) curveState(t *testing.T, token ledger.Address) curveState {
	t.Helper()
	var cs curveState
	fx.ledger.View(func(*ledger.State) {
		c, err := fx.factory.CurveOf(token)
		require.NoError(t, err)
		cs.vNative, cs.vToken = c.VirtualReserves()
		cs.k = c.K()
		cs.feeNum, cs.feeDen = c.FeeConfig()
		cs.address = c.Address()
	})
	return cs
}

func TestInitialize_OnlyOnce(t *testing.T) {
	fx := newFixture(t)

	err := fx.bundler.Initialize(fx.factory.Address())
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Contains(t, err.Error(), "ERR_CORE_ALREADY_INITIALIZED")

	f, err := fx.bundler.Factory()
	require.NoError(t, err)
	assert.True(t, f.Address().Equals(fx.factory.Address()))
}

func TestUninitialized_RejectsTrades(t *testing.T) {
	logger := zaptest.NewLogger(t)
	l := ledger.New(logger)
	b, err := New(&Config{
		Ledger:    l,
		Address:   newAddress(),
		Factories: protocol.NewRegistry(logger),
		Vault:     vault.New(l.State(), newAddress(), newAddress(), logger),
		Logger:    logger,
	})
	require.NoError(t, err)

	_, err = b.Factory()
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = b.Buy(BuyParams{AmountIn: uint256.NewInt(1), Deadline: time.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = b.Sell(SellParams{AmountIn: uint256.NewInt(1), Deadline: time.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = b.CreateAndBuy(CreateAndBuyParams{AmountIn: uint256.NewInt(1), Name: "a", Symbol: "b"})
	assert.ErrorIs(t, err, ErrNotInitialized)

	// an unknown factory leaves the bundler uninitialized
	err = b.Initialize(newAddress())
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = b.Factory()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
}

func TestCreateAndBuy_RoutesFunds(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "10")
	amountIn, fee := units.Ether("1"), units.Ether("0.05")

	res, deployFee := fx.createCurve(t, creator, amountIn, fee)

	assert.True(t, fx.ledger.TokenBalance(res.Token, creator).Eq(res.AmountOut))
	assert.True(t, fx.ledger.NativeBalance(res.Curve).Eq(amountIn))
	assert.True(t, fx.vaultBalance().Eq(add(fee, deployFee)))
	assert.True(t, fx.ledger.NativeBalance(fx.bundler.Address()).IsZero())

	spent := new(uint256.Int).Sub(units.Ether("10"), fx.ledger.NativeBalance(creator))
	assert.True(t, spent.Eq(add(amountIn, fee, deployFee)))

	params := curve.DefaultParams()
	assert.True(t, res.VirtualNative.Eq(add(params.VirtualNative, amountIn)))
	assert.True(t, res.VirtualToken.Eq(new(uint256.Int).Sub(params.VirtualToken, res.AmountOut)))

	require.Len(t, fx.pub.ofType(events.CurveCreated), 1)
	trades := fx.pub.ofType(events.TradeBuy)
	require.Len(t, trades, 1)
	trade := trades[0].(*events.TradeEvent)
	assert.True(t, trade.Recipient.Equals(creator))
	assert.True(t, trade.Fee.Eq(fee))
}

func TestCreateAndBuy_RefundsExcessValue(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "10")
	deployFee := fx.factory.DeployFee()

	_, err := fx.bundler.CreateAndBuy(CreateAndBuyParams{
		Caller:   creator,
		Value:    units.Ether("5"),
		Creator:  creator,
		Name:     tokenName,
		Symbol:   tokenSymbol,
		AmountIn: units.Ether("1"),
		Fee:      units.Ether("0.05"),
	})
	require.NoError(t, err)

	spent := new(uint256.Int).Sub(units.Ether("10"), fx.ledger.NativeBalance(creator))
	assert.True(t, spent.Eq(add(units.Ether("1.05"), deployFee)))
	assert.True(t, fx.ledger.NativeBalance(fx.bundler.Address()).IsZero())
}

func TestCreateAndBuy_InsufficientValueIsAtomic(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "10")
	deployFee := fx.factory.DeployFee()
	required := add(units.Ether("1.05"), deployFee)

	_, err := fx.bundler.CreateAndBuy(CreateAndBuyParams{
		Caller:   creator,
		Value:    new(uint256.Int).Sub(required, uint256.NewInt(1)),
		Creator:  creator,
		Name:     tokenName,
		Symbol:   tokenSymbol,
		AmountIn: units.Ether("1"),
		Fee:      units.Ether("0.05"),
	})
	require.ErrorIs(t, err, ErrInsufficientValue)

	var se *SettlementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, OpCreateAndBuy, se.Op)

	assert.True(t, fx.ledger.NativeBalance(creator).Eq(units.Ether("10")))
	assert.True(t, fx.vaultBalance().IsZero())
	fx.ledger.View(func(*ledger.State) {
		assert.Zero(t, fx.factory.CurveCount())
	})
	require.Len(t, fx.pub.ofType(events.SettlementRejected), 1)
	assert.Empty(t, fx.pub.ofType(events.CurveCreated))
}

func TestCreateAndBuy_CallerWithoutFunds(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "0.5")

	_, err := fx.bundler.CreateAndBuy(CreateAndBuyParams{
		Caller:   creator,
		Value:    units.Ether("2"),
		Creator:  creator,
		Name:     tokenName,
		Symbol:   tokenSymbol,
		AmountIn: units.Ether("1"),
	})
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestCreateAndBuy_Validation(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "10")

	tests := []struct {
		name    string
		params  CreateAndBuyParams
		wantErr error
	}{
		{
			name:    "zero amount",
			params:  CreateAndBuyParams{Name: tokenName, Symbol: tokenSymbol, AmountIn: uint256.NewInt(0)},
			wantErr: ErrZeroAmount,
		},
		{
			name:    "missing amount",
			params:  CreateAndBuyParams{Name: tokenName, Symbol: tokenSymbol},
			wantErr: ErrZeroAmount,
		},
		{
			name:    "missing symbol",
			params:  CreateAndBuyParams{Name: tokenName, AmountIn: units.Ether("1")},
			wantErr: ErrInvalidParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.params.Caller, tt.params.Creator = creator, creator
			tt.params.Value = units.Ether("5")

			_, err := fx.bundler.CreateAndBuy(tt.params)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, fx.ledger.NativeBalance(creator).Eq(units.Ether("10")))
		})
	}
}

func TestCreateAndBuy_VaultFailureRevertsCreation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	l := ledger.New(logger)
	f, err := curve.NewFactory(l.State(), newAddress(), curve.DefaultParams(), logger)
	require.NoError(t, err)

	mv := new(MockVault)
	mv.On("Deposit", mock.Anything, mock.Anything).Return(errors.New("vault paused"))

	b, err := New(&Config{Ledger: l, Address: newAddress(), Factories: staticResolver{factory: f}, Vault: mv, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, b.Initialize(f.Address()))

	creator := newAddress()
	require.NoError(t, l.Fund(creator, units.Ether("10")))

	_, err = b.CreateAndBuy(CreateAndBuyParams{
		Caller:   creator,
		Value:    units.Ether("1.07"),
		Creator:  creator,
		Name:     tokenName,
		Symbol:   tokenSymbol,
		AmountIn: units.Ether("1"),
		Fee:      units.Ether("0.05"),
	})
	require.ErrorIs(t, err, ErrTransferFailed)

	// the single deposit carried buy fee and deploy fee together
	mv.AssertCalled(t, "Deposit", b.Address(), units.Ether("0.07"))

	assert.True(t, l.NativeBalance(creator).Eq(units.Ether("10")))
	assert.True(t, l.NativeBalance(b.Address()).IsZero())
	l.View(func(*ledger.State) {
		assert.Zero(t, f.CurveCount())
	})
}

// haltingFactory deploys real curves whose buy side fails after settling.
type haltingFactory struct {
	*curve.Factory
	curves []ledger.Address
	tokens []ledger.Address
}

func (f *haltingFactory) CreateCurve(creator ledger.Address, name, symbol, tokenURI string) (protocol.Curve, error) {
	c, err := f.Factory.CreateCurve(creator, name, symbol, tokenURI)
	if err != nil {
		return nil, err
	}
	f.curves = append(f.curves, c.Address())
	f.tokens = append(f.tokens, c.Token())
	return haltingCurve{Curve: c}, nil
}

type haltingCurve struct {
	protocol.Curve
}

func (c haltingCurve) ApplyBuy(amountIn *uint256.Int, recipient ledger.Address) (*uint256.Int, error) {
	if _, err := c.Curve.ApplyBuy(amountIn, recipient); err != nil {
		return nil, err
	}
	return nil, errors.New("curve halted")
}

func TestCreateAndBuy_BuyLegFailureRevertsCreation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	l := ledger.New(logger)
	f, err := curve.NewFactory(l.State(), newAddress(), curve.DefaultParams(), logger)
	require.NoError(t, err)
	hf := &haltingFactory{Factory: f}

	v := vault.New(l.State(), newAddress(), newAddress(), logger)
	pub := &capturePublisher{}
	b, err := New(&Config{
		Ledger:    l,
		Address:   newAddress(),
		Factories: staticResolver{factory: hf},
		Vault:     v,
		Publisher: pub,
		Logger:    logger,
	})
	require.NoError(t, err)
	require.NoError(t, b.Initialize(f.Address()))

	creator := newAddress()
	require.NoError(t, l.Fund(creator, units.Ether("10")))

	_, err = b.CreateAndBuy(CreateAndBuyParams{
		Caller:   creator,
		Value:    units.Ether("1.07"),
		Creator:  creator,
		Name:     tokenName,
		Symbol:   tokenSymbol,
		AmountIn: units.Ether("1"),
		Fee:      units.Ether("0.05"),
	})
	require.ErrorContains(t, err, "curve halted")
	require.Len(t, hf.tokens, 1)
	curveAddr, token := hf.curves[0], hf.tokens[0]
	require.False(t, token.IsZero())

	assert.True(t, l.NativeBalance(creator).Eq(units.Ether("10")))
	assert.True(t, l.NativeBalance(b.Address()).IsZero())
	assert.True(t, l.NativeBalance(curveAddr).IsZero())
	assert.True(t, l.NativeBalance(v.Address()).IsZero())
	assert.Empty(t, pub.ofType(events.CurveCreated))
	l.View(func(*ledger.State) {
		assert.Zero(t, f.CurveCount())
		_, err := f.CurveOf(token)
		assert.ErrorIs(t, err, protocol.ErrCurveNotFound)
	})
	assert.True(t, l.TokenBalance(token, creator).IsZero())
	assert.True(t, l.TokenBalance(token, curveAddr).IsZero())
}

func TestBuy_ForwardsFeeToVault(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "10")
	buyer := fx.funded(t, "10")
	creationFee := units.Ether("0.05")

	created, deployFee := fx.createCurve(t, creator, units.Ether("1"), creationFee)

	buyAmountIn, buyFee := units.Ether("0.5"), units.Ether("0.01")
	before := fx.curveState(t, created.Token)
	expectedOut, err := fx.bundler.GetAmountOut(buyAmountIn, before.k, before.vNative, before.vToken)
	require.NoError(t, err)

	prevVault := fx.vaultBalance()
	prevCurve := fx.ledger.NativeBalance(created.Curve)

	params := BuyParams{
		Caller:    buyer,
		Value:     add(buyAmountIn, buyFee),
		Token:     created.Token,
		AmountIn:  buyAmountIn,
		Fee:       buyFee,
		Recipient: buyer,
		Deadline:  fx.deadline(),
	}
	preview, err := fx.bundler.PreviewBuy(params)
	require.NoError(t, err)
	assert.True(t, preview.Eq(expectedOut))
	assert.True(t, fx.vaultBalance().Eq(prevVault), "preview must not change state")

	out, err := fx.bundler.Buy(params)
	require.NoError(t, err)
	assert.True(t, out.Eq(expectedOut))

	assert.True(t, fx.ledger.TokenBalance(created.Token, buyer).Eq(expectedOut))
	assert.True(t, fx.ledger.NativeBalance(created.Curve).Eq(add(prevCurve, buyAmountIn)))
	assert.True(t, fx.vaultBalance().Eq(add(prevVault, buyFee)))
	assert.True(t, fx.vaultBalance().Eq(add(creationFee, deployFee, buyFee)))

	trades := fx.pub.ofType(events.TradeBuy)
	require.Len(t, trades, 2)
	trade := trades[1].(*events.TradeEvent)
	assert.True(t, trade.Curve.Equals(created.Curve))
	assert.True(t, trade.AmountOut.Eq(expectedOut))
	assert.True(t, trade.Fee.Eq(buyFee))
	assert.NotEmpty(t, trade.ID)
}

func TestBuy_ZeroFeeIsAllowed(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "10")
	created, _ := fx.createCurve(t, creator, units.Ether("1"), units.Ether("0.05"))
	prevVault := fx.vaultBalance()

	out, err := fx.bundler.Buy(BuyParams{
		Caller:    creator,
		Value:     units.Ether("0.3"),
		Token:     created.Token,
		AmountIn:  units.Ether("0.3"),
		Recipient: creator,
		Deadline:  fx.deadline(),
	})
	require.NoError(t, err)
	assert.False(t, out.IsZero())
	assert.True(t, fx.vaultBalance().Eq(prevVault))
}

func TestBuy_Rejections(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "10")
	created, _ := fx.createCurve(t, creator, units.Ether("1"), units.Ether("0.05"))

	valid := func() BuyParams {
		return BuyParams{
			Caller:    creator,
			Value:     units.Ether("0.51"),
			Token:     created.Token,
			AmountIn:  units.Ether("0.5"),
			Fee:       units.Ether("0.01"),
			Recipient: creator,
			Deadline:  fx.deadline(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(p *BuyParams)
		wantErr error
	}{
		{"expired", func(p *BuyParams) { p.Deadline = fx.now.Add(-time.Second) }, ErrExpired},
		{"zero amount", func(p *BuyParams) { p.AmountIn = uint256.NewInt(0) }, ErrZeroAmount},
		{"unknown token", func(p *BuyParams) { p.Token = newAddress() }, ErrUnknownToken},
		{"value short by one unit", func(p *BuyParams) {
			p.Value = new(uint256.Int).Sub(units.Ether("0.51"), uint256.NewInt(1))
		}, ErrInsufficientValue},
		{"no value", func(p *BuyParams) { p.Value = nil }, ErrInsufficientValue},
		{"input overflow", func(p *BuyParams) {
			p.AmountIn = new(uint256.Int).SetAllOne()
			p.Value = new(uint256.Int).SetAllOne()
		}, ErrArithmetic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balance := fx.ledger.NativeBalance(creator)
			vaultBalance := fx.vaultBalance()

			p := valid()
			tt.mutate(&p)
			_, err := fx.bundler.Buy(p)
			assert.ErrorIs(t, err, tt.wantErr)

			assert.True(t, fx.ledger.NativeBalance(creator).Eq(balance))
			assert.True(t, fx.vaultBalance().Eq(vaultBalance))
		})
	}
}

func TestBuy_DeadlineIsInclusive(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "10")
	created, _ := fx.createCurve(t, creator, units.Ether("1"), units.Ether("0.05"))

	_, err := fx.bundler.Buy(BuyParams{
		Caller:    creator,
		Value:     units.Ether("0.1"),
		Token:     created.Token,
		AmountIn:  units.Ether("0.1"),
		Recipient: creator,
		Deadline:  fx.now,
	})
	assert.NoError(t, err)
}

func TestSell_TransfersNetProceedsAfterFees(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "10")
	buyer := fx.funded(t, "10")
	creationFee := units.Ether("0.1")

	created, deployFee := fx.createCurve(t, creator, units.Ether("2"), creationFee)

	buyFee := units.Ether("0.01")
	_, err := fx.bundler.Buy(BuyParams{
		Caller:    buyer,
		Value:     units.Ether("0.51"),
		Token:     created.Token,
		AmountIn:  units.Ether("0.5"),
		Fee:       buyFee,
		Recipient: buyer,
		Deadline:  fx.deadline(),
	})
	require.NoError(t, err)

	tokens := fx.ledger.TokenBalance(created.Token, buyer)
	sellAmount := new(uint256.Int).Div(tokens, uint256.NewInt(2))
	require.NoError(t, fx.ledger.Approve(created.Token, buyer, fx.bundler.Address(), sellAmount))

	cs := fx.curveState(t, created.Token)
	expectedGross, err := fx.bundler.GetAmountOut(sellAmount, cs.k, cs.vToken, cs.vNative)
	require.NoError(t, err)
	expectedFee := new(uint256.Int).Div(new(uint256.Int).Mul(expectedGross, cs.feeNum), cs.feeDen)
	expectedNet := new(uint256.Int).Sub(expectedGross, expectedFee)

	prevVault := fx.vaultBalance()
	prevNative := fx.ledger.NativeBalance(buyer)

	params := SellParams{
		Caller:    buyer,
		Token:     created.Token,
		AmountIn:  sellAmount,
		Recipient: buyer,
		Deadline:  fx.deadline(),
	}
	preview, err := fx.bundler.PreviewSell(params)
	require.NoError(t, err)
	assert.True(t, preview.AmountOutGross.Eq(expectedGross))
	assert.True(t, preview.Fee.Eq(expectedFee))
	assert.True(t, preview.AmountOutNet.Eq(expectedNet))

	net, err := fx.bundler.Sell(params)
	require.NoError(t, err)
	assert.True(t, net.Eq(expectedNet))

	gain := new(uint256.Int).Sub(fx.ledger.NativeBalance(buyer), prevNative)
	assert.True(t, gain.Eq(expectedNet))
	assert.True(t, fx.vaultBalance().Eq(add(prevVault, expectedFee)))
	assert.True(t, fx.vaultBalance().Eq(add(creationFee, deployFee, buyFee, expectedFee)))
	assert.True(t, fx.ledger.TokenBalance(created.Token, buyer).Eq(new(uint256.Int).Sub(tokens, sellAmount)))

	after := fx.curveState(t, created.Token)
	assert.True(t, after.vToken.Eq(add(cs.vToken, sellAmount)))
	assert.True(t, after.vNative.Eq(new(uint256.Int).Sub(cs.vNative, expectedGross)))

	sells := fx.pub.ofType(events.TradeSell)
	require.Len(t, sells, 1)
	trade := sells[0].(*events.TradeEvent)
	assert.True(t, trade.AmountOutGross.Eq(expectedGross))
	assert.True(t, trade.AmountOut.Eq(expectedNet))
	assert.Equal(t, "sell", trade.Side())
}

func TestSell_RequiresAllowance(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "10")
	created, _ := fx.createCurve(t, creator, units.Ether("1"), units.Ether("0.05"))
	tokens := fx.ledger.TokenBalance(created.Token, creator)
	before := fx.curveState(t, created.Token)

	_, err := fx.bundler.Sell(SellParams{
		Caller:    creator,
		Token:     created.Token,
		AmountIn:  tokens,
		Recipient: creator,
		Deadline:  fx.deadline(),
	})
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	assert.True(t, fx.ledger.TokenBalance(created.Token, creator).Eq(tokens))
	after := fx.curveState(t, created.Token)
	assert.True(t, after.vNative.Eq(before.vNative))
	assert.True(t, after.vToken.Eq(before.vToken))
}

func TestSell_RefundsAttachedValue(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "10")
	created, _ := fx.createCurve(t, creator, units.Ether("1"), units.Ether("0.05"))
	tokens := fx.ledger.TokenBalance(created.Token, creator)
	require.NoError(t, fx.ledger.Approve(created.Token, creator, fx.bundler.Address(), tokens))

	before := fx.ledger.NativeBalance(creator)
	net, err := fx.bundler.Sell(SellParams{
		Caller:    creator,
		Value:     units.Ether("1"),
		Token:     created.Token,
		AmountIn:  tokens,
		Recipient: creator,
		Deadline:  fx.deadline(),
	})
	require.NoError(t, err)

	assert.True(t, fx.ledger.NativeBalance(creator).Eq(add(before, net)))
	assert.True(t, fx.ledger.NativeBalance(fx.bundler.Address()).IsZero())
}

func TestSell_Rejections(t *testing.T) {
	fx := newFixture(t)
	creator := fx.funded(t, "10")
	created, _ := fx.createCurve(t, creator, units.Ether("1"), units.Ether("0.05"))

	_, err := fx.bundler.Sell(SellParams{
		Caller: creator, Token: created.Token, AmountIn: uint256.NewInt(0), Recipient: creator, Deadline: fx.deadline(),
	})
	assert.ErrorIs(t, err, ErrZeroAmount)

	_, err = fx.bundler.Sell(SellParams{
		Caller: creator, Token: created.Token, AmountIn: uint256.NewInt(1), Recipient: creator, Deadline: fx.now.Add(-time.Minute),
	})
	assert.ErrorIs(t, err, ErrExpired)

	_, err = fx.bundler.Sell(SellParams{
		Caller: creator, Token: newAddress(), AmountIn: uint256.NewInt(1), Recipient: creator, Deadline: fx.deadline(),
	})
	assert.ErrorIs(t, err, ErrUnknownToken)

	rejected := fx.pub.ofType(events.SettlementRejected)
	require.Len(t, rejected, 3)
	assert.Equal(t, OpSell, rejected[0].(*events.SettlementRejectedEvent).Operation)
}

func TestFeeConservation(t *testing.T) {
	fx := newFixture(t)
	alice := fx.funded(t, "100")
	bob := fx.funded(t, "100")

	first, _ := fx.createCurve(t, alice, units.Ether("1"), units.Ether("0.05"))
	second, _ := fx.createCurve(t, bob, units.Ether("3"), units.Ether("0"))

	buys := []struct {
		who   ledger.Address
		token ledger.Address
		in    string
		fee   string
	}{
		{bob, first.Token, "0.5", "0.01"},
		{alice, second.Token, "1.25", "0.003"},
		{bob, first.Token, "2", "0"},
		{alice, first.Token, "0.000000000000000777", "0.000000000000000001"},
	}
	for _, b := range buys {
		_, err := fx.bundler.Buy(BuyParams{
			Caller:    b.who,
			Value:     add(units.Ether(b.in), units.Ether(b.fee)),
			Token:     b.token,
			AmountIn:  units.Ether(b.in),
			Fee:       units.Ether(b.fee),
			Recipient: b.who,
			Deadline:  fx.deadline(),
		})
		require.NoError(t, err)
	}

	// a rejected trade charges nothing
	_, err := fx.bundler.Buy(BuyParams{
		Caller: bob, Value: units.Ether("0.1"), Token: first.Token, AmountIn: units.Ether("1"), Recipient: bob, Deadline: fx.deadline(),
	})
	require.Error(t, err)

	for _, who := range []ledger.Address{alice, bob} {
		for _, token := range []ledger.Address{first.Token, second.Token} {
			held := fx.ledger.TokenBalance(token, who)
			if held.IsZero() {
				continue
			}
			third := new(uint256.Int).Div(held, uint256.NewInt(3))
			require.NoError(t, fx.ledger.Approve(token, who, fx.bundler.Address(), third))
			_, err := fx.bundler.Sell(SellParams{
				Caller: who, Token: token, AmountIn: third, Recipient: who, Deadline: fx.deadline(),
			})
			require.NoError(t, err)
		}
	}

	charged := new(uint256.Int)
	for _, e := range fx.pub.ofType(events.CurveCreated) {
		charged.Add(charged, e.(*events.CurveCreatedEvent).DeployFee)
	}
	for _, typ := range []events.EventType{events.TradeBuy, events.TradeSell} {
		for _, e := range fx.pub.ofType(typ) {
			charged.Add(charged, e.(*events.TradeEvent).Fee)
		}
	}

	assert.True(t, fx.vaultBalance().Eq(charged), "vault %s, charged %s", fx.vaultBalance().Dec(), charged.Dec())
	assert.True(t, fx.ledger.NativeBalance(fx.bundler.Address()).IsZero())
}

func TestGetAmountOut_MatchesPricing(t *testing.T) {
	fx := newFixture(t)
	k := new(uint256.Int).Mul(units.Ether("30"), units.Ether("1073000000"))

	got, err := fx.bundler.GetAmountOut(units.Ether("1"), k, units.Ether("30"), units.Ether("1073000000"))
	require.NoError(t, err)
	want, err := pricing.GetAmountOut(units.Ether("1"), k, units.Ether("30"), units.Ether("1073000000"))
	require.NoError(t, err)
	assert.True(t, got.Eq(want))

	_, err = fx.bundler.GetAmountOut(units.Ether("1"), k, uint256.NewInt(0), units.Ether("1"))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}
