// Package bundler settles curve trades atomically: it creates a curve and buys
// into it in one step, buys and sells against existing curves, and routes
// every protocol fee to the fee vault.
package bundler

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/events"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
	"github.com/rovshanmuradov/curve-bundler/internal/pricing"
	"go.uber.org/zap"
)

// Config holds the bundler's collaborators.
type Config struct {
	Ledger    *ledger.Ledger
	Address   ledger.Address
	Factories FactoryResolver
	Vault     Vault

	// Optional.
	Publisher events.Publisher
	Recorder  Recorder
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Bundler is the settlement orchestrator. All state it touches lives in the
// ledger; every public operation runs inside one ledger.Atomic call.
type Bundler struct {
	addr      ledger.Address
	ledger    *ledger.Ledger
	factories FactoryResolver
	vault     Vault
	publisher events.Publisher
	recorder  Recorder
	now       func() time.Time
	logger    *zap.Logger

	// guarded by the ledger lock
	factory Factory
}

// New creates an uninitialized bundler.
func New(cfg *Config) (*Bundler, error) {
	if cfg.Ledger == nil || cfg.Factories == nil || cfg.Vault == nil {
		return nil, errors.New("bundler: ledger, factory resolver and vault are required")
	}

	b := &Bundler{
		addr:      cfg.Address,
		ledger:    cfg.Ledger,
		factories: cfg.Factories,
		vault:     cfg.Vault,
		publisher: cfg.Publisher,
		recorder:  cfg.Recorder,
		now:       cfg.Clock,
		logger:    cfg.Logger,
	}
	if b.recorder == nil {
		b.recorder = nopRecorder{}
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	b.logger = b.logger.Named("bundler")

	return b, nil
}

// Address returns the bundler's own ledger account. Attached value passes
// through it and it must be approved as spender before Sell.
func (b *Bundler) Address() ledger.Address {
	return b.addr
}

// Initialize binds the bundler to a factory. It succeeds exactly once.
func (b *Bundler) Initialize(factoryAddr ledger.Address) error {
	err := b.ledger.Atomic(func() error {
		if b.factory != nil {
			return ErrAlreadyInitialized
		}
		f, err := b.factories.Get(factoryAddr)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
		b.factory = f
		return nil
	})
	if err != nil {
		b.logger.Warn("Initialization rejected",
			zap.String("factory", factoryAddr.String()),
			zap.Error(err))
		return &SettlementError{Op: OpInitialize, Err: err}
	}

	b.logger.Info("Bundler initialized",
		zap.String("bundler", b.addr.String()),
		zap.String("factory", factoryAddr.String()))
	return nil
}

// Factory returns the factory bound by Initialize.
func (b *Bundler) Factory() (Factory, error) {
	var f Factory
	b.ledger.View(func(*ledger.State) { f = b.factory })
	if f == nil {
		return nil, ErrNotInitialized
	}
	return f, nil
}

// GetAmountOut exposes the pricing function used for every trade.
func (b *Bundler) GetAmountOut(amountIn, k, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	return pricing.GetAmountOut(amountIn, k, reserveIn, reserveOut)
}

// CreateAndBuy creates a curve and buys AmountIn worth of its token for the
// creator. Creation and the first buy commit together or not at all.
func (b *Bundler) CreateAndBuy(p CreateAndBuyParams) (*CreateResult, error) {
	start := time.Now()

	var (
		res   *CreateResult
		event *events.CurveCreatedEvent
		trade *events.TradeEvent
	)
	err := b.ledger.Atomic(func() error {
		var err error
		res, event, trade, err = b.createAndBuy(p)
		return err
	})
	b.recorder.RecordSettlement(OpCreateAndBuy, time.Since(start), err)
	if err != nil {
		return nil, b.reject(OpCreateAndBuy, p.Caller, ledger.Address{}, err)
	}

	b.recorder.RecordFee(feeKindDeploy, event.DeployFee)
	b.recorder.RecordFee(feeKindBuy, trade.Fee)
	b.recorder.RecordVolume(trade.Side(), trade.AmountIn)
	b.publish(event)
	b.publish(trade)

	b.logger.Info("Curve created and bought",
		zap.String("curve", res.Curve.String()),
		zap.String("token", res.Token.String()),
		zap.String("creator", p.Creator.String()),
		zap.String("amount_in", p.AmountIn.Dec()),
		zap.String("amount_out", res.AmountOut.Dec()),
		zap.String("deploy_fee", event.DeployFee.Dec()))

	return res, nil
}

// Buy spends AmountIn of native on Token and sends the tokens to Recipient.
func (b *Bundler) Buy(p BuyParams) (*uint256.Int, error) {
	start := time.Now()

	var trade *events.TradeEvent
	err := b.ledger.Atomic(func() error {
		var err error
		trade, err = b.buy(p)
		return err
	})
	b.recorder.RecordSettlement(OpBuy, time.Since(start), err)
	if err != nil {
		return nil, b.reject(OpBuy, p.Caller, p.Token, err)
	}

	b.recorder.RecordFee(feeKindBuy, trade.Fee)
	b.recorder.RecordVolume(trade.Side(), trade.AmountIn)
	b.publish(trade)

	b.logger.Info("Buy settled",
		zap.String("token", p.Token.String()),
		zap.String("recipient", p.Recipient.String()),
		zap.String("amount_in", p.AmountIn.Dec()),
		zap.String("amount_out", trade.AmountOut.Dec()),
		zap.String("fee", trade.Fee.Dec()))

	return trade.AmountOut.Clone(), nil
}

// Sell sells AmountIn tokens and sends the net native proceeds to Recipient.
func (b *Bundler) Sell(p SellParams) (*uint256.Int, error) {
	start := time.Now()

	var trade *events.TradeEvent
	err := b.ledger.Atomic(func() error {
		var err error
		trade, err = b.sell(p)
		return err
	})
	b.recorder.RecordSettlement(OpSell, time.Since(start), err)
	if err != nil {
		return nil, b.reject(OpSell, p.Caller, p.Token, err)
	}

	b.recorder.RecordFee(feeKindSell, trade.Fee)
	b.recorder.RecordVolume(trade.Side(), trade.AmountOutGross)
	b.publish(trade)

	b.logger.Info("Sell settled",
		zap.String("token", p.Token.String()),
		zap.String("recipient", p.Recipient.String()),
		zap.String("amount_in", p.AmountIn.Dec()),
		zap.String("amount_out_net", trade.AmountOut.Dec()),
		zap.String("fee", trade.Fee.Dec()))

	return trade.AmountOut.Clone(), nil
}

// fee kinds as reported to the Recorder
const (
	feeKindDeploy = "deploy"
	feeKindBuy    = "buy"
	feeKindSell   = "sell"
)

func (b *Bundler) reject(op string, caller, token ledger.Address, err error) error {
	b.logger.Warn("Settlement reverted",
		zap.String("operation", op),
		zap.String("caller", caller.String()),
		zap.Error(err))

	b.publish(&events.SettlementRejectedEvent{
		BaseEvent: events.BaseEvent{EventType: events.SettlementRejected, EventTime: b.now()},
		Operation: op,
		Caller:    caller,
		Token:     token,
		Err:       err,
	})

	return &SettlementError{Op: op, Err: err}
}

func (b *Bundler) publish(e events.Event) {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.Publish(e); err != nil {
		b.logger.Warn("Failed to publish event",
			zap.String("event_type", string(e.Type())),
			zap.Error(err))
	}
}
