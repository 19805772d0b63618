// internal/bundler/types.go
package bundler

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
	"github.com/rovshanmuradov/curve-bundler/internal/protocol"
)

// Capabilities the bundler consumes.
type (
	Curve   = protocol.Curve
	Factory = protocol.Factory
	Vault   = protocol.Vault
)

// FactoryResolver looks up a deployed factory by address.
type FactoryResolver interface {
	Get(addr ledger.Address) (protocol.Factory, error)
}

// Recorder receives settlement metrics.
type Recorder interface {
	RecordSettlement(operation string, duration time.Duration, err error)
	RecordFee(kind string, amount *uint256.Int)
	RecordVolume(side string, amount *uint256.Int)
}

type nopRecorder struct{}

func (nopRecorder) RecordSettlement(string, time.Duration, error) {}
func (nopRecorder) RecordFee(string, *uint256.Int)                {}
func (nopRecorder) RecordVolume(string, *uint256.Int)             {}

// Operation names.
const (
	OpInitialize   = "initialize"
	OpCreateAndBuy = "create_and_buy"
	OpBuy          = "buy"
	OpSell         = "sell"
)

// CreateAndBuyParams creates a curve and buys into it for Creator.
// Value must cover AmountIn + Fee + the factory's deploy fee; any excess is
// refunded to Caller.
type CreateAndBuyParams struct {
	Caller   ledger.Address
	Value    *uint256.Int
	Creator  ledger.Address
	Name     string
	Symbol   string
	TokenURI string
	AmountIn *uint256.Int
	Fee      *uint256.Int
}

// CreateResult is the outcome of CreateAndBuy. Reserves are post-trade.
type CreateResult struct {
	Curve         ledger.Address
	Token         ledger.Address
	VirtualNative *uint256.Int
	VirtualToken  *uint256.Int
	AmountOut     *uint256.Int
}

// BuyParams spends AmountIn of native on Token. Fee is declared by the
// caller and sent to the vault as is.
type BuyParams struct {
	Caller    ledger.Address
	Value     *uint256.Int
	Token     ledger.Address
	AmountIn  *uint256.Int
	Fee       *uint256.Int
	Recipient ledger.Address
	Deadline  time.Time
}

// SellParams sells AmountIn tokens of Token. The bundler must be approved
// to move them out of Caller's balance. The fee comes from the curve's fee
// configuration and is taken out of the proceeds.
type SellParams struct {
	Caller    ledger.Address
	Value     *uint256.Int
	Token     ledger.Address
	AmountIn  *uint256.Int
	Recipient ledger.Address
	Deadline  time.Time
}

// SellResult breaks down the proceeds of a sell.
type SellResult struct {
	AmountOutGross *uint256.Int
	Fee            *uint256.Int
	AmountOutNet   *uint256.Int
}
