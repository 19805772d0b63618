// internal/bundler/preview.go
package bundler

import (
	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/events"
)

// Previews execute the full operation against the ledger and revert it. They
// return exactly what the real call would return against the same state.

// PreviewCreateAndBuy returns the result CreateAndBuy would produce.
func (b *Bundler) PreviewCreateAndBuy(p CreateAndBuyParams) (*CreateResult, error) {
	var res *CreateResult
	err := b.ledger.Simulate(func() error {
		var err error
		res, _, _, err = b.createAndBuy(p)
		return err
	})
	if err != nil {
		return nil, &SettlementError{Op: OpCreateAndBuy, Err: err}
	}
	return res, nil
}

// PreviewBuy returns the amount of tokens Buy would deliver.
func (b *Bundler) PreviewBuy(p BuyParams) (*uint256.Int, error) {
	var trade *events.TradeEvent
	err := b.ledger.Simulate(func() error {
		var err error
		trade, err = b.buy(p)
		return err
	})
	if err != nil {
		return nil, &SettlementError{Op: OpBuy, Err: err}
	}
	return trade.AmountOut, nil
}

// PreviewSell returns the gross proceeds, fee and net proceeds Sell would
// produce.
func (b *Bundler) PreviewSell(p SellParams) (*SellResult, error) {
	var trade *events.TradeEvent
	err := b.ledger.Simulate(func() error {
		var err error
		trade, err = b.sell(p)
		return err
	})
	if err != nil {
		return nil, &SettlementError{Op: OpSell, Err: err}
	}
	return &SellResult{
		AmountOutGross: trade.AmountOutGross,
		Fee:            trade.Fee,
		AmountOutNet:   trade.AmountOut,
	}, nil
}
