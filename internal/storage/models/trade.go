// internal/storage/models/trade.go
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeRecord is one settled buy or sell. Addresses are base58 strings and
// amounts are integers in base units (18 decimals).
type TradeRecord struct {
	ID             string
	Side           Side
	Curve          string
	Token          string
	Caller         string
	Recipient      string
	AmountIn       *uint256.Int
	AmountOutGross *uint256.Int
	AmountOut      *uint256.Int
	Fee            *uint256.Int
	VirtualNative  *uint256.Int
	VirtualToken   *uint256.Int
	ExecutedAt     time.Time
}

// Validate checks that the record can be stored.
func (t *TradeRecord) Validate() error {
	if t == nil {
		return errors.New("nil trade record")
	}
	if t.ID == "" {
		return errors.New("trade id is required")
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return fmt.Errorf("unknown trade side %q", t.Side)
	}
	if t.Curve == "" || t.Token == "" {
		return errors.New("curve and token are required")
	}
	for name, v := range map[string]*uint256.Int{
		"amount_in":        t.AmountIn,
		"amount_out_gross": t.AmountOutGross,
		"amount_out":       t.AmountOut,
		"fee":              t.Fee,
		"virtual_native":   t.VirtualNative,
		"virtual_token":    t.VirtualToken,
	} {
		if v == nil {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}

// Clone returns a deep copy so stores never share amounts with callers.
func (t *TradeRecord) Clone() *TradeRecord {
	c := *t
	c.AmountIn = t.AmountIn.Clone()
	c.AmountOutGross = t.AmountOutGross.Clone()
	c.AmountOut = t.AmountOut.Clone()
	c.Fee = t.Fee.Clone()
	c.VirtualNative = t.VirtualNative.Clone()
	c.VirtualToken = t.VirtualToken.Clone()
	return &c
}
