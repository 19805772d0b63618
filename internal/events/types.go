// internal/events/types.go
package events

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
)

// EventType represents the type of event.
type EventType string

const (
	CurveCreated EventType = "curve.created"

	TradeBuy  EventType = "trade.buy"
	TradeSell EventType = "trade.sell"

	// SettlementRejected is published when an operation fails and is reverted.
	SettlementRejected EventType = "settlement.rejected"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// CurveCreatedEvent is emitted once a new curve and its first buy are committed.
type CurveCreatedEvent struct {
	BaseEvent
	Curve     ledger.Address
	Token     ledger.Address
	Creator   ledger.Address
	Name      string
	Symbol    string
	TokenURI  string
	DeployFee *uint256.Int
}

// TradeEvent is emitted for every committed buy or sell. For buys AmountOut
// equals AmountOutGross and Fee is the caller-declared fee; for sells Fee is
// taken out of AmountOutGross.
type TradeEvent struct {
	BaseEvent
	ID             string
	Curve          ledger.Address
	Token          ledger.Address
	Caller         ledger.Address
	Recipient      ledger.Address
	AmountIn       *uint256.Int
	AmountOutGross *uint256.Int
	AmountOut      *uint256.Int
	Fee            *uint256.Int

	// Post-trade virtual reserves.
	VirtualNative *uint256.Int
	VirtualToken  *uint256.Int
}

// Side returns "buy" or "sell".
func (e *TradeEvent) Side() string {
	if e.EventType == TradeSell {
		return "sell"
	}
	return "buy"
}

// SettlementRejectedEvent is emitted when an operation is reverted.
type SettlementRejectedEvent struct {
	BaseEvent
	Operation string
	Caller    ledger.Address
	Token     ledger.Address
	Err       error
}
