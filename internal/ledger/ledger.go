// Package ledger provides the execution environment for settlement
// operations: an in-memory state of native balances, tokens and contract
// storage where each operation is applied all-or-nothing.
package ledger

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Ledger serializes access to a State and applies operations atomically.
type Ledger struct {
	mu     sync.Mutex
	state  *State
	logger *zap.Logger
}

// New creates an empty ledger.
func New(logger *zap.Logger) *Ledger {
	return &Ledger{
		state:  newState(),
		logger: logger.Named("ledger"),
	}
}

// State returns the underlying state so contracts can be bound to it.
// Its methods must only be called from within Atomic, Simulate or View.
func (l *Ledger) State() *State {
	return l.state
}

// Atomic runs fn as a single serialized unit. If fn returns an error or
// panics, every state change it made is reverted.
func (l *Ledger) Atomic(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.run(fn, false)
}

// Simulate runs fn like Atomic but always reverts its changes. It returns
// fn's error, which lets callers preview an operation exactly.
func (l *Ledger) Simulate(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.run(fn, true)
}

// View runs a read-only fn under the ledger lock.
func (l *Ledger) View(fn func(st *State)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fn(l.state)
}

func (l *Ledger) run(fn func() error, discard bool) (err error) {
	snap := l.state.Snapshot()

	defer func() {
		if r := recover(); r != nil {
			l.state.RevertToSnapshot(snap)
			panic(r)
		}
	}()

	err = fn()
	if err != nil || discard {
		changes := l.state.Snapshot() - snap
		l.state.RevertToSnapshot(snap)
		if err != nil {
			l.logger.Debug("Reverted ledger changes",
				zap.Int("changes", changes),
				zap.Error(err))
		}
		return err
	}

	// committed: the journal is only needed while an operation is in flight
	l.state.journal = l.state.journal[:snap]
	return nil
}

// Fund credits native units to addr outside of any settlement operation.
func (l *Ledger) Fund(addr Address, amount *uint256.Int) error {
	return l.Atomic(func() error {
		if err := l.state.Mint(addr, amount); err != nil {
			return fmt.Errorf("fund %s: %w", addr, err)
		}
		return nil
	})
}

// NativeBalance returns the native balance of addr.
func (l *Ledger) NativeBalance(addr Address) *uint256.Int {
	var bal *uint256.Int
	l.View(func(st *State) { bal = st.NativeBalance(addr) })
	return bal
}

// TokenBalance returns the token balance of owner.
func (l *Ledger) TokenBalance(mint, owner Address) *uint256.Int {
	var bal *uint256.Int
	l.View(func(st *State) { bal = st.TokenBalance(mint, owner) })
	return bal
}

// Approve lets spender move up to amount of owner's tokens.
func (l *Ledger) Approve(mint, owner, spender Address, amount *uint256.Int) error {
	return l.Atomic(func() error {
		return l.state.Approve(mint, owner, spender, amount)
	})
}
