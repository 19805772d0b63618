// Package vault implements the account that collects protocol fees.
package vault

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
	"github.com/rovshanmuradov/curve-bundler/internal/protocol"
	"go.uber.org/zap"
)

const keyCollected = "collected"

// ErrNotOwner is returned when anyone but the owner withdraws.
var ErrNotOwner = errors.New("vault: caller is not the owner")

// Vault accumulates native fees. Its balance is the native balance of its
// ledger account.
type Vault struct {
	addr   ledger.Address
	owner  ledger.Address
	state  *ledger.State
	logger *zap.Logger
}

var _ protocol.Vault = (*Vault)(nil)

func New(state *ledger.State, addr, owner ledger.Address, logger *zap.Logger) *Vault {
	return &Vault{
		addr:   addr,
		owner:  owner,
		state:  state,
		logger: logger.Named("fee_vault"),
	}
}

func (v *Vault) Address() ledger.Address {
	return v.addr
}

// Deposit moves amount of native from the payer into the vault. It fails with
// ledger.ErrOverflow when the lifetime total would leave 256 bits.
func (v *Vault) Deposit(from ledger.Address, amount *uint256.Int) error {
	collected, overflow := new(uint256.Int).AddOverflow(v.state.Load(v.addr, keyCollected), amount)
	if overflow {
		return fmt.Errorf("vault deposit of %s: collected total %w", amount.Dec(), ledger.ErrOverflow)
	}
	if err := v.state.Transfer(from, v.addr, amount); err != nil {
		return fmt.Errorf("vault deposit: %w", err)
	}
	v.state.Store(v.addr, keyCollected, collected)

	v.logger.Debug("Fee deposited",
		zap.String("from", from.String()),
		zap.String("amount", amount.Dec()))
	return nil
}

// Withdraw sends amount of collected fees to the owner-chosen recipient.
func (v *Vault) Withdraw(caller, to ledger.Address, amount *uint256.Int) error {
	if !caller.Equals(v.owner) {
		return ErrNotOwner
	}
	if err := v.state.Transfer(v.addr, to, amount); err != nil {
		return fmt.Errorf("vault withdraw: %w", err)
	}

	v.logger.Info("Fees withdrawn",
		zap.String("to", to.String()),
		zap.String("amount", amount.Dec()))
	return nil
}

// Balance returns the fees currently held.
func (v *Vault) Balance() *uint256.Int {
	return v.state.NativeBalance(v.addr)
}

// Collected returns the fees deposited over the vault's lifetime.
func (v *Vault) Collected() *uint256.Int {
	return v.state.Load(v.addr, keyCollected)
}
