// =============================
// File: internal/ledger/state.go
// =============================
package ledger

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
)

// Address identifies a wallet, token mint or contract account. A public key
// is 32 bytes wide, so it also fits into a single storage word.
type Address = solana.PublicKey

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrUnknownToken          = errors.New("unknown token")
	ErrTokenExists           = errors.New("token already exists")
	ErrOverflow              = errors.New("balance overflow")
)

// TokenInfo describes a token registered in the ledger.
type TokenInfo struct {
	Mint     Address
	Name     string
	Symbol   string
	URI      string
	Decimals uint8
}

type allowanceKey struct {
	owner   Address
	spender Address
}

type tokenState struct {
	info       TokenInfo
	supply     uint256.Int
	balances   map[Address]uint256.Int
	allowances map[allowanceKey]uint256.Int
}

// State holds native balances, tokens and contract storage. Every mutation is
// journaled so it can be undone with RevertToSnapshot.
//
// State is not synchronized. Use it only from inside Ledger.Atomic,
// Ledger.Simulate or Ledger.View.
type State struct {
	native  map[Address]uint256.Int
	tokens  map[Address]*tokenState
	storage map[Address]map[string]uint256.Int
	journal []func()
}

func newState() *State {
	return &State{
		native:  make(map[Address]uint256.Int),
		tokens:  make(map[Address]*tokenState),
		storage: make(map[Address]map[string]uint256.Int),
	}
}

// Snapshot returns an identifier for the current journal position.
func (s *State) Snapshot() int {
	return len(s.journal)
}

// RevertToSnapshot undoes every mutation made after the snapshot was taken.
func (s *State) RevertToSnapshot(id int) {
	for i := len(s.journal) - 1; i >= id; i-- {
		s.journal[i]()
	}
	s.journal = s.journal[:id]
}

func (s *State) record(undo func()) {
	s.journal = append(s.journal, undo)
}

// ---- native asset ----

// NativeBalance returns a copy of the native balance of addr.
func (s *State) NativeBalance(addr Address) *uint256.Int {
	bal := s.native[addr]
	return bal.Clone()
}

func (s *State) setNative(addr Address, value uint256.Int) {
	prev, existed := s.native[addr]
	s.record(func() {
		if existed {
			s.native[addr] = prev
		} else {
			delete(s.native, addr)
		}
	})
	s.native[addr] = value
}

// Mint issues new native units to addr.
func (s *State) Mint(addr Address, amount *uint256.Int) error {
	bal := s.native[addr]
	if _, overflow := bal.AddOverflow(&bal, amount); overflow {
		return fmt.Errorf("mint %s to %s: %w", amount.Dec(), addr, ErrOverflow)
	}
	s.setNative(addr, bal)
	return nil
}

// Transfer moves native units between two accounts.
func (s *State) Transfer(from, to Address, amount *uint256.Int) error {
	fromBal := s.native[from]
	if fromBal.Lt(amount) {
		return fmt.Errorf("transfer %s from %s (balance %s): %w",
			amount.Dec(), from, fromBal.Dec(), ErrInsufficientBalance)
	}
	if amount.IsZero() || from.Equals(to) {
		return nil
	}

	toBal := s.native[to]
	if _, overflow := toBal.AddOverflow(&toBal, amount); overflow {
		return fmt.Errorf("transfer %s to %s: %w", amount.Dec(), to, ErrOverflow)
	}
	fromBal.Sub(&fromBal, amount)

	s.setNative(from, fromBal)
	s.setNative(to, toBal)
	return nil
}

// ---- tokens ----

// CreateToken registers a new token with zero supply.
func (s *State) CreateToken(info TokenInfo) error {
	if _, ok := s.tokens[info.Mint]; ok {
		return fmt.Errorf("create token %s: %w", info.Mint, ErrTokenExists)
	}
	s.tokens[info.Mint] = &tokenState{
		info:       info,
		balances:   make(map[Address]uint256.Int),
		allowances: make(map[allowanceKey]uint256.Int),
	}
	mint := info.Mint
	s.record(func() { delete(s.tokens, mint) })
	return nil
}

// Token returns the metadata of a registered token.
func (s *State) Token(mint Address) (TokenInfo, error) {
	t, ok := s.tokens[mint]
	if !ok {
		return TokenInfo{}, fmt.Errorf("token %s: %w", mint, ErrUnknownToken)
	}
	return t.info, nil
}

// TotalSupply returns the minted supply of a token, zero for unknown tokens.
func (s *State) TotalSupply(mint Address) *uint256.Int {
	t, ok := s.tokens[mint]
	if !ok {
		return uint256.NewInt(0)
	}
	return t.supply.Clone()
}

// TokenBalance returns a copy of the token balance of owner.
func (s *State) TokenBalance(mint, owner Address) *uint256.Int {
	t, ok := s.tokens[mint]
	if !ok {
		return uint256.NewInt(0)
	}
	bal := t.balances[owner]
	return bal.Clone()
}

func (s *State) setTokenBalance(t *tokenState, owner Address, value uint256.Int) {
	prev, existed := t.balances[owner]
	s.record(func() {
		if existed {
			t.balances[owner] = prev
		} else {
			delete(t.balances, owner)
		}
	})
	t.balances[owner] = value
}

func (s *State) setSupply(t *tokenState, value uint256.Int) {
	prev := t.supply
	s.record(func() { t.supply = prev })
	t.supply = value
}

// MintToken issues new token units to owner.
func (s *State) MintToken(mint, owner Address, amount *uint256.Int) error {
	t, ok := s.tokens[mint]
	if !ok {
		return fmt.Errorf("mint token %s: %w", mint, ErrUnknownToken)
	}
	supply := t.supply
	if _, overflow := supply.AddOverflow(&supply, amount); overflow {
		return fmt.Errorf("mint token %s: %w", mint, ErrOverflow)
	}
	bal := t.balances[owner]
	bal.Add(&bal, amount)

	s.setSupply(t, supply)
	s.setTokenBalance(t, owner, bal)
	return nil
}

// TransferToken moves token units between two holders.
func (s *State) TransferToken(mint, from, to Address, amount *uint256.Int) error {
	t, ok := s.tokens[mint]
	if !ok {
		return fmt.Errorf("transfer token %s: %w", mint, ErrUnknownToken)
	}

	fromBal := t.balances[from]
	if fromBal.Lt(amount) {
		return fmt.Errorf("transfer %s of token %s from %s (balance %s): %w",
			amount.Dec(), mint, from, fromBal.Dec(), ErrInsufficientBalance)
	}
	if amount.IsZero() || from.Equals(to) {
		return nil
	}

	// balances sum to supply, so the recipient cannot overflow
	toBal := t.balances[to]
	toBal.Add(&toBal, amount)
	fromBal.Sub(&fromBal, amount)

	s.setTokenBalance(t, from, fromBal)
	s.setTokenBalance(t, to, toBal)
	return nil
}

// Approve sets the amount spender may move out of owner's balance.
// The maximum 256-bit value is treated as an unlimited allowance.
func (s *State) Approve(mint, owner, spender Address, amount *uint256.Int) error {
	t, ok := s.tokens[mint]
	if !ok {
		return fmt.Errorf("approve token %s: %w", mint, ErrUnknownToken)
	}
	s.setAllowance(t, allowanceKey{owner: owner, spender: spender}, *amount)
	return nil
}

// Allowance returns the remaining allowance of spender over owner's tokens.
func (s *State) Allowance(mint, owner, spender Address) *uint256.Int {
	t, ok := s.tokens[mint]
	if !ok {
		return uint256.NewInt(0)
	}
	a := t.allowances[allowanceKey{owner: owner, spender: spender}]
	return a.Clone()
}

func (s *State) setAllowance(t *tokenState, key allowanceKey, value uint256.Int) {
	prev, existed := t.allowances[key]
	s.record(func() {
		if existed {
			t.allowances[key] = prev
		} else {
			delete(t.allowances, key)
		}
	})
	t.allowances[key] = value
}

// TransferTokenFrom moves tokens out of from's balance on behalf of spender,
// consuming spender's allowance.
func (s *State) TransferTokenFrom(mint, spender, from, to Address, amount *uint256.Int) error {
	t, ok := s.tokens[mint]
	if !ok {
		return fmt.Errorf("transfer token %s: %w", mint, ErrUnknownToken)
	}

	key := allowanceKey{owner: from, spender: spender}
	allowance := t.allowances[key]
	if allowance.Lt(amount) {
		return fmt.Errorf("spender %s may move %s of %s, requested %s: %w",
			spender, allowance.Dec(), from, amount.Dec(), ErrInsufficientAllowance)
	}

	if err := s.TransferToken(mint, from, to, amount); err != nil {
		return err
	}

	if !isUnlimited(&allowance) {
		allowance.Sub(&allowance, amount)
		s.setAllowance(t, key, allowance)
	}
	return nil
}

func isUnlimited(v *uint256.Int) bool {
	return v.Eq(new(uint256.Int).SetAllOne())
}

// ---- contract storage ----

// Load reads a storage word of a contract account. Missing words read as zero.
func (s *State) Load(account Address, key string) *uint256.Int {
	words, ok := s.storage[account]
	if !ok {
		return uint256.NewInt(0)
	}
	w := words[key]
	return w.Clone()
}

// Store writes a storage word of a contract account.
func (s *State) Store(account Address, key string, value *uint256.Int) {
	words, ok := s.storage[account]
	if !ok {
		words = make(map[string]uint256.Int)
		s.storage[account] = words
		s.record(func() { delete(s.storage, account) })
	}
	prev, existed := words[key]
	s.record(func() {
		if existed {
			words[key] = prev
		} else {
			delete(words, key)
		}
	})
	words[key] = *value
}

// LoadAddress reads a storage word holding an address.
func (s *State) LoadAddress(account Address, key string) (Address, bool) {
	words, ok := s.storage[account]
	if !ok {
		return Address{}, false
	}
	w, ok := words[key]
	if !ok {
		return Address{}, false
	}
	raw := w.Bytes32()
	return solana.PublicKeyFromBytes(raw[:]), true
}

// StoreAddress writes an address into a storage word.
func (s *State) StoreAddress(account Address, key string, value Address) {
	s.Store(account, key, new(uint256.Int).SetBytes32(value[:]))
}
