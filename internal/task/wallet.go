// ==================================
// File: internal/task/wallet.go
// ==================================
package task

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Wallet is a named scenario account. Only its public key is used on the
// ledger; the private key identifies the account the same way a signer would.
type Wallet struct {
	Name       string
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey
}

// NewWallet builds a wallet from a base58-encoded private key.
func NewWallet(name, privateKeyBase58 string) (*Wallet, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: invalid private key: %w", name, err)
	}

	return &Wallet{
		Name:       name,
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
	}, nil
}

// GenerateWallet creates a wallet with a fresh random key.
func GenerateWallet(name string) *Wallet {
	w := solana.NewWallet()
	return &Wallet{
		Name:       name,
		PrivateKey: w.PrivateKey,
		PublicKey:  w.PublicKey(),
	}
}

// String returns the wallet's public key.
func (w *Wallet) String() string {
	return w.PublicKey.String()
}
