package ledger

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	// AccountScopeWallet is a participant's lamport wallet. Wallets are
	// boundary accounts: lamports enter the system from them, so their
	// tracked balance goes negative as deposits accumulate.
	AccountScopeWallet AccountScope = iota

	// AccountScopeVault is the platform vault holding all pool reserves.
	// The vault balance must never go negative.
	AccountScopeVault
)

// AccountKey is the in-memory key for balance tracking. All amounts are
// lamports; there is a single asset in this ledger.
type AccountKey struct {
	Scope AccountScope
	Owner solana.PublicKey // Zero for the vault
}

// NewWalletKey creates a key for a participant wallet.
func NewWalletKey(owner solana.PublicKey) AccountKey {
	return AccountKey{Scope: AccountScopeWallet, Owner: owner}
}

// VaultKey returns the singleton vault account key.
func VaultKey() AccountKey {
	return AccountKey{Scope: AccountScopeVault}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeWallet:
		return fmt.Sprintf("wallet:%s", k.Owner.String())
	case AccountScopeVault:
		return "vault:sol"
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath, used when restoring
// balances from a snapshot.
func ParseAccountPath(path string) (AccountKey, error) {
	if path == "vault:sol" {
		return VaultKey(), nil
	}
	if owner, ok := strings.CutPrefix(path, "wallet:"); ok {
		pk, err := solana.PublicKeyFromBase58(owner)
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		return NewWalletKey(pk), nil
	}
	return AccountKey{}, fmt.Errorf("unknown account path: %q", path)
}
