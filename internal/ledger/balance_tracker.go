package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// VaultBalance returns the vault's lamport balance.
func (bt *BalanceTracker) VaultBalance() int64 {
	return bt.GetBalance(VaultKey())
}

// WalletBalance returns a wallet's tracked balance. Wallets are boundary
// accounts, so this is typically negative (net lamports paid in).
func (bt *BalanceTracker) WalletBalance(owner solana.PublicKey) int64 {
	return bt.GetBalance(NewWalletKey(owner))
}

// ValidateVaultNonNegative checks the vault never pays out more than it holds.
func (bt *BalanceTracker) ValidateVaultNonNegative() error {
	if balance := bt.VaultBalance(); balance < 0 {
		return fmt.Errorf("vault has negative balance: %d", balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (always 0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() int64 {
	var total int64
	for _, balance := range bt.balances {
		total += balance
	}
	return total
}

// Snapshot returns a copy of all balances (for state hashing and snapshots)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore directly sets a balance (used for snapshot restore)
func (bt *BalanceTracker) Restore(key AccountKey, balance int64) {
	bt.balances[key] = balance
}
