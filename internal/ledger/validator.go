package ledger

import "fmt"

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	if total := v.tracker.ComputeGlobalBalance(); total != 0 {
		return fmt.Errorf("global lamport balance is non-zero: %d", total)
	}
	return nil
}

// ValidateVaultSolvency verifies the vault holds what the pools owe.
// The vault balance can never go below zero: claims and fee transfers only
// move lamports that deposits previously placed there.
func (v *InvariantValidator) ValidateVaultSolvency() error {
	return v.tracker.ValidateVaultNonNegative()
}
