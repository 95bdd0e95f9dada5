package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeClaimPayout
	JournalTypePlatformFee
	JournalTypeCreatorFee
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeClaimPayout:
		return "claim_payout"
	case JournalTypePlatformFee:
		return "platform_fee"
	case JournalTypeCreatorFee:
		return "creator_fee"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups entries of one instruction
	EventRef      string      // Idempotency key of source instruction
	Sequence      int64       // Global event sequence
	BetID         uint64      // Pool the movement belongs to
	DebitAccount  AccountKey  // Account receiving lamports
	CreditAccount AccountKey  // Account lamports leave
	Amount        int64       // Lamports (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Instruction timestamp (epoch seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal entry is a balanced transfer by construction (a single
// positive amount moves from credit account to debit account), so
// Σ debits == Σ credits is guaranteed per-entry. Multi-leg batches use
// multiple entries under one batch_id, each individually balanced.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}

func (b *Batch) appendJournal(jt JournalType, betID uint64, debit, credit AccountKey, amount uint64) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		BetID:         betID,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        int64(amount),
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// NewBatch starts an empty batch for one instruction.
func NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

// AddDeposit moves a deposit from the user's wallet into the vault.
func (b *Batch) AddDeposit(betID uint64, user solana.PublicKey, amount uint64) {
	b.appendJournal(JournalTypeDeposit, betID, VaultKey(), NewWalletKey(user), amount)
}

// AddClaimPayout moves a winner's payout from the vault to their wallet.
func (b *Batch) AddClaimPayout(betID uint64, user solana.PublicKey, amount uint64) {
	b.appendJournal(JournalTypeClaimPayout, betID, NewWalletKey(user), VaultKey(), amount)
}

// AddPlatformFee moves the platform fee from the vault to the owner wallet.
func (b *Batch) AddPlatformFee(betID uint64, owner solana.PublicKey, amount uint64) {
	b.appendJournal(JournalTypePlatformFee, betID, NewWalletKey(owner), VaultKey(), amount)
}

// AddCreatorFee moves the creator fee from the vault to the creator wallet.
func (b *Batch) AddCreatorFee(betID uint64, creator solana.PublicKey, amount uint64) {
	b.appendJournal(JournalTypeCreatorFee, betID, NewWalletKey(creator), VaultKey(), amount)
}
