package state

import (
	"github.com/gagliardetto/solana-go"
)

// Entry is one user's stake in one pool. The side is locked at the first
// nonzero deposit; balances only grow until the claim flips IsClaimed.
type Entry struct {
	BetID         uint64
	User          solana.PublicKey
	IsYes         bool
	TokenBalance  uint64 // Outcome tokens held
	DepositAmount uint64 // Lamport principal
	IsClaimed     bool
}

// HasStake reports whether the entry holds any tokens yet. A zero-balance
// entry may still switch sides on its first deposit.
func (e *Entry) HasStake() bool {
	return e.TokenBalance > 0
}

// CanonicalBytes returns deterministic serialization for hashing
func (e *Entry) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = appendUint64LE(buf, e.BetID)
	buf = append(buf, e.User[:]...)
	buf = appendBool(buf, e.IsYes)
	buf = appendUint64LE(buf, e.TokenBalance)
	buf = appendUint64LE(buf, e.DepositAmount)
	buf = appendBool(buf, e.IsClaimed)
	return buf
}

type EntryKey struct {
	BetID uint64
	User  solana.PublicKey
}

// EntryLedger manages entries keyed by (pool, user).
type EntryLedger struct {
	entries map[EntryKey]*Entry
}

func NewEntryLedger() *EntryLedger {
	return &EntryLedger{entries: make(map[EntryKey]*Entry)}
}

// GetEntry returns existing entry or nil
func (el *EntryLedger) GetEntry(betID uint64, user solana.PublicKey) *Entry {
	return el.entries[EntryKey{BetID: betID, User: user}]
}

// GetOrCreateEntry returns existing or creates a fresh entry defaulting to
// the YES side, matching the on-chain init_if_needed behavior. Creating an
// entry that already exists is a no-op.
func (el *EntryLedger) GetOrCreateEntry(betID uint64, user solana.PublicKey) (*Entry, bool) {
	key := EntryKey{BetID: betID, User: user}
	entry := el.entries[key]
	if entry != nil {
		return entry, false
	}

	entry = &Entry{
		BetID: betID,
		User:  user,
		IsYes: true,
	}
	el.entries[key] = entry
	return entry, true
}

// SetEntry directly sets an entry (used for snapshot restore)
func (el *EntryLedger) SetEntry(entry *Entry) {
	el.entries[EntryKey{BetID: entry.BetID, User: entry.User}] = entry
}

// GetUserEntries returns all entries for a user
func (el *EntryLedger) GetUserEntries(user solana.PublicKey) []*Entry {
	result := make([]*Entry, 0)
	for key, entry := range el.entries {
		if key.User == user {
			result = append(result, entry)
		}
	}
	return result
}

// GetAllEntries returns all entries (for snapshot creation)
func (el *EntryLedger) GetAllEntries() []*Entry {
	result := make([]*Entry, 0, len(el.entries))
	for _, entry := range el.entries {
		result = append(result, entry)
	}
	return result
}
