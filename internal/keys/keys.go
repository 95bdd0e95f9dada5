// Package keys derives the deterministic account addresses used to identify
// platform entities. Derivation is program-derived-address compatible with
// the on-chain deployment, so off-chain indexers can join ledger rows against
// chain accounts byte for byte.
package keys

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ProgramID anchors all address derivations.
var ProgramID = solana.MustPublicKeyFromBase58("Dqxq5nTtVBCBjjWfxnuWMNGNCoB2PQc6JKoM1bQ4PuuE")

// Seed prefixes, one per entity kind.
var (
	seedMain    = []byte("main")
	seedPool    = []byte("pool")
	seedEntry   = []byte("entry")
	seedHistory = []byte("history")
	seedVault   = []byte("sol-vault")
)

// MainStateAddress returns the singleton registry address.
func MainStateAddress() (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{seedMain}, ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive main state address: %w", err)
	}
	return addr, nil
}

// VaultAddress returns the lamport vault address.
func VaultAddress() (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{seedVault}, ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive vault address: %w", err)
	}
	return addr, nil
}

// PoolAddress derives a pool address from its bet id (little-endian u64).
func PoolAddress(betID uint64) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{seedPool, betIDBytes(betID)}, ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive pool address for bet %d: %w", betID, err)
	}
	return addr, nil
}

// HistoryAddress derives a pool's reserve-history address from its bet id.
func HistoryAddress(betID uint64) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{seedHistory, betIDBytes(betID)}, ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive history address for bet %d: %w", betID, err)
	}
	return addr, nil
}

// EntryAddress derives an entry address from the pool address and the user.
func EntryAddress(pool, user solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{seedEntry, pool.Bytes(), user.Bytes()}, ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive entry address: %w", err)
	}
	return addr, nil
}

// EntryAddressForBet is EntryAddress with the pool derivation folded in.
func EntryAddressForBet(betID uint64, user solana.PublicKey) (solana.PublicKey, error) {
	pool, err := PoolAddress(betID)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return EntryAddress(pool, user)
}

func betIDBytes(betID uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, betID)
	return b
}
