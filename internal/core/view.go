package core

import (
	"BetLedger/internal/state"

	"github.com/gagliardetto/solana-go"
)

// Read accessors for callers that need live state ahead of the projection
// lag, such as the deposit preview endpoint. All return copies; the engine's
// own structs never escape the lock.

// ViewMainState returns a copy of the registry state.
func (e *Engine) ViewMainState() (state.MainState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	main, err := e.registry.Main()
	if err != nil {
		return state.MainState{}, err
	}
	return *main, nil
}

// ViewPool returns a copy of one pool.
func (e *Engine) ViewPool(betID uint64) (state.Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.pools.GetPool(betID)
	if err != nil {
		return state.Pool{}, err
	}
	return *pool, nil
}

// ViewEntry returns a copy of one entry, or ErrInvalidBet when none exists.
func (e *Engine) ViewEntry(betID uint64, user solana.PublicKey) (state.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := e.entries.GetEntry(betID, user)
	if entry == nil {
		return state.Entry{}, state.ErrInvalidBet
	}
	return *entry, nil
}

// ViewHistory returns a copy of a pool's reserve series.
func (e *Engine) ViewHistory(betID uint64) ([]state.ReservePoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hist, err := e.history.GetHistory(betID)
	if err != nil {
		return nil, err
	}
	points := make([]state.ReservePoint, len(hist.Points))
	copy(points, hist.Points)
	return points, nil
}

// VaultBalance returns the tracked vault balance.
func (e *Engine) VaultBalance() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances.VaultBalance()
}
