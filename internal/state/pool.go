package state

import (
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// PoolStatus is the derived lifecycle phase of a pool.
type PoolStatus int32

const (
	PoolStatusActive PoolStatus = iota
	PoolStatusEnded
	PoolStatusResolved
)

func (s PoolStatus) String() string {
	switch s {
	case PoolStatusActive:
		return "Active"
	case PoolStatusEnded:
		return "Ended"
	case PoolStatusResolved:
		return "Resolved"
	default:
		return "Unknown"
	}
}

// Pool is one binary Yes/No market. Reserves and token supplies only grow
// while the pool is open; resolution freezes them and records the fee split.
type Pool struct {
	BetID            uint64
	Creator          solana.PublicKey
	Referee          solana.PublicKey // May resolve the pool alongside the owner
	ShareUUID        uuid.UUID
	Title            string
	Description      string
	YesReserve       uint64 // Lamports deposited on YES
	NoReserve        uint64 // Lamports deposited on NO
	YesSupply        uint64 // Outcome tokens minted on YES
	NoSupply         uint64 // Outcome tokens minted on NO
	CreatedTimestamp int64
	EndTimestamp     int64 // Negative = open-ended, no deadline gate
	Complete         bool
	WinnerIsYes      bool // Meaningful only when Complete

	// Fee snapshot taken at resolution, from the losing reserve.
	CreatorFee         uint64
	PlatformFee        uint64
	CreatorFeeClaimed  bool
	PlatformFeeClaimed bool
}

// HasDeadline reports whether the pool enforces a betting deadline.
func (p *Pool) HasDeadline() bool {
	return p.EndTimestamp >= 0
}

// CheckOpenForDeposits enforces the deposit gate ordering: completion is
// checked before the deadline, so a resolved open-ended pool reports
// BetComplete rather than BetEnded.
func (p *Pool) CheckOpenForDeposits(now int64) error {
	if p.Complete {
		return ErrBetComplete
	}
	if p.HasDeadline() && now >= p.EndTimestamp {
		return ErrBetEnded
	}
	return nil
}

// CheckResolvable enforces the resolution gates other than authority:
// not already complete, and strictly past the deadline when one exists.
// At now == EndTimestamp neither deposits nor resolution are accepted.
func (p *Pool) CheckResolvable(now int64) error {
	if p.Complete {
		return ErrBetComplete
	}
	if p.HasDeadline() && now <= p.EndTimestamp {
		return ErrBetNotEnded
	}
	return nil
}

// Status derives the lifecycle phase from completion and the clock.
func (p *Pool) Status(now int64) PoolStatus {
	if p.Complete {
		return PoolStatusResolved
	}
	if p.HasDeadline() && now >= p.EndTimestamp {
		return PoolStatusEnded
	}
	return PoolStatusActive
}

// WinningSupply returns the outcome-token supply on the winning side.
// Only meaningful once the pool is complete.
func (p *Pool) WinningSupply() uint64 {
	if p.WinnerIsYes {
		return p.YesSupply
	}
	return p.NoSupply
}

// LosingReserve returns the lamport reserve on the losing side.
func (p *Pool) LosingReserve() uint64 {
	if p.WinnerIsYes {
		return p.NoReserve
	}
	return p.YesReserve
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Pool) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = appendUint64LE(buf, p.BetID)
	buf = append(buf, p.Creator[:]...)
	buf = append(buf, p.Referee[:]...)
	buf = append(buf, p.ShareUUID[:]...)
	buf = append(buf, byte(len(p.Title)))
	buf = append(buf, []byte(p.Title)...)

	// description length needs two bytes (max 500)
	buf = append(buf, byte(len(p.Description)), byte(len(p.Description)>>8))
	buf = append(buf, []byte(p.Description)...)

	buf = appendUint64LE(buf, p.YesReserve)
	buf = appendUint64LE(buf, p.NoReserve)
	buf = appendUint64LE(buf, p.YesSupply)
	buf = appendUint64LE(buf, p.NoSupply)
	buf = appendInt64LE(buf, p.CreatedTimestamp)
	buf = appendInt64LE(buf, p.EndTimestamp)
	buf = appendBool(buf, p.Complete)
	buf = appendBool(buf, p.WinnerIsYes)
	buf = appendUint64LE(buf, p.CreatorFee)
	buf = appendUint64LE(buf, p.PlatformFee)
	buf = appendBool(buf, p.CreatorFeeClaimed)
	buf = appendBool(buf, p.PlatformFeeClaimed)
	return buf
}

// PoolManager holds all pools by bet id.
type PoolManager struct {
	pools map[uint64]*Pool
}

func NewPoolManager() *PoolManager {
	return &PoolManager{pools: make(map[uint64]*Pool)}
}

// GetPool returns the pool, or ErrInvalidBet when the id is unknown.
func (pm *PoolManager) GetPool(betID uint64) (*Pool, error) {
	pool, ok := pm.pools[betID]
	if !ok {
		return nil, ErrInvalidBet
	}
	return pool, nil
}

// SetPool inserts or replaces a pool (creation and snapshot restore).
func (pm *PoolManager) SetPool(pool *Pool) {
	pm.pools[pool.BetID] = pool
}

// Count returns the number of pools.
func (pm *PoolManager) Count() int {
	return len(pm.pools)
}

// GetAllPools returns all pools (for snapshot creation and iteration).
func (pm *PoolManager) GetAllPools() []*Pool {
	result := make([]*Pool, 0, len(pm.pools))
	for _, pool := range pm.pools {
		result = append(result, pool)
	}
	return result
}
