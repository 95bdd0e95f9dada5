package state

import (
	"github.com/gagliardetto/solana-go"
)

// Platform-wide defaults. The pricing constants are carried as inert
// configuration for compatibility with the original account layout; the
// pricing engine derives prices from reserves, not from these.
const (
	DefaultInitialPrice   uint64 = 100_000_000
	DefaultScaleFactor    uint64 = 10_000_000
	DefaultCreatorFeeBps  uint64 = 100 // 1%
	DefaultPlatformFeeBps uint64 = 200 // 2%

	MaxTitleLen       = 100
	MaxDescriptionLen = 500
)

// MainState is the init-once platform registry: admin authority, fee
// parameters, and the monotonic bet counter.
type MainState struct {
	Owner          solana.PublicKey
	InitialPrice   uint64
	ScaleFactor    uint64
	CreatorFeeBps  uint64
	PlatformFeeBps uint64
	NextBetID      uint64
}

// Registry holds the singleton MainState. A nil state means the platform is
// uninitialized and every instruction except initMainState must fail.
type Registry struct {
	main *MainState
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Initialize creates the MainState exactly once.
func (r *Registry) Initialize(owner solana.PublicKey) (*MainState, error) {
	if r.main != nil {
		return nil, ErrAlreadyInitialized
	}
	r.main = &MainState{
		Owner:          owner,
		InitialPrice:   DefaultInitialPrice,
		ScaleFactor:    DefaultScaleFactor,
		CreatorFeeBps:  DefaultCreatorFeeBps,
		PlatformFeeBps: DefaultPlatformFeeBps,
		NextBetID:      0,
	}
	return r.main, nil
}

// Main returns the MainState, or ErrUninitialized before initMainState.
func (r *Registry) Main() (*MainState, error) {
	if r.main == nil {
		return nil, ErrUninitialized
	}
	return r.main, nil
}

// IsInitialized reports whether initMainState has run.
func (r *Registry) IsInitialized() bool {
	return r.main != nil
}

// AllocateBetID returns the next bet id and advances the counter. IDs are
// dense and monotonic; a rejected createPool never consumes one because the
// counter is only touched after all preconditions pass.
func (r *Registry) AllocateBetID() uint64 {
	id := r.main.NextBetID
	r.main.NextBetID++
	return id
}

// Restore directly sets the MainState (used for snapshot restore).
func (r *Registry) Restore(m *MainState) {
	r.main = m
}

// CanonicalBytes returns deterministic serialization for hashing
func (m *MainState) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, m.Owner[:]...)
	buf = appendUint64LE(buf, m.InitialPrice)
	buf = appendUint64LE(buf, m.ScaleFactor)
	buf = appendUint64LE(buf, m.CreatorFeeBps)
	buf = appendUint64LE(buf, m.PlatformFeeBps)
	buf = appendUint64LE(buf, m.NextBetID)
	return buf
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}
