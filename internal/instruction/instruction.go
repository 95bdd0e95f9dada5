// Package instruction defines the signed instruction envelope accepted by
// the settlement engine, over HTTP and NATS alike.
package instruction

import (
	"github.com/gagliardetto/solana-go"
)

// Kind discriminates instruction bodies on the wire.
type Kind string

const (
	KindInitMainState   Kind = "initMainState"
	KindUpdateMainState Kind = "updateMainState"
	KindCreatePool      Kind = "createPool"
	KindUpdatePool      Kind = "updatePool"
	KindCreateEntry     Kind = "createEntry"
	KindDeposit         Kind = "deposit"
	KindSetWinner       Kind = "setWinner"
	KindClaim           Kind = "claim"
	KindClaimCreatorFee Kind = "claimCreatorFee"
)

// Instruction is implemented by all instruction bodies.
type Instruction interface {
	Kind() Kind
}

// SignedInstruction is a verified instruction ready for the engine. The
// signature doubles as the idempotency key: resubmitting the same signed
// instruction is a no-op success.
type SignedInstruction struct {
	Signer    solana.PublicKey
	Signature solana.Signature
	Body      Instruction
}

// IdempotencyKey returns the dedup key for this submission.
func (s *SignedInstruction) IdempotencyKey() string {
	return s.Signature.String()
}

// InitMainState bootstraps the platform registry. The signer becomes owner.
type InitMainState struct{}

func (InitMainState) Kind() Kind { return KindInitMainState }

// UpdateMainState replaces all registry parameters. Owner-gated.
type UpdateMainState struct {
	Owner          solana.PublicKey `json:"owner"`
	InitialPrice   uint64           `json:"initial_price"`
	ScaleFactor    uint64           `json:"scale_factor"`
	CreatorFeeBps  uint64           `json:"creator_fee_percent"`
	PlatformFeeBps uint64           `json:"platform_fee_percent"`
}

func (UpdateMainState) Kind() Kind { return KindUpdateMainState }

// CreatePool opens a new binary market. The signer becomes creator.
type CreatePool struct {
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	EndTimestamp int64            `json:"end_timestamp"`
	Referee      solana.PublicKey `json:"referee"`
}

func (CreatePool) Kind() Kind { return KindCreatePool }

// UpdatePool patches pool metadata. Nil fields are left untouched.
// Creator-or-owner gated; rejected once the pool is complete.
type UpdatePool struct {
	BetID        uint64            `json:"bet_id"`
	Title        *string           `json:"title,omitempty"`
	Description  *string           `json:"description,omitempty"`
	EndTimestamp *int64            `json:"end_timestamp,omitempty"`
	Referee      *solana.PublicKey `json:"referee,omitempty"`
}

func (UpdatePool) Kind() Kind { return KindUpdatePool }

// CreateEntry registers the signer with a pool ahead of a first deposit.
type CreateEntry struct {
	BetID uint64 `json:"bet_id"`
}

func (CreateEntry) Kind() Kind { return KindCreateEntry }

// Deposit stakes lamports on one side of a pool.
type Deposit struct {
	BetID  uint64 `json:"bet_id"`
	IsYes  bool   `json:"is_yes"`
	Amount uint64 `json:"amount"`
}

func (Deposit) Kind() Kind { return KindDeposit }

// SetWinner resolves a pool. Referee-or-owner gated.
type SetWinner struct {
	BetID uint64 `json:"bet_id"`
	IsYes bool   `json:"is_yes"`
}

func (SetWinner) Kind() Kind { return KindSetWinner }

// Claim pays out the signer's winning entry.
type Claim struct {
	BetID uint64 `json:"bet_id"`
}

func (Claim) Kind() Kind { return KindClaim }

// ClaimCreatorFee pays the resolution fee to the pool creator.
type ClaimCreatorFee struct {
	BetID uint64 `json:"bet_id"`
}

func (ClaimCreatorFee) Kind() Kind { return KindClaimCreatorFee }
