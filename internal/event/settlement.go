package event

import "github.com/gagliardetto/solana-go"

// MarketResolved records the winner declaration, the fee snapshot taken from
// the losing reserve, and the automatic platform fee transfer.
type MarketResolved struct {
	Bet         uint64           `json:"betId"`
	Resolver    solana.PublicKey `json:"resolver"`
	WinnerIsYes bool             `json:"winnerIsYes"`
	CreatorFee  uint64           `json:"creatorFee"`
	PlatformFee uint64           `json:"platformFee"`
	Timestamp   int64            `json:"timestamp"`
}

func (e *MarketResolved) EventType() EventType {
	return EventTypeMarketResolved
}

func (e *MarketResolved) BetID() *uint64 {
	return &e.Bet
}

// WinningsClaimed records one winner's payout leaving the vault.
type WinningsClaimed struct {
	Bet    uint64           `json:"betId"`
	User   solana.PublicKey `json:"user"`
	Payout uint64           `json:"payout"`
}

func (e *WinningsClaimed) EventType() EventType {
	return EventTypeWinningsClaimed
}

func (e *WinningsClaimed) BetID() *uint64 {
	return &e.Bet
}

// CreatorFeeClaimed records the creator collecting their resolution fee.
type CreatorFeeClaimed struct {
	Bet     uint64           `json:"betId"`
	Creator solana.PublicKey `json:"creator"`
	Amount  uint64           `json:"amount"`
}

func (e *CreatorFeeClaimed) EventType() EventType {
	return EventTypeCreatorFeeClaimed
}

func (e *CreatorFeeClaimed) BetID() *uint64 {
	return &e.Bet
}
