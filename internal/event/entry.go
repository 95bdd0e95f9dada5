package event

import "github.com/gagliardetto/solana-go"

// EntryCreated records a user's first registration with a pool. Creating an
// entry that already exists is absorbed upstream, so replaying this event is
// always a fresh insert or a no-op.
type EntryCreated struct {
	Bet  uint64           `json:"betId"`
	User solana.PublicKey `json:"user"`
}

func (e *EntryCreated) EventType() EventType {
	return EventTypeEntryCreated
}

func (e *EntryCreated) BetID() *uint64 {
	return &e.Bet
}

// DepositMade records one priced deposit. The payload carries the quoted
// token amount and the post-deposit reserves so replay never re-runs the
// pricing engine.
type DepositMade struct {
	Bet           uint64           `json:"betId"`
	User          solana.PublicKey `json:"user"`
	IsYes         bool             `json:"isYes"`
	Amount        uint64           `json:"amount"`
	TokenAmount   uint64           `json:"tokenAmount"`
	YesPrice      uint64           `json:"yesPrice"`
	NoPrice       uint64           `json:"noPrice"`
	NewYesReserve uint64           `json:"newYesReserve"`
	NewNoReserve  uint64           `json:"newNoReserve"`
	Timestamp     int64            `json:"timestamp"`
}

func (e *DepositMade) EventType() EventType {
	return EventTypeDepositMade
}

func (e *DepositMade) BetID() *uint64 {
	return &e.Bet
}
