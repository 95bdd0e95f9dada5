package event

import (
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// PoolCreated records a new market with its assigned bet id and share uuid.
type PoolCreated struct {
	Bet              uint64           `json:"betId"`
	Creator          solana.PublicKey `json:"creator"`
	Referee          solana.PublicKey `json:"referee"`
	ShareUUID        uuid.UUID        `json:"shareUuid"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	EndTimestamp     int64            `json:"endTimestamp"`
	CreatedTimestamp int64            `json:"createdTimestamp"`
}

func (e *PoolCreated) EventType() EventType {
	return EventTypePoolCreated
}

func (e *PoolCreated) BetID() *uint64 {
	return &e.Bet
}

// PoolUpdated records a partial metadata update. Nil fields were untouched.
type PoolUpdated struct {
	Bet          uint64            `json:"betId"`
	Updater      solana.PublicKey  `json:"updater"`
	Title        *string           `json:"title,omitempty"`
	Description  *string           `json:"description,omitempty"`
	EndTimestamp *int64            `json:"endTimestamp,omitempty"`
	Referee      *solana.PublicKey `json:"referee,omitempty"`
}

func (e *PoolUpdated) EventType() EventType {
	return EventTypePoolUpdated
}

func (e *PoolUpdated) BetID() *uint64 {
	return &e.Bet
}
