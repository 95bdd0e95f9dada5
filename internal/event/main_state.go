package event

import "github.com/gagliardetto/solana-go"

// MainStateInitialized records the one-time platform bootstrap.
type MainStateInitialized struct {
	Owner          solana.PublicKey `json:"owner"`
	InitialPrice   uint64           `json:"initialPrice"`
	ScaleFactor    uint64           `json:"scaleFactor"`
	CreatorFeeBps  uint64           `json:"creatorFeeBps"`
	PlatformFeeBps uint64           `json:"platformFeeBps"`
}

func (e *MainStateInitialized) EventType() EventType {
	return EventTypeMainStateInitialized
}

func (e *MainStateInitialized) BetID() *uint64 {
	return nil // Registry event
}

// MainStateUpdated records a full owner-gated parameter update.
type MainStateUpdated struct {
	Owner          solana.PublicKey `json:"owner"`
	InitialPrice   uint64           `json:"initialPrice"`
	ScaleFactor    uint64           `json:"scaleFactor"`
	CreatorFeeBps  uint64           `json:"creatorFeeBps"`
	PlatformFeeBps uint64           `json:"platformFeeBps"`
}

func (e *MainStateUpdated) EventType() EventType {
	return EventTypeMainStateUpdated
}

func (e *MainStateUpdated) BetID() *uint64 {
	return nil
}
