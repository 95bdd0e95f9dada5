package event

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMainStateInitialized
	EventTypeMainStateUpdated
	EventTypePoolCreated
	EventTypePoolUpdated
	EventTypeEntryCreated
	EventTypeDepositMade
	EventTypeMarketResolved
	EventTypeWinningsClaimed
	EventTypeCreatorFeeClaimed
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Submitting signature, doubles as the idempotency key
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Pool context (nullable for registry events)
	BetID *uint64

	// Clock-oracle timestamp at execution (epoch seconds, NOT wall-clock)
	Timestamp int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement. Payloads carry
// every value needed to re-apply the event during replay without running
// validation or pricing again.
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// BetID returns the pool context (nil for registry events)
	BetID() *uint64
}

func (et EventType) String() string {
	switch et {
	case EventTypeMainStateInitialized:
		return "MainStateInitialized"
	case EventTypeMainStateUpdated:
		return "MainStateUpdated"
	case EventTypePoolCreated:
		return "PoolCreated"
	case EventTypePoolUpdated:
		return "PoolUpdated"
	case EventTypeEntryCreated:
		return "EntryCreated"
	case EventTypeDepositMade:
		return "DepositMade"
	case EventTypeMarketResolved:
		return "MarketResolved"
	case EventTypeWinningsClaimed:
		return "WinningsClaimed"
	case EventTypeCreatorFeeClaimed:
		return "CreatorFeeClaimed"
	default:
		return "Unknown"
	}
}

// ParseEventType maps a stored event type name back to its discriminator.
func ParseEventType(s string) EventType {
	switch s {
	case "MainStateInitialized":
		return EventTypeMainStateInitialized
	case "MainStateUpdated":
		return EventTypeMainStateUpdated
	case "PoolCreated":
		return EventTypePoolCreated
	case "PoolUpdated":
		return EventTypePoolUpdated
	case "EntryCreated":
		return EventTypeEntryCreated
	case "DepositMade":
		return EventTypeDepositMade
	case "MarketResolved":
		return EventTypeMarketResolved
	case "WinningsClaimed":
		return EventTypeWinningsClaimed
	case "CreatorFeeClaimed":
		return EventTypeCreatorFeeClaimed
	default:
		return EventTypeUnknown
	}
}

// Subject returns the NATS subject fragment for this event type.
func (et EventType) Subject() string {
	switch et {
	case EventTypeMainStateInitialized:
		return "main_state_initialized"
	case EventTypeMainStateUpdated:
		return "main_state_updated"
	case EventTypePoolCreated:
		return "pool_created"
	case EventTypePoolUpdated:
		return "pool_updated"
	case EventTypeEntryCreated:
		return "entry_created"
	case EventTypeDepositMade:
		return "deposit_made"
	case EventTypeMarketResolved:
		return "market_resolved"
	case EventTypeWinningsClaimed:
		return "winnings_claimed"
	case EventTypeCreatorFeeClaimed:
		return "creator_fee_claimed"
	default:
		return "unknown"
	}
}
