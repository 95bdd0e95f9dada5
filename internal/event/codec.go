package event

import (
	"encoding/json"
	"fmt"
)

// Decode unmarshals a stored payload into its typed event. Used by replay
// and by the projection worker, which both consume the log after the fact.
func Decode(et EventType, payload []byte) (Event, error) {
	var evt Event

	switch et {
	case EventTypeMainStateInitialized:
		evt = &MainStateInitialized{}
	case EventTypeMainStateUpdated:
		evt = &MainStateUpdated{}
	case EventTypePoolCreated:
		evt = &PoolCreated{}
	case EventTypePoolUpdated:
		evt = &PoolUpdated{}
	case EventTypeEntryCreated:
		evt = &EntryCreated{}
	case EventTypeDepositMade:
		evt = &DepositMade{}
	case EventTypeMarketResolved:
		evt = &MarketResolved{}
	case EventTypeWinningsClaimed:
		evt = &WinningsClaimed{}
	case EventTypeCreatorFeeClaimed:
		evt = &CreatorFeeClaimed{}
	default:
		return nil, fmt.Errorf("unknown event type in log: %d", et)
	}

	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", et, err)
	}
	return evt, nil
}
