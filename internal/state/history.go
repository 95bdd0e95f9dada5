package state

// ReservePoint is one reserve snapshot on a pool's price chart.
type ReservePoint struct {
	Timestamp int64
	YesAmount uint64
	NoAmount  uint64
}

// History is the append-only reserve series for one pool. It starts with a
// single zero point at creation and gains exactly one point per deposit.
// Points are never mutated or removed.
type History struct {
	BetID  uint64
	Points []ReservePoint
}

// Append records a new reserve point.
func (h *History) Append(p ReservePoint) {
	h.Points = append(h.Points, p)
}

// Latest returns the most recent point, or a zero point for an empty
// series. Histories are never empty once created.
func (h *History) Latest() ReservePoint {
	if len(h.Points) == 0 {
		return ReservePoint{}
	}
	return h.Points[len(h.Points)-1]
}

// CanonicalBytes returns deterministic serialization for hashing
func (h *History) CanonicalBytes() []byte {
	buf := make([]byte, 0, 16+24*len(h.Points))
	buf = appendUint64LE(buf, h.BetID)
	buf = appendUint64LE(buf, uint64(len(h.Points)))
	for _, p := range h.Points {
		buf = appendInt64LE(buf, p.Timestamp)
		buf = appendUint64LE(buf, p.YesAmount)
		buf = appendUint64LE(buf, p.NoAmount)
	}
	return buf
}

// HistoryBook manages per-pool reserve histories.
type HistoryBook struct {
	histories map[uint64]*History
}

func NewHistoryBook() *HistoryBook {
	return &HistoryBook{histories: make(map[uint64]*History)}
}

// Create initializes a pool's history with the zero point.
func (hb *HistoryBook) Create(betID uint64, createdTimestamp int64) *History {
	h := &History{
		BetID:  betID,
		Points: []ReservePoint{{Timestamp: createdTimestamp}},
	}
	hb.histories[betID] = h
	return h
}

// GetHistory returns the pool's history, or ErrInvalidBet for an unknown id.
func (hb *HistoryBook) GetHistory(betID uint64) (*History, error) {
	h, ok := hb.histories[betID]
	if !ok {
		return nil, ErrInvalidBet
	}
	return h, nil
}

// SetHistory directly sets a history (used for snapshot restore)
func (hb *HistoryBook) SetHistory(h *History) {
	hb.histories[h.BetID] = h
}

// GetAllHistories returns all histories (for snapshot creation)
func (hb *HistoryBook) GetAllHistories() []*History {
	result := make([]*History, 0, len(hb.histories))
	for _, h := range hb.histories {
		result = append(result, h)
	}
	return result
}
