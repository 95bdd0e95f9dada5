package query

// PoolResponse is one market for API queries. Prices are derived from the
// projected reserves at query time; every response carries the projection
// watermark so clients can reason about freshness.
type PoolResponse struct {
	BetID              uint64 `json:"betId"`
	PoolAddress        string `json:"poolAddress"`
	Creator            string `json:"creator"`
	Referee            string `json:"referee"`
	ShareUUID          string `json:"shareUuid"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	YesReserve         uint64 `json:"yesReserve"`
	NoReserve          uint64 `json:"noReserve"`
	YesSupply          uint64 `json:"yesSupply"`
	NoSupply           uint64 `json:"noSupply"`
	YesPrice           uint64 `json:"yesPrice"`
	NoPrice            uint64 `json:"noPrice"`
	CreatedTimestamp   int64  `json:"createdTimestamp"`
	EndTimestamp       int64  `json:"endTimestamp"`
	Status             string `json:"status"`
	Complete           bool   `json:"complete"`
	WinnerIsYes        bool   `json:"winnerIsYes"`
	CreatorFee         uint64 `json:"creatorFee"`
	PlatformFee        uint64 `json:"platformFee"`
	CreatorFeeClaimed  bool   `json:"creatorFeeClaimed"`
	PlatformFeeClaimed bool   `json:"platformFeeClaimed"`
	AsOfSequence       int64  `json:"asOfSequence"`
}

// EntryResponse is one user's stake in one market.
type EntryResponse struct {
	BetID         uint64 `json:"betId"`
	User          string `json:"user"`
	IsYes         bool   `json:"isYes"`
	TokenBalance  uint64 `json:"tokenBalance"`
	DepositAmount uint64 `json:"depositAmount"`
	IsClaimed     bool   `json:"isClaimed"`
	AsOfSequence  int64  `json:"asOfSequence"`
}

// HistoryPoint is one reserve snapshot on a pool's chart.
type HistoryPoint struct {
	Timestamp int64  `json:"timestamp"`
	YesAmount uint64 `json:"yesAmount"`
	NoAmount  uint64 `json:"noAmount"`
}

// HistoryResponse is the full reserve series for one pool.
type HistoryResponse struct {
	BetID        uint64         `json:"betId"`
	Points       []HistoryPoint `json:"points"`
	AsOfSequence int64          `json:"asOfSequence"`
}

// JournalHistoryEntry is one lamport movement for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journalId"`
	BatchID       string `json:"batchId"`
	EventRef      string `json:"eventRef"`
	Sequence      int64  `json:"sequence"`
	BetID         uint64 `json:"betId"`
	DebitAccount  string `json:"debitAccount"`
	CreditAccount string `json:"creditAccount"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journalType"`
	Timestamp     int64  `json:"timestamp"`
}

// BalanceResponse is one tracked ledger account. Wallets are boundary
// accounts, so a wallet balance is typically negative (net lamports paid in).
type BalanceResponse struct {
	AccountPath  string `json:"accountPath"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"asOfSequence"`
}

// PoolFilter narrows ListPools. Zero values mean no filtering.
type PoolFilter struct {
	Status  string // "active", "ended", or "resolved"
	Creator string
	Limit   int
	// Cursor: return pools with bet_id strictly greater than this.
	AfterBetID *uint64
}

// IntegrityReport is the result of an integrity verification sweep over the
// persisted event log and balances.
type IntegrityReport struct {
	IsHealthy       bool    `json:"isHealthy"`
	HashChainBreaks []int64 `json:"hashChainBreaks,omitempty"`
	GlobalImbalance int64   `json:"globalImbalance"`
	VaultBalance    int64   `json:"vaultBalance"`
}
