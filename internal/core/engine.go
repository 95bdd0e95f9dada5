package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"BetLedger/internal/clock"
	"BetLedger/internal/event"
	"BetLedger/internal/instruction"
	"BetLedger/internal/ledger"
	fpmath "BetLedger/internal/math"
	"BetLedger/internal/observability"
	"BetLedger/internal/state"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// Engine is the settlement engine. Every instruction runs under one mutex:
// the event hash chain assigns a global total order, so instructions are
// serialized exactly as a single-threaded core would apply them. The lock is
// never held across I/O; persistence sits downstream of the emit channels.
type Engine struct {
	mu sync.Mutex

	sequence    int64
	clk         clock.Clock
	hasher      *StateHasher
	registry    *state.Registry
	pools       *state.PoolManager
	entries     *state.EntryLedger
	history     *state.HistoryBook
	balances    *ledger.BalanceTracker
	validator   *ledger.InvariantValidator
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one applied instruction's downstream package: the envelope
// for the event log, the journal batch, and the digest the hash covered.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
}

// Result is what the submitting caller gets back.
type Result struct {
	// Duplicate is true when the signature was already processed; the
	// instruction was absorbed as a no-op success.
	Duplicate bool

	// Sequence assigned to this instruction (last applied sequence for
	// duplicates).
	Sequence int64

	// Event payload produced by the instruction.
	Event event.Event

	// Envelope as written to the event log.
	Envelope *event.EventEnvelope
}

func NewEngine(
	startSequence int64,
	clk clock.Clock,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *Engine {
	balances := ledger.NewBalanceTracker()

	return &Engine{
		sequence:       startSequence,
		clk:            clk,
		hasher:         NewStateHasher(),
		registry:       state.NewRegistry(),
		pools:          state.NewPoolManager(),
		entries:        state.NewEntryLedger(),
		history:        state.NewHistoryBook(),
		balances:       balances,
		validator:      ledger.NewInvariantValidator(balances),
		idempotency:    NewIdempotencyChecker(1_000_000, dbChecker),
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Execute is the main processing pipeline for one signed instruction.
func (e *Engine) Execute(ins *instruction.SignedInstruction) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	kind := string(ins.Body.Kind())
	signature := ins.IdempotencyKey()

	// Step 1: idempotency check (two-tier). A resubmitted signature is a
	// no-op success, never a second application.
	if e.idempotency.IsDuplicate(kind, signature) {
		if e.metrics != nil {
			e.metrics.CoreInstructionsRejected.WithLabelValues(kind, "duplicate").Inc()
		}
		return &Result{Duplicate: true, Sequence: e.sequence - 1}, nil
	}

	// Step 2: dispatch. Handlers validate every gate before mutating, so a
	// rejection leaves no partial state behind.
	now := e.clk.Now()
	evt, batch, err := e.dispatch(ins, now)
	if err != nil {
		if e.metrics != nil {
			reason := "invalid"
			if code, ok := state.CodeOf(err); ok {
				reason = code.String()
			}
			e.metrics.CoreInstructionsRejected.WithLabelValues(kind, reason).Inc()
		}
		return nil, err
	}

	// Step 3: validate and apply the journal batch
	if batch != nil && len(batch.Journals) > 0 {
		if err := e.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := e.balances.ApplyBatch(batch); err != nil {
			return nil, fmt.Errorf("apply batch failed: %w", err)
		}
		if e.metrics != nil {
			for _, j := range batch.Journals {
				e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	// Step 4: state digest and hash chain
	stateDigest := e.computeStateDigest(evt, batch)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %s payload: %v", evt.EventType(), err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       e.sequence,
		IdempotencyKey: signature,
		EventType:      evt.EventType(),
		BetID:          evt.BetID(),
		Timestamp:      now,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
	}

	// Step 5: post-checks. The vault can never owe more than it holds, and
	// the ledger stays zero-sum. Either failing means corrupted state.
	if err := e.validator.ValidateVaultSolvency(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
	if e.sequence > 0 && e.sequence%1000 == 0 {
		if err := e.validator.ValidateGlobalBalance(); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated at seq %d: %v", e.sequence, err))
		}
	}

	// Step 6: emit. Persistence uses a blocking send (backpressure stalls
	// the engine rather than losing events); projections get a non-blocking
	// send and rebuild from the event log if they fall behind.
	select {
	case e.persistChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.PersistBackpressure.Inc()
		}
		e.persistChan <- output
	}

	select {
	case e.projectionChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.ProjectionDrops.WithLabelValues("all").Inc()
		}
	}

	// Step 7: mark processed and advance
	e.idempotency.MarkProcessed(signature)
	e.sequence++

	e.recordMetrics(kind, evt, start)

	return &Result{
		Sequence: envelope.Sequence,
		Event:    evt,
		Envelope: envelope,
	}, nil
}

func (e *Engine) recordMetrics(kind string, evt event.Event, start time.Time) {
	if e.metrics == nil {
		return
	}

	e.metrics.CoreInstructionsApplied.WithLabelValues(kind).Inc()
	e.metrics.CoreInstructionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	e.metrics.CoreSequence.Set(float64(e.sequence))
	e.metrics.VaultBalance.Set(float64(e.balances.VaultBalance()))
	e.metrics.DedupLRUSize.Set(float64(e.idempotency.lru.Size()))

	switch ev := evt.(type) {
	case *event.PoolCreated:
		e.metrics.PoolsCreated.Inc()
	case *event.DepositMade:
		e.metrics.DepositVolume.Add(float64(ev.Amount))
	case *event.MarketResolved:
		e.metrics.MarketsResolved.Inc()
	case *event.WinningsClaimed:
		e.metrics.ClaimsPaid.Add(float64(ev.Payout))
	}
}

func (e *Engine) dispatch(ins *instruction.SignedInstruction, now int64) (event.Event, *ledger.Batch, error) {
	switch body := ins.Body.(type) {
	case instruction.InitMainState:
		return e.handleInitMainState(ins.Signer)
	case instruction.UpdateMainState:
		return e.handleUpdateMainState(ins.Signer, body)
	case instruction.CreatePool:
		return e.handleCreatePool(ins.Signer, body, now)
	case instruction.UpdatePool:
		return e.handleUpdatePool(ins.Signer, body)
	case instruction.CreateEntry:
		return e.handleCreateEntry(ins.Signer, body, now)
	case instruction.Deposit:
		return e.handleDeposit(ins, body, now)
	case instruction.SetWinner:
		return e.handleSetWinner(ins, body, now)
	case instruction.Claim:
		return e.handleClaim(ins, body, now)
	case instruction.ClaimCreatorFee:
		return e.handleClaimCreatorFee(ins, body, now)
	default:
		return nil, nil, fmt.Errorf("unknown instruction type: %T", ins.Body)
	}
}

func (e *Engine) handleInitMainState(signer solana.PublicKey) (event.Event, *ledger.Batch, error) {
	main, err := e.registry.Initialize(signer)
	if err != nil {
		return nil, nil, err
	}

	return &event.MainStateInitialized{
		Owner:          main.Owner,
		InitialPrice:   main.InitialPrice,
		ScaleFactor:    main.ScaleFactor,
		CreatorFeeBps:  main.CreatorFeeBps,
		PlatformFeeBps: main.PlatformFeeBps,
	}, nil, nil
}

func (e *Engine) handleUpdateMainState(signer solana.PublicKey, body instruction.UpdateMainState) (event.Event, *ledger.Batch, error) {
	main, err := e.registry.Main()
	if err != nil {
		return nil, nil, err
	}
	if signer != main.Owner {
		return nil, nil, state.ErrUnauthorized
	}

	main.Owner = body.Owner
	main.InitialPrice = body.InitialPrice
	main.ScaleFactor = body.ScaleFactor
	main.CreatorFeeBps = body.CreatorFeeBps
	main.PlatformFeeBps = body.PlatformFeeBps

	return &event.MainStateUpdated{
		Owner:          main.Owner,
		InitialPrice:   main.InitialPrice,
		ScaleFactor:    main.ScaleFactor,
		CreatorFeeBps:  main.CreatorFeeBps,
		PlatformFeeBps: main.PlatformFeeBps,
	}, nil, nil
}

func (e *Engine) handleCreatePool(signer solana.PublicKey, body instruction.CreatePool, now int64) (event.Event, *ledger.Batch, error) {
	if !e.registry.IsInitialized() {
		return nil, nil, state.ErrUninitialized
	}

	// Length checks come before emptiness checks
	if len(body.Title) > state.MaxTitleLen {
		return nil, nil, state.ErrTitleTooLong
	}
	if len(body.Description) > state.MaxDescriptionLen {
		return nil, nil, state.ErrDescriptionTooLong
	}
	if body.Title == "" {
		return nil, nil, state.ErrTitleEmpty
	}
	if body.Description == "" {
		return nil, nil, state.ErrDescriptionEmpty
	}

	// The counter advances only after all gates pass: bet ids stay dense
	betID := e.registry.AllocateBetID()

	pool := &state.Pool{
		BetID:            betID,
		Creator:          signer,
		Referee:          body.Referee,
		ShareUUID:        uuid.New(),
		Title:            body.Title,
		Description:      body.Description,
		CreatedTimestamp: now,
		EndTimestamp:     body.EndTimestamp,
	}
	e.pools.SetPool(pool)
	e.history.Create(betID, now)

	return &event.PoolCreated{
		Bet:              betID,
		Creator:          pool.Creator,
		Referee:          pool.Referee,
		ShareUUID:        pool.ShareUUID,
		Title:            pool.Title,
		Description:      pool.Description,
		EndTimestamp:     pool.EndTimestamp,
		CreatedTimestamp: pool.CreatedTimestamp,
	}, nil, nil
}

func (e *Engine) handleUpdatePool(signer solana.PublicKey, body instruction.UpdatePool) (event.Event, *ledger.Batch, error) {
	main, err := e.registry.Main()
	if err != nil {
		return nil, nil, err
	}
	pool, err := e.pools.GetPool(body.BetID)
	if err != nil {
		return nil, nil, err
	}

	if signer != pool.Creator && signer != main.Owner {
		return nil, nil, state.ErrUnauthorized
	}
	if pool.Complete {
		return nil, nil, state.ErrBetComplete
	}

	if body.Title != nil {
		if len(*body.Title) > state.MaxTitleLen {
			return nil, nil, state.ErrTitleTooLong
		}
		if *body.Title == "" {
			return nil, nil, state.ErrTitleEmpty
		}
	}
	if body.Description != nil {
		if len(*body.Description) > state.MaxDescriptionLen {
			return nil, nil, state.ErrDescriptionTooLong
		}
		if *body.Description == "" {
			return nil, nil, state.ErrDescriptionEmpty
		}
	}

	if body.Title != nil {
		pool.Title = *body.Title
	}
	if body.Description != nil {
		pool.Description = *body.Description
	}
	if body.EndTimestamp != nil {
		pool.EndTimestamp = *body.EndTimestamp
	}
	if body.Referee != nil {
		pool.Referee = *body.Referee
	}

	return &event.PoolUpdated{
		Bet:          body.BetID,
		Updater:      signer,
		Title:        body.Title,
		Description:  body.Description,
		EndTimestamp: body.EndTimestamp,
		Referee:      body.Referee,
	}, nil, nil
}

func (e *Engine) handleCreateEntry(signer solana.PublicKey, body instruction.CreateEntry, now int64) (event.Event, *ledger.Batch, error) {
	if !e.registry.IsInitialized() {
		return nil, nil, state.ErrUninitialized
	}
	pool, err := e.pools.GetPool(body.BetID)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.CheckOpenForDeposits(now); err != nil {
		return nil, nil, err
	}

	// Idempotent: an existing entry is left untouched
	e.entries.GetOrCreateEntry(body.BetID, signer)

	return &event.EntryCreated{
		Bet:  body.BetID,
		User: signer,
	}, nil, nil
}

func (e *Engine) handleDeposit(ins *instruction.SignedInstruction, body instruction.Deposit, now int64) (event.Event, *ledger.Batch, error) {
	if !e.registry.IsInitialized() {
		return nil, nil, state.ErrUninitialized
	}
	pool, err := e.pools.GetPool(body.BetID)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.CheckOpenForDeposits(now); err != nil {
		return nil, nil, err
	}
	if body.Amount == 0 {
		return nil, nil, state.ErrInvalidBet
	}

	// Deposits require a prior createEntry
	entry := e.entries.GetEntry(body.BetID, ins.Signer)
	if entry == nil {
		return nil, nil, state.ErrInvalidBet
	}

	// Side-lock: once staked, the side cannot change
	if entry.HasStake() && entry.IsYes != body.IsYes {
		return nil, nil, state.ErrInvalidBet
	}

	quote, err := fpmath.QuoteDeposit(pool.YesReserve, pool.NoReserve, body.Amount, body.IsYes)
	if err != nil {
		return nil, nil, state.ErrMathOverflow
	}

	newTokens, err := fpmath.AddU64(entry.TokenBalance, quote.TokenAmount)
	if err != nil {
		return nil, nil, state.ErrMathOverflow
	}
	newPrincipal, err := fpmath.AddU64(entry.DepositAmount, body.Amount)
	if err != nil {
		return nil, nil, state.ErrMathOverflow
	}
	sideSupply := pool.YesSupply
	if !body.IsYes {
		sideSupply = pool.NoSupply
	}
	newSupply, err := fpmath.AddU64(sideSupply, quote.TokenAmount)
	if err != nil {
		return nil, nil, state.ErrMathOverflow
	}
	hist, err := e.history.GetHistory(body.BetID)
	if err != nil {
		return nil, nil, err
	}

	// All gates passed; mutate atomically
	pool.YesReserve = quote.NewYesReserve
	pool.NoReserve = quote.NewNoReserve
	if body.IsYes {
		pool.YesSupply = newSupply
	} else {
		pool.NoSupply = newSupply
	}
	entry.IsYes = body.IsYes
	entry.TokenBalance = newTokens
	entry.DepositAmount = newPrincipal

	hist.Append(state.ReservePoint{
		Timestamp: now,
		YesAmount: pool.YesReserve,
		NoAmount:  pool.NoReserve,
	})

	batch := ledger.NewBatch(ins.IdempotencyKey(), e.sequence, now)
	batch.AddDeposit(body.BetID, ins.Signer, body.Amount)

	return &event.DepositMade{
		Bet:           body.BetID,
		User:          ins.Signer,
		IsYes:         body.IsYes,
		Amount:        body.Amount,
		TokenAmount:   quote.TokenAmount,
		YesPrice:      quote.YesPrice,
		NoPrice:       quote.NoPrice,
		NewYesReserve: quote.NewYesReserve,
		NewNoReserve:  quote.NewNoReserve,
		Timestamp:     now,
	}, batch, nil
}

func (e *Engine) handleSetWinner(ins *instruction.SignedInstruction, body instruction.SetWinner, now int64) (event.Event, *ledger.Batch, error) {
	main, err := e.registry.Main()
	if err != nil {
		return nil, nil, err
	}
	pool, err := e.pools.GetPool(body.BetID)
	if err != nil {
		return nil, nil, err
	}

	// Gate order: completion, then authority, then the time gate
	if pool.Complete {
		return nil, nil, state.ErrBetComplete
	}
	if ins.Signer != pool.Referee && ins.Signer != main.Owner {
		return nil, nil, state.ErrUnauthorized
	}
	if err := pool.CheckResolvable(now); err != nil {
		return nil, nil, err
	}

	// Fees are snapshotted from the losing reserve at resolution. Later fee
	// parameter changes never touch an already resolved pool.
	pool.Complete = true
	pool.WinnerIsYes = body.IsYes
	pool.CreatorFee, pool.PlatformFee = fpmath.ResolutionFees(
		pool.LosingReserve(), main.CreatorFeeBps, main.PlatformFeeBps)

	// The platform fee transfers automatically at resolution
	var batch *ledger.Batch
	if pool.PlatformFee > 0 {
		batch = ledger.NewBatch(ins.IdempotencyKey(), e.sequence, now)
		batch.AddPlatformFee(body.BetID, main.Owner, pool.PlatformFee)
	}
	pool.PlatformFeeClaimed = true

	return &event.MarketResolved{
		Bet:         body.BetID,
		Resolver:    ins.Signer,
		WinnerIsYes: pool.WinnerIsYes,
		CreatorFee:  pool.CreatorFee,
		PlatformFee: pool.PlatformFee,
		Timestamp:   now,
	}, batch, nil
}

func (e *Engine) handleClaim(ins *instruction.SignedInstruction, body instruction.Claim, now int64) (event.Event, *ledger.Batch, error) {
	if !e.registry.IsInitialized() {
		return nil, nil, state.ErrUninitialized
	}
	pool, err := e.pools.GetPool(body.BetID)
	if err != nil {
		return nil, nil, err
	}
	entry := e.entries.GetEntry(body.BetID, ins.Signer)
	if entry == nil {
		return nil, nil, state.ErrInvalidBet
	}

	if entry.IsClaimed {
		return nil, nil, state.ErrAlreadyClaimed
	}
	if pool.HasDeadline() && now <= pool.EndTimestamp {
		return nil, nil, state.ErrBetNotEnded
	}
	if !pool.Complete {
		return nil, nil, state.ErrBetNotComplete
	}
	if entry.IsYes != pool.WinnerIsYes {
		return nil, nil, state.ErrWrongBet
	}
	winningSupply := pool.WinningSupply()
	if winningSupply == 0 {
		return nil, nil, state.ErrMathOverflow
	}
	if entry.TokenBalance == 0 {
		return nil, nil, state.ErrWrongBet
	}

	payout, err := fpmath.ClaimPayout(
		pool.YesReserve, pool.NoReserve,
		pool.WinnerIsYes,
		pool.CreatorFee, pool.PlatformFee,
		entry.TokenBalance, entry.DepositAmount, winningSupply,
	)
	if err != nil {
		return nil, nil, state.ErrMathOverflow
	}

	entry.IsClaimed = true

	batch := ledger.NewBatch(ins.IdempotencyKey(), e.sequence, now)
	batch.AddClaimPayout(body.BetID, ins.Signer, payout)

	return &event.WinningsClaimed{
		Bet:    body.BetID,
		User:   ins.Signer,
		Payout: payout,
	}, batch, nil
}

func (e *Engine) handleClaimCreatorFee(ins *instruction.SignedInstruction, body instruction.ClaimCreatorFee, now int64) (event.Event, *ledger.Batch, error) {
	if !e.registry.IsInitialized() {
		return nil, nil, state.ErrUninitialized
	}
	pool, err := e.pools.GetPool(body.BetID)
	if err != nil {
		return nil, nil, err
	}

	if ins.Signer != pool.Creator {
		return nil, nil, state.ErrUnauthorized
	}
	if pool.CreatorFeeClaimed {
		return nil, nil, state.ErrAlreadyClaimed
	}
	if pool.HasDeadline() && now <= pool.EndTimestamp {
		return nil, nil, state.ErrBetNotEnded
	}
	if !pool.Complete {
		return nil, nil, state.ErrBetNotComplete
	}

	pool.CreatorFeeClaimed = true

	var batch *ledger.Batch
	if pool.CreatorFee > 0 {
		batch = ledger.NewBatch(ins.IdempotencyKey(), e.sequence, now)
		batch.AddCreatorFee(body.BetID, pool.Creator, pool.CreatorFee)
	}

	return &event.CreatorFeeClaimed{
		Bet:     body.BetID,
		Creator: pool.Creator,
		Amount:  pool.CreatorFee,
	}, batch, nil
}

// computeStateDigest builds the canonical bytes the state hash covers: the
// post-instruction balances of every touched account, followed by the
// canonical serialization of every entity the event mutated.
func (e *Engine) computeStateDigest(evt event.Event, batch *ledger.Batch) []byte {
	digest := make([]byte, 0, 256)

	if batch != nil {
		affected := make(map[ledger.AccountKey]bool)
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}

		accounts := make([]ledger.AccountKey, 0, len(affected))
		for key := range affected {
			accounts = append(accounts, key)
		}
		sort.Slice(accounts, func(i, j int) bool {
			return accounts[i].AccountPath() < accounts[j].AccountPath()
		})

		for _, key := range accounts {
			path := key.AccountPath()
			digest = append(digest, byte(len(path)))
			digest = append(digest, []byte(path)...)
			digest = appendInt64LE(digest, e.balances.GetBalance(key))
		}
	}

	switch ev := evt.(type) {
	case *event.MainStateInitialized, *event.MainStateUpdated:
		digest = e.appendMainDigest(digest)
	case *event.PoolCreated:
		// Creation also advances the registry's bet counter
		digest = e.appendMainDigest(digest)
		digest = e.appendPoolDigest(digest, ev.Bet)
		digest = e.appendHistoryDigest(digest, ev.Bet)
	case *event.PoolUpdated:
		digest = e.appendPoolDigest(digest, ev.Bet)
	case *event.EntryCreated:
		digest = e.appendEntryDigest(digest, ev.Bet, ev.User)
	case *event.DepositMade:
		digest = e.appendPoolDigest(digest, ev.Bet)
		digest = e.appendEntryDigest(digest, ev.Bet, ev.User)
		digest = e.appendHistoryDigest(digest, ev.Bet)
	case *event.MarketResolved:
		digest = e.appendPoolDigest(digest, ev.Bet)
	case *event.WinningsClaimed:
		digest = e.appendEntryDigest(digest, ev.Bet, ev.User)
	case *event.CreatorFeeClaimed:
		digest = e.appendPoolDigest(digest, ev.Bet)
	}

	return digest
}

func (e *Engine) appendMainDigest(digest []byte) []byte {
	main, err := e.registry.Main()
	if err != nil {
		return digest
	}
	return append(digest, main.CanonicalBytes()...)
}

func (e *Engine) appendPoolDigest(digest []byte, betID uint64) []byte {
	pool, err := e.pools.GetPool(betID)
	if err != nil {
		return digest
	}
	return append(digest, pool.CanonicalBytes()...)
}

func (e *Engine) appendEntryDigest(digest []byte, betID uint64, user solana.PublicKey) []byte {
	entry := e.entries.GetEntry(betID, user)
	if entry == nil {
		return digest
	}
	return append(digest, entry.CanonicalBytes()...)
}

func (e *Engine) appendHistoryDigest(digest []byte, betID uint64) []byte {
	hist, err := e.history.GetHistory(betID)
	if err != nil {
		return digest
	}
	return append(digest, hist.CanonicalBytes()...)
}

func appendInt64LE(buf []byte, v int64) []byte {
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

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Main            *state.MainState
	Pools           []*state.Pool
	Entries         []*state.Entry
	Histories       []*state.History
	IdempotencyKeys []string
}

// RestoreFromSnapshot loads in-memory state from a snapshot. On warm restart
// the latest snapshot is loaded first, then the event log is replayed from
// the snapshot sequence.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = snap.Sequence + 1 // next sequence to assign
	e.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		e.balances.Restore(key, balance)
	}

	if snap.Main != nil {
		e.registry.Restore(snap.Main)
	}
	for _, pool := range snap.Pools {
		e.pools.SetPool(pool)
	}
	for _, entry := range snap.Entries {
		e.entries.SetEntry(entry)
	}
	for _, h := range snap.Histories {
		e.history.SetHistory(h)
	}
	e.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (e *Engine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next sequence the engine will assign.
func (e *Engine) GetSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
/// Everything is deep-copied: the snapshot worker serializes outside the
// engine lock while instructions keep mutating the originals.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	var main *state.MainState
	if m, err := e.registry.Main(); err == nil {
		copied := *m
		main = &copied
	}

	livePools := e.pools.GetAllPools()
	pools := make([]*state.Pool, 0, len(livePools))
	for _, p := range livePools {
		cp := *p
		pools = append(pools, &cp)
	}

	liveEntries := e.entries.GetAllEntries()
	entries := make([]*state.Entry, 0, len(liveEntries))
	for _, en := range liveEntries {
		cp := *en
		entries = append(entries, &cp)
	}

	liveHistories := e.history.GetAllHistories()
	histories := make([]*state.History, 0, len(liveHistories))
	for _, h := range liveHistories {
		histories = append(histories, &state.History{
			BetID:  h.BetID,
			Points: append([]state.ReservePoint(nil), h.Points...),
		})
	}

	return &SnapshotState{
		Sequence:        e.sequence - 1, // last processed sequence
		StateHash:       e.hasher.GetPrevHash(),
		Balances:        e.balances.Snapshot(),
		Main:            main,
		Pools:           pools,
		Entries:         entries,
		Histories:       histories,
		IdempotencyKeys: e.idempotency.lru.GetAllKeys(),
	}
}
