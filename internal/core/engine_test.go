package core_test

import (
	"encoding/json"
	"errors"
	"testing"

	"BetLedger/internal/core"
	"BetLedger/internal/event"
	"BetLedger/internal/instruction"
	"BetLedger/internal/state"
	"BetLedger/internal/testutil"

	"github.com/gagliardetto/solana-go"
)

// ============================================================
// Harness
// ============================================================

type harness struct {
	t       *testing.T
	engine  *core.Engine
	clock   *testutil.ManualClock
	persist chan core.CoreOutput
	owner   solana.PrivateKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := &testutil.ManualClock{Unix: 1_700_000_000}
	persist := make(chan core.CoreOutput, 4096)
	projection := make(chan core.CoreOutput, 4096)

	return &harness{
		t:       t,
		engine:  core.NewEngine(0, clk, persist, projection, nil, nil),
		clock:   clk,
		persist: persist,
		owner:   testutil.NewKey(t),
	}
}

func newInitializedHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	h.mustSubmit(h.owner, instruction.InitMainState{})
	return h
}

func (h *harness) sign(key solana.PrivateKey, body instruction.Instruction) *instruction.SignedInstruction {
	h.t.Helper()

	env, err := instruction.Sign(body, key)
	if err != nil {
		h.t.Fatalf("sign %s: %v", body.Kind(), err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.t.Fatalf("marshal envelope: %v", err)
	}
	signed, err := instruction.Parse(data)
	if err != nil {
		h.t.Fatalf("parse %s: %v", body.Kind(), err)
	}
	return signed
}

func (h *harness) submit(key solana.PrivateKey, body instruction.Instruction) (*core.Result, error) {
	h.t.Helper()
	return h.engine.Execute(h.sign(key, body))
}

func (h *harness) mustSubmit(key solana.PrivateKey, body instruction.Instruction) *core.Result {
	h.t.Helper()
	res, err := h.submit(key, body)
	if err != nil {
		h.t.Fatalf("%s failed: %v", body.Kind(), err)
	}
	return res
}

// createPool opens a pool closing one hour from the harness clock.
func (h *harness) createPool(creator, referee solana.PrivateKey) uint64 {
	h.t.Helper()
	res := h.mustSubmit(creator, instruction.CreatePool{
		Title:        "will it rain tomorrow",
		Description:  "resolves yes if any rain is recorded",
		EndTimestamp: h.clock.Unix + 3600,
		Referee:      referee.PublicKey(),
	})
	return res.Event.(*event.PoolCreated).Bet
}

// drain collects every envelope emitted to the persist channel so far.
func (h *harness) drain() []*event.EventEnvelope {
	var envelopes []*event.EventEnvelope
	for {
		select {
		case out := <-h.persist:
			envelopes = append(envelopes, out.Envelope)
		default:
			return envelopes
		}
	}
}

// ============================================================
// Full settlement lifecycle
// ============================================================

func TestEngine_SettlesTwoSidedMarket(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)
	bob := testutil.NewKey(t)

	betID := h.createPool(creator, referee)

	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(bob, instruction.CreateEntry{BetID: betID})

	// Empty pool: both sides price at 0.5, so 3M lamports mints 6M tokens
	dep := h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 3_000_000})
	made := dep.Event.(*event.DepositMade)
	if made.TokenAmount != 6_000_000 {
		t.Errorf("alice tokens: got %d, want 6000000", made.TokenAmount)
	}
	if made.YesPrice != 500_000_000 {
		t.Errorf("yes price on empty pool: got %d, want 500000000", made.YesPrice)
	}

	h.mustSubmit(bob, instruction.Deposit{BetID: betID, IsYes: false, Amount: 2_000_000})

	h.clock.Advance(3601)

	resolved := h.mustSubmit(referee, instruction.SetWinner{BetID: betID, IsYes: true})
	mr := resolved.Event.(*event.MarketResolved)
	if mr.CreatorFee != 20_000 {
		t.Errorf("creator fee: got %d, want 20000 (1%% of losing 2M)", mr.CreatorFee)
	}
	if mr.PlatformFee != 40_000 {
		t.Errorf("platform fee: got %d, want 40000 (2%% of losing 2M)", mr.PlatformFee)
	}

	// alice holds the whole winning supply: principal plus all profit
	// 3,000,000 + (2,000,000 - 20,000 - 40,000) = 4,940,000
	claim := h.mustSubmit(alice, instruction.Claim{BetID: betID})
	payout := claim.Event.(*event.WinningsClaimed).Payout
	if payout != 4_940_000 {
		t.Errorf("payout: got %d, want 4940000", payout)
	}

	// After the claim only the unclaimed creator fee remains in the vault
	if got := h.engine.VaultBalance(); got != 20_000 {
		t.Errorf("vault after claim: got %d, want 20000", got)
	}

	fee := h.mustSubmit(creator, instruction.ClaimCreatorFee{BetID: betID})
	if amt := fee.Event.(*event.CreatorFeeClaimed).Amount; amt != 20_000 {
		t.Errorf("creator fee claim: got %d, want 20000", amt)
	}
	if got := h.engine.VaultBalance(); got != 0 {
		t.Errorf("vault after creator fee: got %d, want 0", got)
	}
}

func TestEngine_OneSidedMarketFundsStayStuck(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)

	betID := h.createPool(creator, referee)
	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 1_000_000})

	h.clock.Advance(3601)
	h.mustSubmit(referee, instruction.SetWinner{BetID: betID, IsYes: false})

	// Winning supply is zero; the sole depositor bet the losing side
	if _, err := h.submit(alice, instruction.Claim{BetID: betID}); !errors.Is(err, state.ErrMathOverflow) {
		t.Errorf("claim with zero winning supply: got %v, want ErrMathOverflow", err)
	}

	// Fees came off the losing (YES) reserve; the rest stays in the vault
	pool, err := h.engine.ViewPool(betID)
	if err != nil {
		t.Fatalf("ViewPool: %v", err)
	}
	if pool.CreatorFee != 10_000 || pool.PlatformFee != 20_000 {
		t.Errorf("fees: got (%d, %d), want (10000, 20000)", pool.CreatorFee, pool.PlatformFee)
	}
	if got := h.engine.VaultBalance(); got != 980_000 {
		t.Errorf("vault: got %d, want 980000", got)
	}
}

func TestEngine_OpenEndedMarketResolvesImmediately(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)

	res := h.mustSubmit(creator, instruction.CreatePool{
		Title:        "open ended",
		Description:  "no deadline",
		EndTimestamp: -1,
		Referee:      referee.PublicKey(),
	})
	betID := res.Event.(*event.PoolCreated).Bet

	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 500_000})

	// No time gate: resolvable without advancing the clock
	h.mustSubmit(referee, instruction.SetWinner{BetID: betID, IsYes: true})

	claim := h.mustSubmit(alice, instruction.Claim{BetID: betID})
	if payout := claim.Event.(*event.WinningsClaimed).Payout; payout != 500_000 {
		t.Errorf("payout with no losing reserve: got %d, want 500000", payout)
	}
}

// ============================================================
// Gates
// ============================================================

func TestEngine_RequiresInitialization(t *testing.T) {
	h := newHarness(t)
	creator := testutil.NewKey(t)

	_, err := h.submit(creator, instruction.CreatePool{
		Title:        "too early",
		Description:  "registry not bootstrapped",
		EndTimestamp: -1,
		Referee:      creator.PublicKey(),
	})
	if !errors.Is(err, state.ErrUninitialized) {
		t.Errorf("createPool before init: got %v, want ErrUninitialized", err)
	}

	h.mustSubmit(h.owner, instruction.InitMainState{})

	if _, err := h.submit(h.owner, instruction.InitMainState{}); !errors.Is(err, state.ErrAlreadyInitialized) {
		t.Errorf("second init: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestEngine_UpdateMainStateIsOwnerGated(t *testing.T) {
	h := newInitializedHarness(t)
	mallory := testutil.NewKey(t)

	body := instruction.UpdateMainState{
		Owner:          h.owner.PublicKey(),
		InitialPrice:   state.DefaultInitialPrice,
		ScaleFactor:    state.DefaultScaleFactor,
		CreatorFeeBps:  300,
		PlatformFeeBps: 400,
	}

	if _, err := h.submit(mallory, body); !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("non-owner update: got %v, want ErrUnauthorized", err)
	}

	h.mustSubmit(h.owner, body)
	main, err := h.engine.ViewMainState()
	if err != nil {
		t.Fatalf("ViewMainState: %v", err)
	}
	if main.CreatorFeeBps != 300 || main.PlatformFeeBps != 400 {
		t.Errorf("fees after update: got (%d, %d), want (300, 400)", main.CreatorFeeBps, main.PlatformFeeBps)
	}
}

func TestEngine_DeadlineGatesAreStrict(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)

	betID := h.createPool(creator, referee)
	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})

	// Resolution strictly before the deadline is rejected
	if _, err := h.submit(referee, instruction.SetWinner{BetID: betID, IsYes: true}); !errors.Is(err, state.ErrBetNotEnded) {
		t.Errorf("early resolution: got %v, want ErrBetNotEnded", err)
	}

	// At exactly the deadline neither deposits nor resolution are accepted
	h.clock.Advance(3600)
	if _, err := h.submit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 1000}); !errors.Is(err, state.ErrBetEnded) {
		t.Errorf("deposit at deadline: got %v, want ErrBetEnded", err)
	}
	if _, err := h.submit(referee, instruction.SetWinner{BetID: betID, IsYes: true}); !errors.Is(err, state.ErrBetNotEnded) {
		t.Errorf("resolution at deadline: got %v, want ErrBetNotEnded", err)
	}

	h.clock.Advance(1)
	h.mustSubmit(referee, instruction.SetWinner{BetID: betID, IsYes: true})
}

func TestEngine_ResolutionIsOneWay(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)
	mallory := testutil.NewKey(t)

	betID := h.createPool(creator, referee)
	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 1_000_000})
	h.clock.Advance(3601)

	if _, err := h.submit(mallory, instruction.SetWinner{BetID: betID, IsYes: false}); !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("resolution by stranger: got %v, want ErrUnauthorized", err)
	}

	h.mustSubmit(referee, instruction.SetWinner{BetID: betID, IsYes: true})

	// A second resolution cannot flip the winner
	if _, err := h.submit(referee, instruction.SetWinner{BetID: betID, IsYes: false}); !errors.Is(err, state.ErrBetComplete) {
		t.Errorf("second resolution: got %v, want ErrBetComplete", err)
	}
	// Deposits after resolution report completion, not expiry
	if _, err := h.submit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 1000}); !errors.Is(err, state.ErrBetComplete) {
		t.Errorf("deposit after resolution: got %v, want ErrBetComplete", err)
	}

	pool, err := h.engine.ViewPool(betID)
	if err != nil {
		t.Fatalf("ViewPool: %v", err)
	}
	if !pool.Complete || !pool.WinnerIsYes {
		t.Errorf("pool after resolution: complete=%v winnerIsYes=%v", pool.Complete, pool.WinnerIsYes)
	}
}

func TestEngine_ClaimGates(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)
	bob := testutil.NewKey(t)

	betID := h.createPool(creator, referee)
	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(bob, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 1_000_000})
	h.mustSubmit(bob, instruction.Deposit{BetID: betID, IsYes: false, Amount: 1_000_000})

	// Claim before the market ends
	if _, err := h.submit(alice, instruction.Claim{BetID: betID}); !errors.Is(err, state.ErrBetNotEnded) {
		t.Errorf("claim before deadline: got %v, want ErrBetNotEnded", err)
	}

	h.clock.Advance(3601)

	// Claim after expiry but before resolution
	if _, err := h.submit(alice, instruction.Claim{BetID: betID}); !errors.Is(err, state.ErrBetNotComplete) {
		t.Errorf("claim before resolution: got %v, want ErrBetNotComplete", err)
	}

	h.mustSubmit(referee, instruction.SetWinner{BetID: betID, IsYes: true})

	// Loser cannot claim
	if _, err := h.submit(bob, instruction.Claim{BetID: betID}); !errors.Is(err, state.ErrWrongBet) {
		t.Errorf("losing claim: got %v, want ErrWrongBet", err)
	}

	h.mustSubmit(alice, instruction.Claim{BetID: betID})

	// Double claim
	if _, err := h.submit(alice, instruction.Claim{BetID: betID}); !errors.Is(err, state.ErrAlreadyClaimed) {
		t.Errorf("double claim: got %v, want ErrAlreadyClaimed", err)
	}
}

func TestEngine_CreatorFeeGates(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)

	betID := h.createPool(creator, referee)
	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 1_000_000})
	h.clock.Advance(3601)

	// Only the creator may collect, and only once resolved
	if _, err := h.submit(referee, instruction.ClaimCreatorFee{BetID: betID}); !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("fee claim by referee: got %v, want ErrUnauthorized", err)
	}
	if _, err := h.submit(creator, instruction.ClaimCreatorFee{BetID: betID}); !errors.Is(err, state.ErrBetNotComplete) {
		t.Errorf("fee claim before resolution: got %v, want ErrBetNotComplete", err)
	}

	h.mustSubmit(referee, instruction.SetWinner{BetID: betID, IsYes: false})
	h.mustSubmit(creator, instruction.ClaimCreatorFee{BetID: betID})

	if _, err := h.submit(creator, instruction.ClaimCreatorFee{BetID: betID}); !errors.Is(err, state.ErrAlreadyClaimed) {
		t.Errorf("double fee claim: got %v, want ErrAlreadyClaimed", err)
	}
}

// ============================================================
// Deposits
// ============================================================

func TestEngine_DepositRequiresEntryAndLocksSide(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)

	betID := h.createPool(creator, referee)

	// No entry yet
	if _, err := h.submit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 1000}); !errors.Is(err, state.ErrInvalidBet) {
		t.Errorf("deposit without entry: got %v, want ErrInvalidBet", err)
	}

	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})

	// Zero amount
	if _, err := h.submit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 0}); !errors.Is(err, state.ErrInvalidBet) {
		t.Errorf("zero deposit: got %v, want ErrInvalidBet", err)
	}

	// A fresh entry defaults YES but may still pick NO on its first deposit
	h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: false, Amount: 1_000_000})

	// Once staked the side is locked
	if _, err := h.submit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 1000}); !errors.Is(err, state.ErrInvalidBet) {
		t.Errorf("side switch: got %v, want ErrInvalidBet", err)
	}

	// Same side keeps accumulating
	h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: false, Amount: 1000})

	entry, err := h.engine.ViewEntry(betID, alice.PublicKey())
	if err != nil {
		t.Fatalf("ViewEntry: %v", err)
	}
	if entry.IsYes {
		t.Error("entry should be locked to NO")
	}
	if entry.DepositAmount != 1_001_000 {
		t.Errorf("principal: got %d, want 1001000", entry.DepositAmount)
	}
}

func TestEngine_DepositAppendsHistory(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)

	betID := h.createPool(creator, referee)
	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 100_000})
	h.clock.Advance(60)
	h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 200_000})

	points, err := h.engine.ViewHistory(betID)
	if err != nil {
		t.Fatalf("ViewHistory: %v", err)
	}
	// zero point at creation plus one per deposit
	if len(points) != 3 {
		t.Fatalf("points: got %d, want 3", len(points))
	}
	if points[0].YesAmount != 0 || points[0].NoAmount != 0 {
		t.Errorf("first point should be zero: %+v", points[0])
	}
	if points[2].YesAmount != 300_000 {
		t.Errorf("latest yes reserve: got %d, want 300000", points[2].YesAmount)
	}
}

// ============================================================
// Pool management
// ============================================================

func TestEngine_BetIDsStayDenseAcrossRejections(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)

	first := h.createPool(creator, referee)

	// A rejected creation must not burn an id
	longTitle := make([]byte, state.MaxTitleLen+1)
	for i := range longTitle {
		longTitle[i] = 'x'
	}
	_, err := h.submit(creator, instruction.CreatePool{
		Title:        string(longTitle),
		Description:  "valid",
		EndTimestamp: -1,
		Referee:      referee.PublicKey(),
	})
	if !errors.Is(err, state.ErrTitleTooLong) {
		t.Fatalf("long title: got %v, want ErrTitleTooLong", err)
	}

	second := h.createPool(creator, referee)
	if second != first+1 {
		t.Errorf("bet ids not dense: got %d after %d", second, first)
	}
}

func TestEngine_UpdatePoolPatchesFields(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	mallory := testutil.NewKey(t)

	betID := h.createPool(creator, referee)

	title := "updated title"
	if _, err := h.submit(mallory, instruction.UpdatePool{BetID: betID, Title: &title}); !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("update by stranger: got %v, want ErrUnauthorized", err)
	}

	// The platform owner may update any pool
	newEnd := h.clock.Unix + 7200
	h.mustSubmit(h.owner, instruction.UpdatePool{BetID: betID, Title: &title, EndTimestamp: &newEnd})

	pool, err := h.engine.ViewPool(betID)
	if err != nil {
		t.Fatalf("ViewPool: %v", err)
	}
	if pool.Title != title {
		t.Errorf("title: got %q, want %q", pool.Title, title)
	}
	if pool.EndTimestamp != newEnd {
		t.Errorf("end: got %d, want %d", pool.EndTimestamp, newEnd)
	}
	// Untouched fields survive the patch
	if pool.Description != "resolves yes if any rain is recorded" {
		t.Errorf("description should be unchanged, got %q", pool.Description)
	}

	empty := ""
	if _, err := h.submit(creator, instruction.UpdatePool{BetID: betID, Title: &empty}); !errors.Is(err, state.ErrTitleEmpty) {
		t.Errorf("empty title patch: got %v, want ErrTitleEmpty", err)
	}
}

// ============================================================
// Idempotency
// ============================================================

func TestEngine_DuplicateSignatureIsNoOp(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)

	betID := h.createPool(creator, referee)
	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})

	signed := h.sign(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 1_000_000})

	first, err := h.engine.Execute(signed)
	if err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first submission flagged duplicate")
	}

	second, err := h.engine.Execute(signed)
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	if !second.Duplicate {
		t.Error("resubmission should be flagged duplicate")
	}

	pool, err := h.engine.ViewPool(betID)
	if err != nil {
		t.Fatalf("ViewPool: %v", err)
	}
	if pool.YesReserve != 1_000_000 {
		t.Errorf("reserve after duplicate: got %d, want 1000000 (applied once)", pool.YesReserve)
	}
	if got := h.engine.GetSequence(); got != first.Sequence+1 {
		t.Errorf("sequence advanced by duplicate: got %d, want %d", got, first.Sequence+1)
	}
}

// ============================================================
// Hash chain, replay, snapshot
// ============================================================

func runSettlementScenario(t *testing.T, h *harness) uint64 {
	t.Helper()

	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)
	bob := testutil.NewKey(t)

	betID := h.createPool(creator, referee)
	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(bob, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 3_000_000})
	h.mustSubmit(bob, instruction.Deposit{BetID: betID, IsYes: false, Amount: 2_000_000})
	h.clock.Advance(3601)
	h.mustSubmit(referee, instruction.SetWinner{BetID: betID, IsYes: true})
	h.mustSubmit(alice, instruction.Claim{BetID: betID})
	h.mustSubmit(creator, instruction.ClaimCreatorFee{BetID: betID})
	return betID
}

func TestEngine_ReplayReproducesHashChain(t *testing.T) {
	h := newInitializedHarness(t)
	betID := runSettlementScenario(t, h)

	envelopes := h.drain()
	wantHash := h.engine.GetStateHash()
	wantSeq := h.engine.GetSequence()

	replayed := newHarness(t)
	for _, env := range envelopes {
		if err := replayed.engine.Replay(env); err != nil {
			t.Fatalf("replay seq %d: %v", env.Sequence, err)
		}
	}

	if got := replayed.engine.GetStateHash(); got != wantHash {
		t.Errorf("replayed state hash diverged:\n got %x\nwant %x", got, wantHash)
	}
	if got := replayed.engine.GetSequence(); got != wantSeq {
		t.Errorf("replayed sequence: got %d, want %d", got, wantSeq)
	}

	livePool, err := h.engine.ViewPool(betID)
	if err != nil {
		t.Fatalf("ViewPool live: %v", err)
	}
	replayPool, err := replayed.engine.ViewPool(betID)
	if err != nil {
		t.Fatalf("ViewPool replayed: %v", err)
	}
	if replayPool != livePool {
		t.Errorf("replayed pool diverged:\n got %+v\nwant %+v", replayPool, livePool)
	}
	if got, want := replayed.engine.VaultBalance(), h.engine.VaultBalance(); got != want {
		t.Errorf("replayed vault: got %d, want %d", got, want)
	}
}

func TestEngine_ReplayDetectsTampering(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)

	betID := h.createPool(creator, referee)
	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 1_000_000})

	envelopes := h.drain()
	deposit := envelopes[len(envelopes)-1]

	// Inflate the recorded deposit amount
	var payload map[string]any
	if err := json.Unmarshal(deposit.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	payload["amount"] = 9_000_000
	tampered, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	deposit.Payload = tampered

	replayed := newHarness(t)
	var replayErr error
	for _, env := range envelopes {
		if replayErr = replayed.engine.Replay(env); replayErr != nil {
			break
		}
	}
	if replayErr == nil {
		t.Error("tampered event log should fail replay")
	}
}

func TestEngine_SnapshotRestoreThenReplay(t *testing.T) {
	h := newInitializedHarness(t)
	creator := testutil.NewKey(t)
	referee := testutil.NewKey(t)
	alice := testutil.NewKey(t)
	bob := testutil.NewKey(t)

	betID := h.createPool(creator, referee)
	h.mustSubmit(alice, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(bob, instruction.CreateEntry{BetID: betID})
	h.mustSubmit(alice, instruction.Deposit{BetID: betID, IsYes: true, Amount: 3_000_000})
	h.mustSubmit(bob, instruction.Deposit{BetID: betID, IsYes: false, Amount: 2_000_000})

	h.drain() // events up to the snapshot point
	snap := h.engine.CreateSnapshotState()

	h.clock.Advance(3601)
	h.mustSubmit(referee, instruction.SetWinner{BetID: betID, IsYes: true})
	h.mustSubmit(alice, instruction.Claim{BetID: betID})
	tail := h.drain()

	restored := newHarness(t)
	restored.engine.RestoreFromSnapshot(snap)

	if got := restored.engine.GetStateHash(); got != snap.StateHash {
		t.Fatalf("restored hash: got %x, want %x", got, snap.StateHash)
	}

	for _, env := range tail {
		if err := restored.engine.Replay(env); err != nil {
			t.Fatalf("replay seq %d after restore: %v", env.Sequence, err)
		}
	}

	if got, want := restored.engine.GetStateHash(), h.engine.GetStateHash(); got != want {
		t.Errorf("hash after restore+replay diverged:\n got %x\nwant %x", got, want)
	}
	if got, want := restored.engine.VaultBalance(), h.engine.VaultBalance(); got != want {
		t.Errorf("vault after restore+replay: got %d, want %d", got, want)
	}

	entry, err := restored.engine.ViewEntry(betID, alice.PublicKey())
	if err != nil {
		t.Fatalf("ViewEntry: %v", err)
	}
	if !entry.IsClaimed {
		t.Error("claim from tail replay not applied")
	}
}

func TestEngine_EnvelopesChainAndCarryPayloads(t *testing.T) {
	h := newInitializedHarness(t)
	runSettlementScenario(t, h)

	envelopes := h.drain()
	if len(envelopes) != 9 {
		t.Fatalf("envelope count: got %d, want 9", len(envelopes))
	}

	for i, env := range envelopes {
		if env.Sequence != int64(i) {
			t.Errorf("envelope %d: sequence %d", i, env.Sequence)
		}
		if i > 0 && env.PrevHash != envelopes[i-1].StateHash {
			t.Errorf("envelope %d: prev hash does not chain", i)
		}
		if env.StateHash == env.PrevHash {
			t.Errorf("envelope %d: state hash did not advance", i)
		}
		if len(env.Payload) == 0 {
			t.Errorf("envelope %d: empty payload", i)
		}
		if env.IdempotencyKey == "" {
			t.Errorf("envelope %d: missing idempotency key", i)
		}
	}

	if envelopes[0].EventType != event.EventTypeMainStateInitialized {
		t.Errorf("first event: got %s", envelopes[0].EventType)
	}
	if envelopes[len(envelopes)-1].EventType != event.EventTypeCreatorFeeClaimed {
		t.Errorf("last event: got %s", envelopes[len(envelopes)-1].EventType)
	}
}
