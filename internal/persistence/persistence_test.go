package persistence_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"BetLedger/internal/core"
	"BetLedger/internal/instruction"
	"BetLedger/internal/persistence"
	"BetLedger/internal/testutil"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
)

// ============================================================
// Harness
// ============================================================

// settlement drives a full market lifecycle through a fresh engine and
// collects every output the engine emitted, in order.
type settlement struct {
	engine  *core.Engine
	clock   *testutil.ManualClock
	outputs []core.CoreOutput

	owner, creator, referee, alice, bob solana.PrivateKey
}

func runSettlement(t *testing.T) *settlement {
	t.Helper()

	clk := &testutil.ManualClock{Unix: 1_700_000_000}
	persist := make(chan core.CoreOutput, 64)
	projection := make(chan core.CoreOutput, 64)
	eng := core.NewEngine(0, clk, persist, projection, nil, nil)

	s := &settlement{
		engine:  eng,
		clock:   clk,
		owner:   testutil.NewKey(t),
		creator: testutil.NewKey(t),
		referee: testutil.NewKey(t),
		alice:   testutil.NewKey(t),
		bob:     testutil.NewKey(t),
	}

	submit := func(key solana.PrivateKey, body instruction.Instruction) {
		t.Helper()
		env, err := instruction.Sign(body, key)
		if err != nil {
			t.Fatalf("sign %s: %v", body.Kind(), err)
		}
		data, err := json.Marshal(env)
		if err != nil {
			t.Fatalf("marshal envelope: %v", err)
		}
		signed, err := instruction.Parse(data)
		if err != nil {
			t.Fatalf("parse %s: %v", body.Kind(), err)
		}
		if _, err := eng.Execute(signed); err != nil {
			t.Fatalf("%s failed: %v", body.Kind(), err)
		}
	}

	submit(s.owner, instruction.InitMainState{})
	submit(s.creator, instruction.CreatePool{
		Title:        "will it rain tomorrow",
		Description:  "resolves yes if any rain is recorded",
		EndTimestamp: clk.Unix + 3600,
		Referee:      s.referee.PublicKey(),
	})
	submit(s.alice, instruction.CreateEntry{BetID: 0})
	submit(s.bob, instruction.CreateEntry{BetID: 0})
	submit(s.alice, instruction.Deposit{BetID: 0, IsYes: true, Amount: 3_000_000})
	submit(s.bob, instruction.Deposit{BetID: 0, IsYes: false, Amount: 2_000_000})
	clk.Advance(3601)
	submit(s.referee, instruction.SetWinner{BetID: 0, IsYes: true})
	submit(s.alice, instruction.Claim{BetID: 0})
	submit(s.creator, instruction.ClaimCreatorFee{BetID: 0})

	for {
		select {
		case out := <-persist:
			s.outputs = append(s.outputs, out)
		default:
			return s
		}
	}
}

func (s *settlement) journalCount() int {
	n := 0
	for _, out := range s.outputs {
		if out.Batch != nil {
			n += len(out.Batch.Journals)
		}
	}
	return n
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(context.Background()); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return db
}

// persistAll runs a worker over the settlement outputs and waits for the
// final flush.
func persistAll(t *testing.T, db *sql.DB, s *settlement) {
	t.Helper()

	inputChan := make(chan core.CoreOutput, len(s.outputs))
	worker := persistence.NewWorker(db, inputChan, 4, 10*time.Millisecond, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(context.Background())
	}()

	for _, out := range s.outputs {
		inputChan <- out
	}
	close(inputChan)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not finish")
	}
}

// ============================================================
// Worker + writer
// ============================================================

func TestWorker_PersistsFullLifecycle(t *testing.T) {
	db := setupDB(t)
	s := runSettlement(t)

	if len(s.outputs) != 9 {
		t.Fatalf("outputs: got %d, want 9", len(s.outputs))
	}
	persistAll(t, db, s)

	var eventCount, journalCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM event_log.events`).Scan(&eventCount); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM event_log.journal`).Scan(&journalCount); err != nil {
		t.Fatalf("count journals: %v", err)
	}

	if eventCount != len(s.outputs) {
		t.Errorf("persisted events: got %d, want %d", eventCount, len(s.outputs))
	}
	if journalCount != s.journalCount() {
		t.Errorf("persisted journals: got %d, want %d", journalCount, s.journalCount())
	}

	// Double entry holds in the durable journal too.
	var vault int64
	err := db.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN debit_account = 'vault:sol' THEN amount ELSE -amount END), 0)
		FROM event_log.journal
		WHERE debit_account = 'vault:sol' OR credit_account = 'vault:sol'
	`).Scan(&vault)
	if err != nil {
		t.Fatalf("vault sum: %v", err)
	}
	if vault != 0 {
		t.Errorf("vault balance after full settlement: got %d, want 0", vault)
	}
}

func TestWriter_ReflushIsIdempotent(t *testing.T) {
	db := setupDB(t)
	s := runSettlement(t)
	persistAll(t, db, s)

	// Re-writing the same rows must not duplicate anything: a crash between
	// flush and channel drain replays the batch on restart.
	writer := persistence.NewEventLogWriter(db)
	ctx := context.Background()
	for _, out := range s.outputs {
		eventRow, journalRows := persistence.RowsFromOutput(out)
		if err := writer.WriteEventBatch(ctx, db, []persistence.EventRow{eventRow}); err != nil {
			t.Fatalf("re-write events: %v", err)
		}
		if err := writer.WriteJournalBatch(ctx, db, journalRows); err != nil {
			t.Fatalf("re-write journals: %v", err)
		}
	}

	var eventCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM event_log.events`).Scan(&eventCount); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != len(s.outputs) {
		t.Errorf("events after re-flush: got %d, want %d", eventCount, len(s.outputs))
	}
}

func TestPostgresIdempotencyChecker(t *testing.T) {
	db := setupDB(t)
	s := runSettlement(t)
	persistAll(t, db, s)

	checker := persistence.NewPostgresIdempotencyChecker(db)

	known := s.outputs[0].Envelope.IdempotencyKey
	dup, err := checker.IsDuplicate(known)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Errorf("persisted key %s not reported as duplicate", known)
	}

	dup, err = checker.IsDuplicate("never-seen-signature")
	if err != nil {
		t.Fatalf("IsDuplicate unknown: %v", err)
	}
	if dup {
		t.Error("unknown key reported as duplicate")
	}

	keys, err := checker.LoadRecentKeys(context.Background(), 4)
	if err != nil {
		t.Fatalf("LoadRecentKeys: %v", err)
	}
	if len(keys) != 4 {
		t.Fatalf("recent keys: got %d, want 4", len(keys))
	}
	if keys[0] != s.outputs[len(s.outputs)-1].Envelope.IdempotencyKey {
		t.Errorf("recent keys not newest first: got %s", keys[0])
	}
}

// ============================================================
// Snapshots
// ============================================================

func TestSnapshot_SaveAndRestore(t *testing.T) {
	db := setupDB(t)
	s := runSettlement(t)
	ctx := context.Background()

	mgr := persistence.NewSnapshotManager(db)

	// Nothing verified yet.
	snap, err := mgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if snap != nil {
		t.Fatal("expected nil snapshot on empty table")
	}

	live := s.engine.CreateSnapshotState()
	data := persistence.NewSnapshotData(live, time.Now().UTC())
	if err := mgr.SaveSnapshot(ctx, data); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// Unverified snapshots are invisible to recovery.
	snap, err = mgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load unverified: %v", err)
	}
	if snap != nil {
		t.Fatal("unverified snapshot must not load")
	}

	if err := mgr.MarkVerified(ctx, data.Sequence); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	snap, err = mgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load verified: %v", err)
	}
	if snap == nil {
		t.Fatal("verified snapshot did not load")
	}
	if snap.Sequence != live.Sequence {
		t.Errorf("sequence: got %d, want %d", snap.Sequence, live.Sequence)
	}

	engState, err := snap.EngineState()
	if err != nil {
		t.Fatalf("engine state: %v", err)
	}

	restored := core.NewEngine(0, s.clock, make(chan core.CoreOutput, 64), make(chan core.CoreOutput, 64), nil, nil)
	restored.RestoreFromSnapshot(engState)

	wantHash := s.engine.GetStateHash()
	gotHash := restored.GetStateHash()
	if !bytes.Equal(gotHash[:], wantHash[:]) {
		t.Errorf("state hash after restore: got %x, want %x", gotHash, wantHash)
	}
	if got, want := restored.GetSequence(), s.engine.GetSequence(); got != want {
		t.Errorf("sequence after restore: got %d, want %d", got, want)
	}

	pool, err := restored.ViewPool(0)
	if err != nil {
		t.Fatalf("view pool: %v", err)
	}
	if !pool.Complete || !pool.WinnerIsYes {
		t.Errorf("restored pool not resolved yes: complete=%v winnerIsYes=%v", pool.Complete, pool.WinnerIsYes)
	}
	if restored.VaultBalance() != s.engine.VaultBalance() {
		t.Errorf("vault balance: got %d, want %d", restored.VaultBalance(), s.engine.VaultBalance())
	}
}

// ============================================================
// Replay
// ============================================================

func TestReplayEvents_RebuildsState(t *testing.T) {
	db := setupDB(t)
	s := runSettlement(t)
	persistAll(t, db, s)
	ctx := context.Background()

	mgr := persistence.NewSnapshotManager(db)

	last, err := mgr.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if want := int64(len(s.outputs) - 1); last != want {
		t.Fatalf("latest sequence: got %d, want %d", last, want)
	}

	cold := core.NewEngine(0, s.clock, make(chan core.CoreOutput, 64), make(chan core.CoreOutput, 64), nil, nil)
	replayed, err := mgr.ReplayEvents(ctx, cold, 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed != int64(len(s.outputs)) {
		t.Errorf("replayed: got %d, want %d", replayed, len(s.outputs))
	}

	wantHash := s.engine.GetStateHash()
	gotHash := cold.GetStateHash()
	if !bytes.Equal(gotHash[:], wantHash[:]) {
		t.Errorf("state hash after replay: got %x, want %x", gotHash, wantHash)
	}

	entry, err := cold.ViewEntry(0, s.alice.PublicKey())
	if err != nil {
		t.Fatalf("view entry: %v", err)
	}
	if !entry.IsClaimed {
		t.Error("alice's claim lost in replay")
	}
}

func TestGetLatestSequence_EmptyLog(t *testing.T) {
	db := setupDB(t)

	mgr := persistence.NewSnapshotManager(db)
	seq, err := mgr.GetLatestSequence(context.Background())
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if seq != -1 {
		t.Errorf("empty log sequence: got %d, want -1", seq)
	}
}
