package query_test

import (
	"context"
	"database/sql"
	"testing"

	"BetLedger/internal/persistence"
	"BetLedger/internal/query"
	"BetLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const fixtureNow = int64(1_700_000_000)

// setupService seeds the projection tables with three pools: an open-ended
// active pool, an ended-but-unresolved pool, and a resolved pool.
func setupService(t *testing.T) (*query.Service, *sql.DB) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(context.Background()); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	exec := func(q string, args ...interface{}) {
		t.Helper()
		if _, err := db.Exec(q, args...); err != nil {
			t.Fatalf("seed fixture: %v", err)
		}
	}

	insertPool := `
		INSERT INTO projections.pools
			(bet_id, creator, referee, share_uuid, title, description,
			 yes_reserve, no_reserve, yes_supply, no_supply,
			 created_timestamp, end_timestamp, complete, winner_is_yes,
			 creator_fee, platform_fee, creator_fee_claimed, platform_fee_claimed,
			 updated_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	exec(insertPool,
		0, "creatorA", "refereeA", uuid.New(), "open ended", "never expires",
		3_000_000, 2_000_000, 6_000_000, 4_000_000,
		fixtureNow-100, -1, false, false, 0, 0, false, false, 5)
	exec(insertPool,
		1, "creatorA", "refereeA", uuid.New(), "awaiting ruling", "deadline passed",
		1_000_000, 1_000_000, 2_000_000, 2_000_000,
		fixtureNow-200, fixtureNow-10, false, false, 0, 0, false, false, 5)
	exec(insertPool,
		2, "creatorB", "refereeB", uuid.New(), "settled", "yes won",
		3_000_000, 2_000_000, 6_000_000, 4_000_000,
		fixtureNow-300, fixtureNow-50, true, true, 20_000, 40_000, false, true, 5)

	exec(`
		INSERT INTO projections.entries
			(bet_id, user_pubkey, is_yes, token_balance, deposit_amount, is_claimed, updated_sequence)
		VALUES (0, 'alice', TRUE, 6000000, 3000000, FALSE, 5),
		       (2, 'alice', TRUE, 6000000, 3000000, TRUE, 5)`)

	exec(`
		INSERT INTO projections.balances (account_path, balance, updated_sequence)
		VALUES ('vault:sol', 5000000, 5),
		       ('wallet:alice', -3000000, 5),
		       ('wallet:bob', -2000000, 5)`)

	exec(`
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', 5, NOW())`)

	return query.NewService(db), db
}

// ============================================================
// Pools
// ============================================================

func TestGetPool_DerivesPricesAndStatus(t *testing.T) {
	svc, _ := setupService(t)

	pool, err := svc.GetPool(context.Background(), 0, fixtureNow)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool == nil {
		t.Fatal("pool 0 not found")
	}

	if pool.Status != "active" {
		t.Errorf("open-ended pool status: got %q, want active", pool.Status)
	}
	// (3M + 1e9 virtual) * 1e9 / (5M + 2e9 virtual), floored.
	if pool.YesPrice != 500_249_376 || pool.NoPrice != 499_750_623 {
		t.Errorf("prices: got %d/%d, want 500249376/499750623", pool.YesPrice, pool.NoPrice)
	}
	if pool.AsOfSequence != 5 {
		t.Errorf("asOfSequence: got %d, want 5", pool.AsOfSequence)
	}
}

func TestGetPool_Unknown(t *testing.T) {
	svc, _ := setupService(t)

	pool, err := svc.GetPool(context.Background(), 404, fixtureNow)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool != nil {
		t.Errorf("expected nil for unknown pool, got %+v", pool)
	}
}

func TestListPools_StatusFilters(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	cases := []struct {
		status string
		want   []uint64
	}{
		{"active", []uint64{0}},
		{"ended", []uint64{1}},
		{"resolved", []uint64{2}},
		{"", []uint64{0, 1, 2}},
	}

	for _, tc := range cases {
		pools, err := svc.ListPools(ctx, query.PoolFilter{Status: tc.status}, fixtureNow)
		if err != nil {
			t.Fatalf("list %q: %v", tc.status, err)
		}
		var got []uint64
		for _, p := range pools {
			got = append(got, p.BetID)
		}
		if len(got) != len(tc.want) {
			t.Errorf("status %q: got %v, want %v", tc.status, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("status %q: got %v, want %v", tc.status, got, tc.want)
				break
			}
		}
	}
}

func TestListPools_CreatorAndCursor(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	pools, err := svc.ListPools(ctx, query.PoolFilter{Creator: "creatorA"}, fixtureNow)
	if err != nil {
		t.Fatalf("list by creator: %v", err)
	}
	if len(pools) != 2 {
		t.Fatalf("creatorA pools: got %d, want 2", len(pools))
	}

	after := uint64(0)
	pools, err = svc.ListPools(ctx, query.PoolFilter{Creator: "creatorA", AfterBetID: &after}, fixtureNow)
	if err != nil {
		t.Fatalf("list with cursor: %v", err)
	}
	if len(pools) != 1 || pools[0].BetID != 1 {
		t.Errorf("cursor page: got %+v, want single pool 1", pools)
	}
}

// ============================================================
// Entries and balances
// ============================================================

func TestListEntriesByUser(t *testing.T) {
	svc, _ := setupService(t)

	entries, err := svc.ListEntriesByUser(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("alice entries: got %d, want 2", len(entries))
	}
	// Newest pool first.
	if entries[0].BetID != 2 || entries[1].BetID != 0 {
		t.Errorf("entry order: got %d,%d, want 2,0", entries[0].BetID, entries[1].BetID)
	}
	if !entries[0].IsClaimed {
		t.Error("resolved entry not marked claimed")
	}
}

func TestGetBalance_UntouchedAccountReadsZero(t *testing.T) {
	svc, _ := setupService(t)

	resp, err := svc.GetBalance(context.Background(), "wallet:nobody")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if resp.Balance != 0 {
		t.Errorf("untouched balance: got %d, want 0", resp.Balance)
	}
	if resp.AsOfSequence != 5 {
		t.Errorf("asOfSequence: got %d, want 5", resp.AsOfSequence)
	}
}

// ============================================================
// Integrity
// ============================================================

func TestVerifyIntegrity_HealthyFixture(t *testing.T) {
	svc, _ := setupService(t)

	report, err := svc.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("verify integrity: %v", err)
	}
	if !report.IsHealthy {
		t.Errorf("report unhealthy: %+v", report)
	}
	if report.GlobalImbalance != 0 {
		t.Errorf("imbalance: got %d, want 0", report.GlobalImbalance)
	}
	if report.VaultBalance != 5_000_000 {
		t.Errorf("vault: got %d, want 5000000", report.VaultBalance)
	}
}

func TestVerifyIntegrity_DetectsImbalance(t *testing.T) {
	svc, db := setupService(t)

	if _, err := db.Exec(`UPDATE projections.balances SET balance = balance + 7 WHERE account_path = 'vault:sol'`); err != nil {
		t.Fatalf("skew balance: %v", err)
	}

	report, err := svc.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("verify integrity: %v", err)
	}
	if report.IsHealthy {
		t.Error("skewed balances reported healthy")
	}
	if report.GlobalImbalance != 7 {
		t.Errorf("imbalance: got %d, want 7", report.GlobalImbalance)
	}
}
