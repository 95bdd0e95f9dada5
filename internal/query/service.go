package query

import (
	"context"
	"database/sql"
	"fmt"

	"BetLedger/internal/keys"
	"BetLedger/internal/math"
)

// Service provides read-only access to the projection tables. All responses
// include asOfSequence so clients can tell how fresh the read model is
// relative to the event log.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const poolColumns = `
	bet_id, creator, referee, share_uuid, title, description,
	yes_reserve, no_reserve, yes_supply, no_supply,
	created_timestamp, end_timestamp, complete, winner_is_yes,
	creator_fee, platform_fee, creator_fee_claimed, platform_fee_claimed`

// GetPool returns one market by bet id, or nil when unknown.
func (s *Service) GetPool(ctx context.Context, betID uint64, now int64) (*PoolResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+poolColumns+` FROM projections.pools WHERE bet_id = $1`, betID)

	pool, err := scanPool(row, now, asOfSeq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// ListPools returns markets matching the filter, ordered by bet id.
func (s *Service) ListPools(ctx context.Context, filter PoolFilter, now int64) ([]PoolResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `SELECT ` + poolColumns + ` FROM projections.pools WHERE TRUE`
	args := []interface{}{}
	argIdx := 1

	switch filter.Status {
	case "resolved":
		query += " AND complete"
	case "ended":
		query += fmt.Sprintf(" AND NOT complete AND end_timestamp >= 0 AND end_timestamp <= $%d", argIdx)
		args = append(args, now)
		argIdx++
	case "active":
		query += fmt.Sprintf(" AND NOT complete AND (end_timestamp < 0 OR end_timestamp > $%d)", argIdx)
		args = append(args, now)
		argIdx++
	}

	if filter.Creator != "" {
		query += fmt.Sprintf(" AND creator = $%d", argIdx)
		args = append(args, filter.Creator)
		argIdx++
	}

	if filter.AfterBetID != nil {
		query += fmt.Sprintf(" AND bet_id > $%d", argIdx)
		args = append(args, *filter.AfterBetID)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY bet_id ASC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []PoolResponse
	for rows.Next() {
		pool, err := scanPool(rows, now, asOfSeq)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *pool)
	}
	return pools, rows.Err()
}

// GetEntry returns one user's stake in one market, or nil when absent.
func (s *Service) GetEntry(ctx context.Context, betID uint64, user string) (*EntryResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var e EntryResponse
	e.AsOfSequence = asOfSeq
	err = s.db.QueryRowContext(ctx, `
		SELECT bet_id, user_pubkey, is_yes, token_balance, deposit_amount, is_claimed
		FROM projections.entries
		WHERE bet_id = $1 AND user_pubkey = $2
	`, betID, user).Scan(&e.BetID, &e.User, &e.IsYes, &e.TokenBalance, &e.DepositAmount, &e.IsClaimed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEntriesByUser returns every stake a user holds, newest pool first.
func (s *Service) ListEntriesByUser(ctx context.Context, user string, limit int) ([]EntryResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bet_id, user_pubkey, is_yes, token_balance, deposit_amount, is_claimed
		FROM projections.entries
		WHERE user_pubkey = $1
		ORDER BY bet_id DESC
		LIMIT $2
	`, user, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EntryResponse
	for rows.Next() {
		var e EntryResponse
		e.AsOfSequence = asOfSeq
		if err := rows.Scan(&e.BetID, &e.User, &e.IsYes, &e.TokenBalance, &e.DepositAmount, &e.IsClaimed); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetHistory returns the reserve series for one pool in chronological order.
func (s *Service) GetHistory(ctx context.Context, betID uint64) (*HistoryResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, yes_amount, no_amount
		FROM projections.pool_history
		WHERE bet_id = $1
		ORDER BY sequence ASC
	`, betID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &HistoryResponse{BetID: betID, AsOfSequence: asOfSeq}
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.Timestamp, &p.YesAmount, &p.NoAmount); err != nil {
			return nil, err
		}
		resp.Points = append(resp.Points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if resp.Points == nil {
		return nil, nil
	}
	return resp, nil
}

// GetBalance returns one tracked ledger account by path.
func (s *Service) GetBalance(ctx context.Context, accountPath string) (*BalanceResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &BalanceResponse{AccountPath: accountPath, AsOfSequence: asOfSeq}
	err = s.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances WHERE account_path = $1
	`, accountPath).Scan(&resp.Balance)
	if err == sql.ErrNoRows {
		return resp, nil // never-touched accounts read as zero
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetJournalHistory returns lamport movements touching a wallet, newest
// first, with cursor pagination on sequence.
func (s *Service) GetJournalHistory(ctx context.Context, wallet string, limit int, afterSequence *int64) ([]JournalHistoryEntry, error) {
	accountPath := "wallet:" + wallet

	query := `
		SELECT journal_id, batch_id, event_ref, sequence, bet_id,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []interface{}{accountPath}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence, &e.BetID,
			&e.DebitAccount, &e.CreditAccount, &e.Amount, &e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyIntegrity sweeps the persisted log for hash chain breaks and checks
// the zero-sum and vault invariants over the projected balances.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM projections.balances
	`).Scan(&report.GlobalImbalance); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(
			(SELECT balance FROM projections.balances WHERE account_path = 'vault:sol'), 0)
	`).Scan(&report.VaultBalance); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		report.GlobalImbalance == 0 &&
		report.VaultBalance >= 0
	return report, nil
}

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPool(row rowScanner, now int64, asOfSeq int64) (*PoolResponse, error) {
	var p PoolResponse
	p.AsOfSequence = asOfSeq
	if err := row.Scan(
		&p.BetID, &p.Creator, &p.Referee, &p.ShareUUID, &p.Title, &p.Description,
		&p.YesReserve, &p.NoReserve, &p.YesSupply, &p.NoSupply,
		&p.CreatedTimestamp, &p.EndTimestamp, &p.Complete, &p.WinnerIsYes,
		&p.CreatorFee, &p.PlatformFee, &p.CreatorFeeClaimed, &p.PlatformFeeClaimed,
	); err != nil {
		return nil, err
	}

	yesPrice, noPrice, err := math.SpotPrices(p.YesReserve, p.NoReserve)
	if err != nil {
		return nil, fmt.Errorf("price pool %d: %w", p.BetID, err)
	}
	p.YesPrice = yesPrice
	p.NoPrice = noPrice

	// Chain-compatible address so indexers can join against on-chain accounts.
	addr, err := keys.PoolAddress(p.BetID)
	if err != nil {
		return nil, fmt.Errorf("derive address for pool %d: %w", p.BetID, err)
	}
	p.PoolAddress = addr.String()

	switch {
	case p.Complete:
		p.Status = "resolved"
	case p.EndTimestamp >= 0 && now >= p.EndTimestamp:
		p.Status = "ended"
	default:
		p.Status = "active"
	}
	return &p, nil
}
