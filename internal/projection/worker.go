package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"BetLedger/internal/core"
	"BetLedger/internal/event"
	"BetLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Worker updates the read-model tables from processed events. The core feeds
// it over a non-blocking channel, so a slow worker drops updates rather than
// stalling instruction execution; anything missed is recovered by Rebuild.
type Worker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
	}
}

// Run consumes core outputs until ctx is cancelled or the channel closes.
// Projection failures are logged and skipped; the tables stay eventually
// consistent with the event log.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if err := w.processOutput(ctx, output); err != nil {
				w.log.Warn().
					Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Str("event", output.Envelope.EventType.String()).
					Msg("projection update failed")
				continue
			}

			w.lastSeq = output.Envelope.Sequence
			if w.metrics != nil {
				w.metrics.ProjectionSequence.Set(float64(w.lastSeq))
			}
		}
	}
}

func (w *Worker) processOutput(ctx context.Context, output core.CoreOutput) error {
	env := output.Envelope
	start := time.Now()

	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return err
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := w.applyEvent(ctx, tx, env.Sequence, evt); err != nil {
		return fmt.Errorf("apply %s: %w", env.EventType, err)
	}

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := w.applyBalance(ctx, tx, env.Sequence, j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath(), j.Amount); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.ProjectionUpdateDur.WithLabelValues(env.EventType.Subject()).Observe(time.Since(start).Seconds())
	}
	return nil
}

func (w *Worker) applyEvent(ctx context.Context, tx *sql.Tx, sequence int64, evt event.Event) error {
	switch ev := evt.(type) {
	case *event.MainStateInitialized, *event.MainStateUpdated:
		// Registry state is served from the engine, not a projection.
		return nil

	case *event.PoolCreated:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.pools
				(bet_id, creator, referee, share_uuid, title, description,
				 created_timestamp, end_timestamp, updated_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (bet_id) DO NOTHING
		`, ev.Bet, ev.Creator.String(), ev.Referee.String(), ev.ShareUUID,
			ev.Title, ev.Description, ev.CreatedTimestamp, ev.EndTimestamp, sequence); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.pool_history (bet_id, sequence, timestamp, yes_amount, no_amount)
			VALUES ($1, $2, $3, 0, 0)
			ON CONFLICT (bet_id, sequence) DO NOTHING
		`, ev.Bet, sequence, ev.CreatedTimestamp)
		return err

	case *event.PoolUpdated:
		var referee *string
		if ev.Referee != nil {
			s := ev.Referee.String()
			referee = &s
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.pools SET
				title            = COALESCE($2, title),
				description      = COALESCE($3, description),
				end_timestamp    = COALESCE($4, end_timestamp),
				referee          = COALESCE($5, referee),
				updated_sequence = $6
			WHERE bet_id = $1
		`, ev.Bet, ev.Title, ev.Description, ev.EndTimestamp, referee, sequence)
		return err

	case *event.EntryCreated:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.entries (bet_id, user_pubkey, is_yes, updated_sequence)
			VALUES ($1, $2, TRUE, $3)
			ON CONFLICT (bet_id, user_pubkey) DO NOTHING
		`, ev.Bet, ev.User.String(), sequence)
		return err

	case *event.DepositMade:
		yesDelta, noDelta := int64(0), int64(0)
		if ev.IsYes {
			yesDelta = int64(ev.TokenAmount)
		} else {
			noDelta = int64(ev.TokenAmount)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.pools SET
				yes_reserve      = $2,
				no_reserve       = $3,
				yes_supply       = yes_supply + $4,
				no_supply        = no_supply + $5,
				updated_sequence = $6
			WHERE bet_id = $1
		`, ev.Bet, int64(ev.NewYesReserve), int64(ev.NewNoReserve), yesDelta, noDelta, sequence); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.entries
				(bet_id, user_pubkey, is_yes, token_balance, deposit_amount, updated_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (bet_id, user_pubkey) DO UPDATE SET
				is_yes           = $3,
				token_balance    = projections.entries.token_balance + $4,
				deposit_amount   = projections.entries.deposit_amount + $5,
				updated_sequence = $6
		`, ev.Bet, ev.User.String(), ev.IsYes, int64(ev.TokenAmount), int64(ev.Amount), sequence); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.pool_history (bet_id, sequence, timestamp, yes_amount, no_amount)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (bet_id, sequence) DO NOTHING
		`, ev.Bet, sequence, ev.Timestamp, int64(ev.NewYesReserve), int64(ev.NewNoReserve))
		return err

	case *event.MarketResolved:
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.pools SET
				complete             = TRUE,
				winner_is_yes        = $2,
				creator_fee          = $3,
				platform_fee         = $4,
				platform_fee_claimed = TRUE,
				updated_sequence     = $5
			WHERE bet_id = $1
		`, ev.Bet, ev.WinnerIsYes, int64(ev.CreatorFee), int64(ev.PlatformFee), sequence)
		return err

	case *event.WinningsClaimed:
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.entries SET is_claimed = TRUE, updated_sequence = $3
			WHERE bet_id = $1 AND user_pubkey = $2
		`, ev.Bet, ev.User.String(), sequence)
		return err

	case *event.CreatorFeeClaimed:
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.pools SET creator_fee_claimed = TRUE, updated_sequence = $2
			WHERE bet_id = $1
		`, ev.Bet, sequence)
		return err

	default:
		return fmt.Errorf("unhandled event type %T", evt)
	}
}

// applyBalance mirrors the in-memory ledger convention: the debit account
// receives lamports, the credit account pays them.
func (w *Worker) applyBalance(ctx context.Context, tx *sql.Tx, sequence int64, debit, credit string, amount int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, updated_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $2, updated_sequence = $3
	`, debit, amount, sequence); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, updated_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $2, updated_sequence = $3
	`, credit, -amount, sequence)
	return err
}

// Rebuild reconstructs every projection table from the event log. Balances
// come from a journal aggregate; pools, entries, and history come from
// replaying the event payloads in sequence order.
func Rebuild(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	truncates := []string{
		`TRUNCATE projections.pools`,
		`TRUNCATE projections.entries`,
		`TRUNCATE projections.pool_history`,
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncates {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debit side adds, credit side subtracts, matching the in-memory ledger.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, updated_sequence)
		SELECT account_path, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, -amount AS delta, sequence FROM event_log.journal
		) movements
		GROUP BY account_path
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	w := &Worker{db: db, log: log}

	const pageSize = 1000
	var next, applied int64
	for {
		rows, err := db.QueryContext(ctx, `
			SELECT sequence, event_type, payload
			FROM event_log.events
			WHERE sequence >= $1
			ORDER BY sequence ASC
			LIMIT $2
		`, next, pageSize)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", next, err)
		}

		type row struct {
			sequence  int64
			eventType string
			payload   []byte
		}
		var page []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.sequence, &r.eventType, &r.payload); err != nil {
				rows.Close()
				return err
			}
			page = append(page, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(page) == 0 {
			break
		}

		for _, r := range page {
			evt, err := event.Decode(event.ParseEventType(r.eventType), r.payload)
			if err != nil {
				return fmt.Errorf("rebuild seq %d: %w", r.sequence, err)
			}

			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			if err := w.applyEvent(ctx, tx, r.sequence, evt); err != nil {
				tx.Rollback()
				return fmt.Errorf("rebuild seq %d: %w", r.sequence, err)
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			applied = r.sequence
		}

		next = page[len(page)-1].sequence + 1
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, applied); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	log.Info().Int64("sequence", applied).Msg("projection rebuild complete")
	return nil
}
