package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"BetLedger/internal/core"
	"BetLedger/internal/event"
	"BetLedger/internal/ledger"
	"BetLedger/internal/observability"
	"BetLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SnapshotManager creates and loads state snapshots for recovery. A snapshot
// captures balances, the registry, every pool, entry, and history, the
// sequence counter, the chain tip, and recent idempotency keys.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized form of the engine's snapshot state.
// Balances are keyed by account path so the map survives JSON encoding.
type SnapshotData struct {
	Sequence        int64            `json:"sequence"`
	StateHash       []byte           `json:"stateHash"`
	Balances        map[string]int64 `json:"balances"`
	Main            *state.MainState `json:"main,omitempty"`
	Pools           []*state.Pool    `json:"pools"`
	Entries         []*state.Entry   `json:"entries"`
	Histories       []*state.History `json:"histories"`
	IdempotencyKeys []string         `json:"idempotencyKeys"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// NewSnapshotData converts an engine snapshot into its serializable form.
func NewSnapshotData(snap *core.SnapshotState, createdAt time.Time) *SnapshotData {
	balances := make(map[string]int64, len(snap.Balances))
	for key, balance := range snap.Balances {
		balances[key.AccountPath()] = balance
	}

	return &SnapshotData{
		Sequence:        snap.Sequence,
		StateHash:       append([]byte(nil), snap.StateHash[:]...),
		Balances:        balances,
		Main:            snap.Main,
		Pools:           snap.Pools,
		Entries:         snap.Entries,
		Histories:       snap.Histories,
		IdempotencyKeys: snap.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
}

// EngineState converts the serialized snapshot back into engine form.
func (sd *SnapshotData) EngineState() (*core.SnapshotState, error) {
	if len(sd.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot state hash has %d bytes, want 32", len(sd.StateHash))
	}

	snap := &core.SnapshotState{
		Sequence:        sd.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(sd.Balances)),
		Main:            sd.Main,
		Pools:           sd.Pools,
		Entries:         sd.Entries,
		Histories:       sd.Histories,
		IdempotencyKeys: sd.IdempotencyKeys,
	}
	copy(snap.StateHash[:], sd.StateHash)

	for path, balance := range sd.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, err
		}
		snap.Balances[key] = balance
	}

	return snap, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. Returns nil
// without error when no snapshot exists (cold start).
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after an integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads a page of events starting at the given sequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, bet_id, payload,
		       state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.BetID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// Envelope converts a stored event row back into the envelope form the
// engine replays.
func (e EventRow) Envelope() (*event.EventEnvelope, error) {
	if len(e.StateHash) != 32 || len(e.PrevHash) != 32 {
		return nil, fmt.Errorf("event %d has malformed hashes", e.Sequence)
	}

	eventType := event.ParseEventType(e.EventType)
	if eventType == event.EventTypeUnknown {
		return nil, fmt.Errorf("event %d has unknown type %q", e.Sequence, e.EventType)
	}

	env := &event.EventEnvelope{
		Sequence:       e.Sequence,
		IdempotencyKey: e.IdempotencyKey,
		EventType:      eventType,
		Timestamp:      e.Timestamp,
		Payload:        e.Payload,
	}
	copy(env.StateHash[:], e.StateHash)
	copy(env.PrevHash[:], e.PrevHash)
	if e.BetID != nil {
		bet := uint64(*e.BetID)
		env.BetID = &bet
	}

	return env, nil
}

// ReplayEvents feeds the event log from the given sequence into the engine
// in order, paging through Postgres. Returns the number of events replayed.
func (sm *SnapshotManager) ReplayEvents(ctx context.Context, eng *core.Engine, fromSequence int64) (int64, error) {
	const pageSize = 1000

	var replayed int64
	next := fromSequence
	for {
		page, err := sm.LoadEventsFrom(ctx, next, pageSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", next, err)
		}
		if len(page) == 0 {
			return replayed, nil
		}

		for _, row := range page {
			env, err := row.Envelope()
			if err != nil {
				return replayed, err
			}
			if err := eng.Replay(env); err != nil {
				return replayed, fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
			}
			replayed++
		}

		next = page[len(page)-1].Sequence + 1
	}
}

// SnapshotWorker takes periodic snapshots of the engine. The engine
// deep-copies its state under the lock; JSON encoding and the Postgres
// write happen here, off the instruction path.
type SnapshotWorker struct {
	manager  *SnapshotManager
	engine   *core.Engine
	interval time.Duration
	metrics  *observability.Metrics
	log      zerolog.Logger

	lastSequence int64
}

func NewSnapshotWorker(
	manager *SnapshotManager,
	engine *core.Engine,
	interval time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *SnapshotWorker {
	return &SnapshotWorker{
		manager:      manager,
		engine:       engine,
		interval:     interval,
		metrics:      metrics,
		log:          log,
		lastSequence: -1,
	}
}

// Run snapshots on a fixed interval until ctx is cancelled. A final
// snapshot is taken on shutdown.
func (sw *SnapshotWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.takeSnapshot(context.Background())
			return ctx.Err()
		case <-ticker.C:
			sw.takeSnapshot(ctx)
		}
	}
}

func (sw *SnapshotWorker) takeSnapshot(ctx context.Context) {
	start := time.Now()

	snap := sw.engine.CreateSnapshotState()
	if snap.Sequence < 0 || snap.Sequence == sw.lastSequence {
		return
	}

	data := NewSnapshotData(snap, time.Now().UTC())
	if err := sw.manager.SaveSnapshot(ctx, data); err != nil {
		sw.log.Error().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot save failed")
		return
	}

	// The snapshot came from live engine state, not a reconstruction, so it
	// is trusted for restart immediately.
	if err := sw.manager.MarkVerified(ctx, snap.Sequence); err != nil {
		sw.log.Error().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot verify mark failed")
		return
	}

	sw.lastSequence = snap.Sequence
	if sw.metrics != nil {
		sw.metrics.SnapshotTaken.Inc()
		sw.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		sw.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	sw.log.Info().Int64("sequence", snap.Sequence).Dur("took", time.Since(start)).Msg("snapshot saved")
}
