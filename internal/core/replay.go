package core

import (
	"fmt"

	"BetLedger/internal/event"
	"BetLedger/internal/ledger"
	"BetLedger/internal/state"
)

// Replay re-applies one envelope from the event log. Payloads carry every
// computed value (quotes, fees, payouts), so replay never re-runs validation
// or pricing; it only repeats the recorded mutations and verifies that the
// hash chain reproduces byte for byte.
func (e *Engine) Replay(env *event.EventEnvelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if env.Sequence != e.sequence {
		return fmt.Errorf("replay sequence mismatch: log has %d, engine expects %d", env.Sequence, e.sequence)
	}
	if env.PrevHash != e.hasher.GetPrevHash() {
		return fmt.Errorf("replay chain broken at seq %d: prev hash mismatch", env.Sequence)
	}

	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return err
	}

	batch, err := e.applyReplayed(env, evt)
	if err != nil {
		return fmt.Errorf("replay seq %d (%s): %w", env.Sequence, env.EventType, err)
	}

	if batch != nil && len(batch.Journals) > 0 {
		if err := e.balances.ApplyBatch(batch); err != nil {
			return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
		}
	}

	stateDigest := e.computeStateDigest(evt, batch)
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)
	if stateHash != env.StateHash {
		return fmt.Errorf("replay diverged at seq %d: state hash mismatch", env.Sequence)
	}

	e.idempotency.MarkProcessed(env.IdempotencyKey)
	e.sequence++

	if e.metrics != nil {
		e.metrics.ReplayEventsTotal.Inc()
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}

	return nil
}

// applyReplayed repeats the state mutation an event recorded and rebuilds
// its journal batch from the payload amounts.
func (e *Engine) applyReplayed(env *event.EventEnvelope, evt event.Event) (*ledger.Batch, error) {
	switch ev := evt.(type) {
	case *event.MainStateInitialized:
		e.registry.Restore(&state.MainState{
			Owner:          ev.Owner,
			InitialPrice:   ev.InitialPrice,
			ScaleFactor:    ev.ScaleFactor,
			CreatorFeeBps:  ev.CreatorFeeBps,
			PlatformFeeBps: ev.PlatformFeeBps,
		})
		return nil, nil

	case *event.MainStateUpdated:
		main, err := e.registry.Main()
		if err != nil {
			return nil, err
		}
		main.Owner = ev.Owner
		main.InitialPrice = ev.InitialPrice
		main.ScaleFactor = ev.ScaleFactor
		main.CreatorFeeBps = ev.CreatorFeeBps
		main.PlatformFeeBps = ev.PlatformFeeBps
		return nil, nil

	case *event.PoolCreated:
		main, err := e.registry.Main()
		if err != nil {
			return nil, err
		}
		e.pools.SetPool(&state.Pool{
			BetID:            ev.Bet,
			Creator:          ev.Creator,
			Referee:          ev.Referee,
			ShareUUID:        ev.ShareUUID,
			Title:            ev.Title,
			Description:      ev.Description,
			CreatedTimestamp: ev.CreatedTimestamp,
			EndTimestamp:     ev.EndTimestamp,
		})
		e.history.Create(ev.Bet, ev.CreatedTimestamp)
		main.NextBetID = ev.Bet + 1
		return nil, nil

	case *event.PoolUpdated:
		pool, err := e.pools.GetPool(ev.Bet)
		if err != nil {
			return nil, err
		}
		if ev.Title != nil {
			pool.Title = *ev.Title
		}
		if ev.Description != nil {
			pool.Description = *ev.Description
		}
		if ev.EndTimestamp != nil {
			pool.EndTimestamp = *ev.EndTimestamp
		}
		if ev.Referee != nil {
			pool.Referee = *ev.Referee
		}
		return nil, nil

	case *event.EntryCreated:
		e.entries.GetOrCreateEntry(ev.Bet, ev.User)
		return nil, nil

	case *event.DepositMade:
		pool, err := e.pools.GetPool(ev.Bet)
		if err != nil {
			return nil, err
		}
		entry, _ := e.entries.GetOrCreateEntry(ev.Bet, ev.User)

		pool.YesReserve = ev.NewYesReserve
		pool.NoReserve = ev.NewNoReserve
		if ev.IsYes {
			pool.YesSupply += ev.TokenAmount
		} else {
			pool.NoSupply += ev.TokenAmount
		}
		entry.IsYes = ev.IsYes
		entry.TokenBalance += ev.TokenAmount
		entry.DepositAmount += ev.Amount

		hist, err := e.history.GetHistory(ev.Bet)
		if err != nil {
			return nil, err
		}
		hist.Append(state.ReservePoint{
			Timestamp: ev.Timestamp,
			YesAmount: pool.YesReserve,
			NoAmount:  pool.NoReserve,
		})

		batch := ledger.NewBatch(env.IdempotencyKey, env.Sequence, env.Timestamp)
		batch.AddDeposit(ev.Bet, ev.User, ev.Amount)
		return batch, nil

	case *event.MarketResolved:
		main, err := e.registry.Main()
		if err != nil {
			return nil, err
		}
		pool, err := e.pools.GetPool(ev.Bet)
		if err != nil {
			return nil, err
		}
		pool.Complete = true
		pool.WinnerIsYes = ev.WinnerIsYes
		pool.CreatorFee = ev.CreatorFee
		pool.PlatformFee = ev.PlatformFee
		pool.PlatformFeeClaimed = true

		if ev.PlatformFee > 0 {
			batch := ledger.NewBatch(env.IdempotencyKey, env.Sequence, env.Timestamp)
			batch.AddPlatformFee(ev.Bet, main.Owner, ev.PlatformFee)
			return batch, nil
		}
		return nil, nil

	case *event.WinningsClaimed:
		entry := e.entries.GetEntry(ev.Bet, ev.User)
		if entry == nil {
			return nil, fmt.Errorf("no entry for pool %d user %s", ev.Bet, ev.User)
		}
		entry.IsClaimed = true

		batch := ledger.NewBatch(env.IdempotencyKey, env.Sequence, env.Timestamp)
		batch.AddClaimPayout(ev.Bet, ev.User, ev.Payout)
		return batch, nil

	case *event.CreatorFeeClaimed:
		pool, err := e.pools.GetPool(ev.Bet)
		if err != nil {
			return nil, err
		}
		pool.CreatorFeeClaimed = true

		if ev.Amount > 0 {
			batch := ledger.NewBatch(env.IdempotencyKey, env.Sequence, env.Timestamp)
			batch.AddCreatorFee(ev.Bet, pool.Creator, ev.Amount)
			return batch, nil
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unhandled event type %T", evt)
	}
}
