package slashing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/toss-platform/riskd/internal/amount"
	"github.com/toss-platform/riskd/internal/idgen"
	"github.com/toss-platform/riskd/internal/logging"
	"github.com/toss-platform/riskd/internal/metrics"
	"github.com/toss-platform/riskd/internal/stakes"
	"github.com/toss-platform/riskd/internal/traces"
)

// Engine executes slashes against the stake and token ledgers.
//
// Execution is reachable only through a Trigger handle, which the server
// hands to the risk engine at construction. No HTTP route and no other
// component can invoke it.
type Engine struct {
	stakes       StakeSource
	token        TokenLedger
	params       ParamSource
	store        Store
	settler      Settler
	treasuryAddr string
	now          func() time.Time
}

// NewEngine creates a slashing engine. treasuryAddr receives the
// NAV-compensation portion of every slash.
func NewEngine(stakeSrc StakeSource, token TokenLedger, params ParamSource, store Store, treasuryAddr string) *Engine {
	return &Engine{
		stakes:       stakeSrc,
		token:        token,
		params:       params,
		store:        store,
		treasuryAddr: treasuryAddr,
		now:          time.Now,
	}
}

// WithSettler attaches a settlement record sink.
func (e *Engine) WithSettler(s Settler) *Engine {
	e.settler = s
	return e
}

// WithClock overrides the engine's time source for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Trigger is the capability handle for executing slashes. Only the risk
// engine's reject path holds one.
type Trigger struct {
	e *Engine
}

// NewTrigger returns the execution capability for this engine.
func (e *Engine) NewTrigger() *Trigger {
	return &Trigger{e: e}
}

// Execute runs a slash for the manager's stake on the given fund.
func (t *Trigger) Execute(ctx context.Context, fundID, manager string, faultIndex int, violationID string) (*SlashingEvent, error) {
	return t.e.execute(ctx, fundID, manager, faultIndex, violationID)
}

func (e *Engine) execute(ctx context.Context, fundID, manager string, faultIndex int, violationID string) (*SlashingEvent, error) {
	ctx, span := traces.StartSpan(ctx, "slashing.execute",
		traces.FundID(fundID), traces.Manager(manager), traces.FaultIndex(faultIndex))
	defer span.End()
	log := logging.FromContext(ctx)

	stake, err := e.stakes.GetStake(ctx, manager, fundID)
	if err != nil {
		if errors.Is(err, stakes.ErrStakeNotFound) || errors.Is(err, stakes.ErrStakeInactive) {
			return nil, fmt.Errorf("%w: manager=%s fund=%s", ErrNoStake, manager, fundID)
		}
		return nil, fmt.Errorf("slashing: read stake: %w", err)
	}

	bps := SlashBPS(faultIndex)
	slash := amount.MulBPS(stake.Amount, bps)
	slash = amount.Min(slash, stake.Amount)

	gamma := e.params.GammaPct()
	burned, compensated := SplitSlash(slash, gamma)

	// The stake reduction commits first; it is the authoritative record.
	if slash.Sign() > 0 {
		if err := e.stakes.ReduceStake(ctx, manager, fundID, slash); err != nil {
			return nil, fmt.Errorf("slashing: reduce stake: %w", err)
		}
		if burned.Sign() > 0 {
			if err := e.token.Burn(ctx, burned); err != nil {
				return nil, fmt.Errorf("slashing: burn: %w", err)
			}
		}
		if compensated.Sign() > 0 {
			if err := e.token.Transfer(ctx, e.treasuryAddr, compensated); err != nil {
				return nil, fmt.Errorf("slashing: compensation transfer: %w", err)
			}
		}
	}

	stakeAfter := new(big.Int).Sub(stake.Amount, slash)
	ev := &SlashingEvent{
		ID:          idgen.WithPrefix("slh_"),
		FundID:      fundID,
		Manager:     manager,
		FaultIndex:  faultIndex,
		SlashBPS:    bps,
		Slashed:     amount.Format(slash),
		Burned:      amount.Format(burned),
		Compensated: amount.Format(compensated),
		StakeBefore: amount.Format(stake.Amount),
		StakeAfter:  amount.Format(stakeAfter),
		ViolationID: violationID,
		ExecutedAt:  e.now().UTC(),
	}
	if err := e.store.RecordEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("slashing: record event: %w", err)
	}
	metrics.SlashingsTotal.Inc()

	log.Info("slash executed",
		slog.String("eventId", ev.ID),
		slog.String("fundId", fundID),
		slog.String("manager", manager),
		slog.Int("faultIndex", faultIndex),
		slog.String("slashed", ev.Slashed),
		slog.String("burned", ev.Burned),
		slog.String("compensated", ev.Compensated),
	)

	if faultIndex >= e.params.BanThreshold() {
		ban := &BanRecord{
			Manager:    manager,
			FundID:     fundID,
			FaultIndex: faultIndex,
			EventID:    ev.ID,
			BannedAt:   ev.ExecutedAt,
		}
		if err := e.store.RecordBan(ctx, ban); err != nil {
			return nil, fmt.Errorf("slashing: record ban: %w", err)
		}
		metrics.BansTotal.Inc()
		log.Warn("manager banned",
			slog.String("manager", manager),
			slog.String("fundId", fundID),
			slog.Int("faultIndex", faultIndex),
		)
	}

	if e.settler != nil {
		if err := e.settler.Settle(ctx, ev); err != nil {
			// Settlement records are advisory; the slash itself stands.
			log.Error("settlement record failed", slog.String("eventId", ev.ID), slog.Any("error", err))
		}
	}

	return ev, nil
}

// Preview returns the advisory slash amount for the manager's current
// stake at the given fault index, capped by the loss-based ceiling when
// fundLoss and referencePrice are provided. No state changes.
func (e *Engine) Preview(ctx context.Context, fundID, manager string, faultIndex int, fundLoss, referencePrice *big.Int) (*big.Int, error) {
	stake, err := e.stakes.GetStake(ctx, manager, fundID)
	if err != nil {
		if errors.Is(err, stakes.ErrStakeNotFound) {
			return nil, fmt.Errorf("%w: manager=%s fund=%s", ErrNoStake, manager, fundID)
		}
		return nil, err
	}
	return Preview(stake.Amount, faultIndex, e.params.GammaPct(), fundLoss, referencePrice), nil
}

// IsBanned reports whether the manager has a ban record.
func (e *Engine) IsBanned(ctx context.Context, manager string) (bool, error) {
	_, err := e.store.GetBan(ctx, manager)
	if err != nil {
		if errors.Is(err, ErrNoBan) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
