package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/toss-platform/riskd/internal/amount"
	"github.com/toss-platform/riskd/internal/funds"
	"github.com/toss-platform/riskd/internal/idgen"
	"github.com/toss-platform/riskd/internal/logging"
	"github.com/toss-platform/riskd/internal/metrics"
	"github.com/toss-platform/riskd/internal/pagination"
	"github.com/toss-platform/riskd/internal/params"
	"github.com/toss-platform/riskd/internal/slashing"
	"github.com/toss-platform/riskd/internal/syncutil"
	"github.com/toss-platform/riskd/internal/traces"
)

// DefaultApprovalTTL is how long an issued approval stays redeemable.
const DefaultApprovalTTL = 5 * time.Minute

// EventSink receives audit events (violations, slashes, manual reviews)
// for live subscribers. Publishing is best-effort.
type EventSink interface {
	Publish(kind string, payload any)
}

// Engine orchestrates the three risk domains, the decision thresholds,
// approval issuance, and the synchronous slashing path.
//
// State-mutating work for one fund is serialized behind a per-fund lock;
// validations for different funds proceed concurrently. Domain results
// are computed fresh inside the critical section on every call.
type Engine struct {
	configs  funds.ConfigStore
	protocol *ProtocolDomain
	fund     *FundDomain
	investor *InvestorDomain
	params   *params.Store
	store    Store
	trigger  *slashing.Trigger

	locks       *syncutil.ContextShardedMutex
	sink        EventSink
	approvalTTL time.Duration
	now         func() time.Time
}

// NewEngine creates the risk engine. trigger is the slashing engine's
// execution capability; nothing else in the process holds one.
func NewEngine(
	configs funds.ConfigStore,
	protocolDomain *ProtocolDomain,
	fundDomain *FundDomain,
	investorDomain *InvestorDomain,
	p *params.Store,
	store Store,
	trigger *slashing.Trigger,
) *Engine {
	return &Engine{
		configs:     configs,
		protocol:    protocolDomain,
		fund:        fundDomain,
		investor:    investorDomain,
		params:      p,
		store:       store,
		trigger:     trigger,
		locks:       syncutil.NewContextShardedMutex(),
		approvalTTL: DefaultApprovalTTL,
		now:         time.Now,
	}
}

// WithEventSink attaches a live audit event sink.
func (e *Engine) WithEventSink(s EventSink) *Engine {
	e.sink = s
	return e
}

// WithApprovalTTL overrides the approval deadline window.
func (e *Engine) WithApprovalTTL(d time.Duration) *Engine {
	e.approvalTTL = d
	return e
}

// WithClock overrides the time source for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ValidateTrade is the sole entry point for trade gating.
//
// Pipeline: input validation, protocol-domain short circuit, fund and
// investor domains, conservative combination, thresholds. Approve and
// warn issue a single-use Approval; reject records a Violation and
// executes slashing synchronously.
func (e *Engine) ValidateTrade(ctx context.Context, fundID string, req *TradeRequest) (*ValidationResult, error) {
	ctx, span := traces.StartSpan(ctx, "risk.validate_trade", traces.FundID(fundID))
	defer span.End()
	log := logging.FromContext(ctx)

	if err := e.checkRequest(req); err != nil {
		return nil, err
	}
	cfg, err := e.configs.GetConfig(ctx, fundID)
	if err != nil {
		if errors.Is(err, funds.ErrFundNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFund, fundID)
		}
		return nil, err
	}
	unlock, err := e.locks.LockContext(ctx, fundID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// The suspension check lives inside the critical section: manual
	// review suspends under the same per-fund lock, so a suspension
	// committed while this call waited is always seen here.
	if _, err := e.store.GetSuspension(ctx, fundID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrFundSuspended, fundID)
	} else if !errors.Is(err, ErrNotSuspended) {
		return nil, err
	}

	// Protocol state is checked first: if the system as a whole is
	// unsafe, no fund-local state can make a trade acceptable, and the
	// fund and investor domains are never queried. Per-asset feed and
	// exposure checks consult only assets the fund is allowed to trade;
	// an off-whitelist asset is the fund domain's instant fault, not a
	// missing price feed.
	protoRes := e.protocol.Evaluate(ctx, whitelisted(cfg, req.AssetIn, req.AssetOut)...)
	if !protoRes.Passed {
		result := &ValidationResult{
			Approved:   false,
			Decision:   DecisionReject,
			FaultIndex: protoRes.FaultIndex,
			Domains:    []DomainResult{protoRes},
		}
		metrics.ValidationsTotal.WithLabelValues(string(DecisionReject)).Inc()
		metrics.FaultIndex.Observe(float64(protoRes.FaultIndex))
		log.Warn("trade rejected by protocol state",
			slog.String("fundId", fundID),
			slog.Int("faultIndex", protoRes.FaultIndex),
		)
		return result, nil
	}

	fundRes, err := e.fund.Evaluate(ctx, cfg, req)
	if err != nil {
		return nil, err
	}
	invRes := e.investor.Evaluate(ctx, fundID)

	componentFI := FaultIndex(Components{
		Limit:    fundRes.Components.Limit,
		Behavior: invRes.Components.Behavior,
		Damage:   fundRes.Components.Damage,
		Intent:   invRes.Components.Intent,
	}, e.params.Weights())
	combined := Combine(protoRes.FaultIndex, fundRes.FaultIndex, invRes.FaultIndex, componentFI)

	result := &ValidationResult{
		FaultIndex: combined,
		Domains:    []DomainResult{protoRes, fundRes, invRes},
	}

	warnAt, slashAt := e.params.Thresholds()
	switch {
	case combined < warnAt:
		result.Decision = DecisionApprove
		result.Approved = true
	case combined < slashAt:
		result.Decision = DecisionWarn
		result.Approved = true
		log.Warn("trade approved with warning",
			slog.String("fundId", fundID),
			slog.Int("faultIndex", combined),
		)
	default:
		result.Decision = DecisionReject
	}

	if result.Approved {
		a := &Approval{
			TradeHash:  req.Hash(fundID),
			FundID:     fundID,
			FaultIndex: combined,
			IssuedAt:   e.now().UTC(),
			Deadline:   e.now().UTC().Add(e.approvalTTL),
		}
		if err := e.store.PutApproval(ctx, a); err != nil {
			return nil, err
		}
		result.Approval = a
	} else {
		result.Violation = e.reject(ctx, cfg, combined, dominantDomain(protoRes, fundRes, invRes))
	}

	metrics.ValidationsTotal.WithLabelValues(string(result.Decision)).Inc()
	metrics.FaultIndex.Observe(float64(combined))
	return result, nil
}

// reject records the violation and runs the synchronous slashing path.
// A slashing failure (no stake posted, ledger unavailable) still leaves
// the trade rejected and the violation on record.
func (e *Engine) reject(ctx context.Context, cfg *funds.Config, faultIndex int, violationType string) *Violation {
	log := logging.FromContext(ctx)

	v := &Violation{
		ID:            idgen.WithPrefix("vio_"),
		FundID:        cfg.FundID,
		FaultIndex:    faultIndex,
		ViolationType: violationType,
		CreatedAt:     e.now().UTC(),
	}

	ev, err := e.trigger.Execute(ctx, cfg.FundID, cfg.Manager, faultIndex, v.ID)
	if err != nil {
		log.Error("slashing failed",
			slog.String("fundId", cfg.FundID),
			slog.Int("faultIndex", faultIndex),
			slog.Any("error", err),
		)
	}
	v.SlashingTriggered = err == nil

	if err := e.store.RecordViolation(ctx, v); err != nil {
		log.Error("violation record failed", slog.String("violationId", v.ID), slog.Any("error", err))
	}
	metrics.ViolationsTotal.WithLabelValues(violationType).Inc()

	e.publish("violation", v)
	if ev != nil {
		e.publish("slashing", ev)
		if faultIndex >= e.params.BanThreshold() {
			e.publish("ban", map[string]any{"manager": cfg.Manager, "fundId": cfg.FundID, "faultIndex": faultIndex})
		}
	}
	return v
}

// ConsumeApproval redeems an approval exactly once. The three failure
// modes stay distinct: ErrApprovalNotFound, ErrApprovalExpired,
// ErrApprovalConsumed.
func (e *Engine) ConsumeApproval(ctx context.Context, tradeHash string) (*Approval, error) {
	ctx, span := traces.StartSpan(ctx, "risk.consume_approval")
	defer span.End()

	a, err := e.store.ConsumeApproval(ctx, tradeHash, e.now().UTC())
	switch {
	case err == nil:
		metrics.ApprovalConsumptionsTotal.WithLabelValues("consumed").Inc()
	case errors.Is(err, ErrApprovalConsumed):
		metrics.ApprovalConsumptionsTotal.WithLabelValues("already_consumed").Inc()
	case errors.Is(err, ErrApprovalExpired):
		metrics.ApprovalConsumptionsTotal.WithLabelValues("expired").Inc()
	case errors.Is(err, ErrApprovalNotFound):
		metrics.ApprovalConsumptionsTotal.WithLabelValues("not_found").Inc()
	}
	return a, err
}

// CheckFundHealth is a read-only diagnostic, safe to poll: no domain
// mutates state, and repeated calls return the same result absent real
// state changes.
func (e *Engine) CheckFundHealth(ctx context.Context, fundID string) (*HealthReport, error) {
	cfg, err := e.configs.GetConfig(ctx, fundID)
	if err != nil {
		if errors.Is(err, funds.ErrFundNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFund, fundID)
		}
		return nil, err
	}

	protoRes := e.protocol.Evaluate(ctx)
	fundRes, err := e.fund.Evaluate(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	invRes := e.investor.Evaluate(ctx, fundID)

	componentFI := FaultIndex(Components{
		Limit:    fundRes.Components.Limit,
		Behavior: invRes.Components.Behavior,
		Damage:   fundRes.Components.Damage,
		Intent:   invRes.Components.Intent,
	}, e.params.Weights())
	combined := Combine(protoRes.FaultIndex, fundRes.FaultIndex, invRes.FaultIndex, componentFI)

	report := &HealthReport{FundID: fundID, FaultIndex: combined}
	for _, dr := range []DomainResult{protoRes, fundRes, invRes} {
		report.Issues = append(report.Issues, dr.Issues...)
	}

	warnAt, _ := e.params.Thresholds()
	report.Healthy = combined < warnAt
	if susp, err := e.store.GetSuspension(ctx, fundID); err == nil {
		report.Healthy = false
		report.Issues = append(report.Issues, "suspended pending manual review: "+susp.Reason)
	} else if !errors.Is(err, ErrNotSuspended) {
		return nil, err
	}
	return report, nil
}

// TriggerManualReview suspends a fund outside the fault-index pipeline.
// The guardian override is logged as a Violation for audit parity.
func (e *Engine) TriggerManualReview(ctx context.Context, fundID, reason string) error {
	if _, err := e.configs.GetConfig(ctx, fundID); err != nil {
		if errors.Is(err, funds.ErrFundNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownFund, fundID)
		}
		return err
	}

	unlock, err := e.locks.LockContext(ctx, fundID)
	if err != nil {
		return err
	}
	defer unlock()

	susp := &Suspension{FundID: fundID, Reason: reason, SuspendedAt: e.now().UTC()}
	if err := e.store.Suspend(ctx, susp); err != nil {
		return err
	}

	v := &Violation{
		ID:            idgen.WithPrefix("vio_"),
		FundID:        fundID,
		ViolationType: "manual_review",
		Details:       reason,
		CreatedAt:     susp.SuspendedAt,
	}
	if err := e.store.RecordViolation(ctx, v); err != nil {
		return err
	}
	metrics.ViolationsTotal.WithLabelValues("manual_review").Inc()
	e.publish("manual_review", susp)

	logging.FromContext(ctx).Warn("fund suspended for manual review",
		slog.String("fundId", fundID),
		slog.String("reason", reason),
	)
	return nil
}

// ResumeFund lifts a manual-review suspension.
func (e *Engine) ResumeFund(ctx context.Context, fundID string) error {
	unlock, err := e.locks.LockContext(ctx, fundID)
	if err != nil {
		return err
	}
	defer unlock()
	return e.store.Resume(ctx, fundID)
}

// RecordInvestorAction feeds vault-observed investor behavior into the
// investor domain. Only the authorized vault caller reaches this; the
// HTTP layer enforces the capability.
func (e *Engine) RecordInvestorAction(ctx context.Context, investor, fundID string, action Action, amt *big.Int) error {
	return e.investor.RecordAction(investor, fundID, action, amt)
}

// RecordFundNAV feeds the vault's NAV observation into the investor
// domain's high-water-mark tracking.
func (e *Engine) RecordFundNAV(ctx context.Context, fundID string, nav *big.Int) error {
	if nav == nil || nav.Sign() < 0 {
		return fmt.Errorf("%w: nav must be non-negative", ErrInvalidRequest)
	}
	e.investor.RecordNAV(fundID, nav)
	return nil
}

// ListViolations returns a page of the fund's append-only violation
// history, most recent first. An empty cursor starts from the top.
func (e *Engine) ListViolations(ctx context.Context, fundID, cursor string, limit int) ([]*Violation, string, bool, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	vios, err := e.store.ListViolations(ctx, fundID, cur, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	page, next, hasMore := pagination.ComputePage(vios, limit, func(v *Violation) (time.Time, string) {
		return v.CreatedAt, v.ID
	})
	return page, next, hasMore, nil
}

func (e *Engine) checkRequest(req *TradeRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if req.AssetIn == "" || req.AssetOut == "" {
		return fmt.Errorf("%w: asset identifiers are required", ErrInvalidRequest)
	}
	if req.AssetIn == req.AssetOut {
		return fmt.Errorf("%w: assetIn and assetOut are identical", ErrInvalidRequest)
	}
	if _, ok := parseRequestAmount(req.AmountIn); !ok {
		return fmt.Errorf("%w: bad amountIn %q", ErrInvalidRequest, req.AmountIn)
	}
	if req.MinAmountOut != "" {
		if _, ok := amount.Parse(req.MinAmountOut); !ok {
			return fmt.Errorf("%w: bad minAmountOut %q", ErrInvalidRequest, req.MinAmountOut)
		}
	}
	if req.Deadline > 0 && time.Unix(req.Deadline, 0).Before(e.now()) {
		return fmt.Errorf("%w: deadline has passed", ErrInvalidRequest)
	}
	return nil
}

func (e *Engine) publish(kind string, payload any) {
	if e.sink != nil {
		e.sink.Publish(kind, payload)
	}
}

// dominantDomain names the domain with the highest score, for the
// violation type.
func dominantDomain(protoRes, fundRes, invRes DomainResult) string {
	switch {
	case fundRes.FaultIndex >= invRes.FaultIndex && fundRes.FaultIndex >= protoRes.FaultIndex:
		return "fund_limits"
	case invRes.FaultIndex >= protoRes.FaultIndex:
		return "investor_behavior"
	default:
		return "protocol_state"
	}
}

// whitelisted filters the trade's assets down to those on the fund's
// allowed list. Off-whitelist assets are excluded from per-asset
// protocol checks so that the whitelist fault is attributed to the
// fund domain.
func whitelisted(cfg *funds.Config, assets ...string) []string {
	var out []string
	for _, a := range assets {
		for _, allowed := range cfg.AllowedAssets {
			if a == allowed {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func parseRequestAmount(s string) (*big.Int, bool) {
	v, ok := amount.Parse(s)
	if !ok || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}
