package risk

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toss-platform/riskd/internal/funds"
	"github.com/toss-platform/riskd/internal/oracle"
	"github.com/toss-platform/riskd/internal/params"
	"github.com/toss-platform/riskd/internal/protocol"
	"github.com/toss-platform/riskd/internal/slashing"
	"github.com/toss-platform/riskd/internal/stakes"
	"github.com/toss-platform/riskd/internal/token"
)

type engineFixture struct {
	engine     *Engine
	store      *MemoryStore
	fundStore  *funds.MemoryStore
	protoState *protocol.State
	prices     *oracle.MemorySource
	stakes     *stakes.Ledger
	slashStore *slashing.MemoryStore
	now        time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()

	f := &engineFixture{
		store:      NewMemoryStore(),
		fundStore:  funds.NewMemoryStore(),
		protoState: protocol.NewState(),
		prices:     oracle.NewMemorySource(),
		stakes:     stakes.NewLedger(stakes.NewMemoryStore()),
		slashStore: slashing.NewMemoryStore(),
		now:        time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.prices.SetQuote("TOSS", tokenUnits(1), 9500)
	f.prices.SetQuote("ETH", tokenUnits(2), 9500)

	require.NoError(t, f.fundStore.PutConfig(ctx, &funds.Config{
		FundID:         "fund_1",
		Manager:        "0xMANAGER",
		AllowedAssets:  []string{"TOSS", "ETH"},
		ReferenceAsset: "TOSS",
		Limits: funds.RiskLimits{
			MaxPositionBPS:      1000,
			MaxConcentrationBPS: 3000,
			MaxExposureBPS:      6000,
			MaxVolatilityBPS:    2000,
			MaxDrawdownBPS:      800,
			PriceChecksEnabled:  true,
		},
	}))
	f.fundStore.SetVault("fund_1", &funds.Snapshot{
		NAV:           tokenUnits(1000),
		HighWaterMark: tokenUnits(1000),
		VolatilityBPS: 1000,
		Holdings:      map[string]*big.Int{"TOSS": tokenUnits(950)},
	})

	_, err := f.stakes.CreateStake(ctx, "0xMANAGER", "fund_1", tokenUnits(10000))
	require.NoError(t, err)

	p, err := params.New()
	require.NoError(t, err)

	slashEngine := slashing.NewEngine(
		f.stakes,
		token.NewMemoryLedger(tokenUnits(1_000_000_000)),
		p,
		f.slashStore,
		"0xTREASURY",
	).WithClock(clock)

	f.engine = NewEngine(
		f.fundStore,
		NewProtocolDomain(f.protoState, f.prices),
		NewFundDomain(f.fundStore, f.prices),
		NewInvestorDomain().WithClock(clock),
		p,
		f.store,
		slashEngine.NewTrigger(),
	).WithClock(clock)
	return f
}

func cleanTrade() *TradeRequest {
	return &TradeRequest{AssetIn: "TOSS", AssetOut: "ETH", AmountIn: "50.000000", Nonce: 1}
}

func TestValidateTrade_CleanApprove(t *testing.T) {
	f := newEngineFixture(t)

	res, err := f.engine.ValidateTrade(context.Background(), "fund_1", cleanTrade())
	require.NoError(t, err)

	assert.True(t, res.Approved)
	assert.Equal(t, DecisionApprove, res.Decision)
	assert.Equal(t, 0, res.FaultIndex)
	assert.Len(t, res.Domains, 3)
	require.NotNil(t, res.Approval)
	assert.Equal(t, cleanTrade().Hash("fund_1"), res.Approval.TradeHash)
	assert.Nil(t, res.Violation)

	// The approval is retrievable by hash.
	a, err := f.store.GetApproval(context.Background(), res.Approval.TradeHash)
	require.NoError(t, err)
	assert.False(t, a.Consumed)
}

func TestValidateTrade_WarnBandStillApproves(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// Push the investor domain into the warning band: a 50% fund-wide
	// withdrawal ratio scores 20, inside [warn, slash).
	require.NoError(t, f.engine.RecordInvestorAction(ctx, "inv_1", "fund_1", ActionDeposit, tokenUnits(100)))
	require.NoError(t, f.engine.RecordInvestorAction(ctx, "inv_1", "fund_1", ActionWithdrawal, tokenUnits(50)))

	res, err := f.engine.ValidateTrade(ctx, "fund_1", cleanTrade())
	require.NoError(t, err)

	assert.True(t, res.Approved)
	assert.Equal(t, DecisionWarn, res.Decision)
	assert.Equal(t, 20, res.FaultIndex)
	assert.NotNil(t, res.Approval)
	assert.Nil(t, res.Violation)

	// A warning never creates a violation record.
	vios, _, _, err := f.engine.ListViolations(ctx, "fund_1", "", 10)
	require.NoError(t, err)
	assert.Empty(t, vios)
}

func TestValidateTrade_RejectRecordsViolationAndSlashes(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	req := cleanTrade()
	req.AssetOut = "SHADY" // off the whitelist, instant 100

	res, err := f.engine.ValidateTrade(ctx, "fund_1", req)
	require.NoError(t, err)

	assert.False(t, res.Approved)
	assert.Equal(t, DecisionReject, res.Decision)
	assert.Equal(t, 100, res.FaultIndex)
	assert.Nil(t, res.Approval)
	require.NotNil(t, res.Violation)
	assert.Equal(t, "fund_limits", res.Violation.ViolationType)
	assert.True(t, res.Violation.SlashingTriggered)

	// The violation is on record and slashing executed synchronously.
	vios, _, _, err := f.engine.ListViolations(ctx, "fund_1", "", 10)
	require.NoError(t, err)
	require.Len(t, vios, 1)
	assert.Equal(t, res.Violation.ID, vios[0].ID)

	events, err := f.slashStore.ListByFund(ctx, "fund_1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, res.Violation.ID, events[0].ViolationID)
	assert.Equal(t, 100, events[0].FaultIndex)

	// FI 100 slashes the whole stake.
	stake, err := f.stakes.GetStake(ctx, "0xMANAGER", "fund_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stake.Amount.Int64())
}

func TestValidateTrade_RejectWithoutStakeStillRejects(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	require.NoError(t, f.stakes.CloseStake(ctx, "0xMANAGER", "fund_1"))

	req := cleanTrade()
	req.AssetOut = "SHADY"

	res, err := f.engine.ValidateTrade(ctx, "fund_1", req)
	require.NoError(t, err)

	assert.False(t, res.Approved)
	require.NotNil(t, res.Violation)
	assert.False(t, res.Violation.SlashingTriggered)

	vios, _, _, err := f.engine.ListViolations(ctx, "fund_1", "", 10)
	require.NoError(t, err)
	assert.Len(t, vios, 1)
}

func TestValidateTrade_OffWhitelistAssetIsFundFaultNotFeedGap(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// The off-whitelist asset naturally has no oracle quote. The missing
	// feed must not surface as a protocol-state rejection: the whitelist
	// breach is the fund domain's instant 100 and goes the violation path.
	req := cleanTrade()
	req.AssetOut = "SHADY"

	res, err := f.engine.ValidateTrade(ctx, "fund_1", req)
	require.NoError(t, err)

	assert.Equal(t, DecisionReject, res.Decision)
	assert.Equal(t, 100, res.FaultIndex)
	assert.Len(t, res.Domains, 3)
	require.NotNil(t, res.Violation)
	assert.Equal(t, "fund_limits", res.Violation.ViolationType)

	// The protocol domain itself stays clean: it never consulted a feed
	// for the off-whitelist asset.
	assert.True(t, res.Domains[0].Passed)
}

func TestValidateTrade_WhitelistedFeedOutageRejectsWithoutViolation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// WBTC is whitelisted but its feed has never published a quote: the
	// rejection belongs to the protocol domain and is not the manager's
	// fault, so no violation and no slash.
	cfg, err := f.fundStore.GetConfig(ctx, "fund_1")
	require.NoError(t, err)
	cfg.AllowedAssets = append(cfg.AllowedAssets, "WBTC")
	require.NoError(t, f.fundStore.PutConfig(ctx, cfg))

	req := cleanTrade()
	req.AssetOut = "WBTC"

	res, err := f.engine.ValidateTrade(ctx, "fund_1", req)
	require.NoError(t, err)

	assert.False(t, res.Approved)
	assert.Equal(t, DecisionReject, res.Decision)
	assert.Nil(t, res.Violation)

	vios, _, _, err := f.engine.ListViolations(ctx, "fund_1", "", 10)
	require.NoError(t, err)
	assert.Empty(t, vios)

	stake, err := f.stakes.GetStake(ctx, "0xMANAGER", "fund_1")
	require.NoError(t, err)
	assert.Equal(t, tokenUnits(10000), stake.Amount)
}

func TestValidateTrade_ProtocolShortCircuit(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.protoState.SetStatus(protocol.StatusPaused)

	res, err := f.engine.ValidateTrade(ctx, "fund_1", cleanTrade())
	require.NoError(t, err)

	assert.False(t, res.Approved)
	assert.Equal(t, DecisionReject, res.Decision)
	assert.Equal(t, 100, res.FaultIndex)
	// Fund and investor domains are never consulted.
	require.Len(t, res.Domains, 1)
	assert.Equal(t, DomainProtocol, res.Domains[0].Domain)

	// A protocol halt is not the manager's fault: no violation, no slash.
	assert.Nil(t, res.Violation)
	vios, _, _, err := f.engine.ListViolations(ctx, "fund_1", "", 10)
	require.NoError(t, err)
	assert.Empty(t, vios)

	stake, err := f.stakes.GetStake(ctx, "0xMANAGER", "fund_1")
	require.NoError(t, err)
	assert.Equal(t, tokenUnits(10000), stake.Amount)
}

func TestValidateTrade_InvalidRequests(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *TradeRequest
	}{
		{"nil request", nil},
		{"missing assets", &TradeRequest{AmountIn: "1.000000"}},
		{"identical assets", &TradeRequest{AssetIn: "TOSS", AssetOut: "TOSS", AmountIn: "1.000000"}},
		{"zero amount", &TradeRequest{AssetIn: "TOSS", AssetOut: "ETH", AmountIn: "0"}},
		{"malformed amount", &TradeRequest{AssetIn: "TOSS", AssetOut: "ETH", AmountIn: "lots"}},
		{"negative amount", &TradeRequest{AssetIn: "TOSS", AssetOut: "ETH", AmountIn: "-5.000000"}},
		{"past deadline", &TradeRequest{AssetIn: "TOSS", AssetOut: "ETH", AmountIn: "1.000000", Deadline: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ValidateTrade(ctx, "fund_1", tt.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestValidateTrade_UnknownFund(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.ValidateTrade(context.Background(), "fund_unknown", cleanTrade())
	require.ErrorIs(t, err, ErrUnknownFund)
}

func TestConsumeApproval_ExactlyOnce(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	res, err := f.engine.ValidateTrade(ctx, "fund_1", cleanTrade())
	require.NoError(t, err)
	hash := res.Approval.TradeHash

	a, err := f.engine.ConsumeApproval(ctx, hash)
	require.NoError(t, err)
	assert.True(t, a.Consumed)
	require.NotNil(t, a.ConsumedAt)

	_, err = f.engine.ConsumeApproval(ctx, hash)
	require.ErrorIs(t, err, ErrApprovalConsumed)
}

func TestConsumeApproval_Expired(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	res, err := f.engine.ValidateTrade(ctx, "fund_1", cleanTrade())
	require.NoError(t, err)

	f.now = f.now.Add(DefaultApprovalTTL + time.Second)
	_, err = f.engine.ConsumeApproval(ctx, res.Approval.TradeHash)
	require.ErrorIs(t, err, ErrApprovalExpired)
}

func TestConsumeApproval_NotFound(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.ConsumeApproval(context.Background(), "0xdeadbeef")
	require.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestValidateTrade_ConsumedTradeNeverReissued(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	res, err := f.engine.ValidateTrade(ctx, "fund_1", cleanTrade())
	require.NoError(t, err)
	_, err = f.engine.ConsumeApproval(ctx, res.Approval.TradeHash)
	require.NoError(t, err)

	// Replaying the identical request (same nonce) cannot mint a fresh
	// approval for the consumed hash.
	_, err = f.engine.ValidateTrade(ctx, "fund_1", cleanTrade())
	require.ErrorIs(t, err, ErrApprovalConsumed)

	// A new nonce is a new trade.
	req := cleanTrade()
	req.Nonce = 2
	res, err = f.engine.ValidateTrade(ctx, "fund_1", req)
	require.NoError(t, err)
	assert.True(t, res.Approved)
}

func TestManualReview_SuspendsAndResumes(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.TriggerManualReview(ctx, "fund_1", "anomalous fills"))

	_, err := f.engine.ValidateTrade(ctx, "fund_1", cleanTrade())
	require.ErrorIs(t, err, ErrFundSuspended)

	// The guardian override leaves an audit trail.
	vios, _, _, err := f.engine.ListViolations(ctx, "fund_1", "", 10)
	require.NoError(t, err)
	require.Len(t, vios, 1)
	assert.Equal(t, "manual_review", vios[0].ViolationType)
	assert.Equal(t, "anomalous fills", vios[0].Details)
	assert.False(t, vios[0].SlashingTriggered)

	require.NoError(t, f.engine.ResumeFund(ctx, "fund_1"))
	res, err := f.engine.ValidateTrade(ctx, "fund_1", cleanTrade())
	require.NoError(t, err)
	assert.True(t, res.Approved)
}

// holdAtSuspensionCheck wraps a Store to open a window while a
// validation sits at its suspension check, and verifies that no
// approval is ever written once a suspension is on record.
type holdAtSuspensionCheck struct {
	Store
	t    *testing.T
	once sync.Once
	hook func()
}

func (s *holdAtSuspensionCheck) GetSuspension(ctx context.Context, fundID string) (*Suspension, error) {
	s.once.Do(s.hook)
	return s.Store.GetSuspension(ctx, fundID)
}

func (s *holdAtSuspensionCheck) PutApproval(ctx context.Context, a *Approval) error {
	if _, err := s.Store.GetSuspension(ctx, a.FundID); err == nil {
		s.t.Error("approval issued for a fund with a committed suspension")
	}
	return s.Store.PutApproval(ctx, a)
}

func TestValidateTrade_SuspensionSerializedWithValidation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	reviewDone := make(chan error, 1)
	rs := &holdAtSuspensionCheck{Store: f.store, t: t}
	rs.hook = func() {
		// Fire a guardian suspension while the validation is inside its
		// critical section. The per-fund lock must hold the suspension
		// back until the in-flight validation has finished.
		go func() { reviewDone <- f.engine.TriggerManualReview(ctx, "fund_1", "audit hold") }()
		time.Sleep(50 * time.Millisecond)
	}
	f.engine.store = rs

	res, err := f.engine.ValidateTrade(ctx, "fund_1", cleanTrade())
	require.NoError(t, err)
	assert.True(t, res.Approved)

	require.NoError(t, <-reviewDone)

	// Once the suspension has landed, new validations are refused.
	req := cleanTrade()
	req.Nonce = 2
	_, err = f.engine.ValidateTrade(ctx, "fund_1", req)
	require.ErrorIs(t, err, ErrFundSuspended)
}

func TestManualReview_UnknownFund(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.TriggerManualReview(context.Background(), "fund_unknown", "whatever")
	require.ErrorIs(t, err, ErrUnknownFund)
}

func TestResumeFund_NotSuspended(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.ResumeFund(context.Background(), "fund_1")
	require.ErrorIs(t, err, ErrNotSuspended)
}

func TestCheckFundHealth_HealthyAndIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		report, err := f.engine.CheckFundHealth(ctx, "fund_1")
		require.NoError(t, err)
		assert.True(t, report.Healthy)
		assert.Equal(t, 0, report.FaultIndex)
	}
}

func TestCheckFundHealth_ReportsDistress(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.fundStore.SetVault("fund_1", &funds.Snapshot{
		NAV:           tokenUnits(900), // 1000 bps drawdown vs 800 ceiling
		HighWaterMark: tokenUnits(1000),
		Holdings:      map[string]*big.Int{},
	})

	report, err := f.engine.CheckFundHealth(ctx, "fund_1")
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Equal(t, 75, report.FaultIndex)
	assert.NotEmpty(t, report.Issues)
}

func TestCheckFundHealth_SuspendedIsUnhealthy(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.TriggerManualReview(ctx, "fund_1", "audit hold"))

	report, err := f.engine.CheckFundHealth(ctx, "fund_1")
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	require.NotEmpty(t, report.Issues)
	assert.Contains(t, report.Issues[len(report.Issues)-1], "audit hold")
}

type recordingSink struct {
	mu    sync.Mutex
	kinds []string
}

func (s *recordingSink) Publish(kind string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
}

func TestValidateTrade_PublishesAuditEvents(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	sink := &recordingSink{}
	f.engine.WithEventSink(sink)

	req := cleanTrade()
	req.AssetOut = "SHADY" // FI 100, over the ban threshold

	_, err := f.engine.ValidateTrade(ctx, "fund_1", req)
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"violation", "slashing", "ban"}, sink.kinds)
}

func TestListViolations_CursorPagination(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i, id := range []string{"vio_1", "vio_2", "vio_3", "vio_4", "vio_5"} {
		require.NoError(t, f.store.RecordViolation(ctx, &Violation{
			ID:        id,
			FundID:    "fund_1",
			CreatedAt: f.now.Add(time.Duration(i) * time.Minute),
		}))
	}

	page1, next, hasMore, err := f.engine.ListViolations(ctx, "fund_1", "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "vio_5", page1[0].ID)
	assert.Equal(t, "vio_4", page1[1].ID)
	assert.True(t, hasMore)
	require.NotEmpty(t, next)

	page2, next, hasMore, err := f.engine.ListViolations(ctx, "fund_1", next, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "vio_3", page2[0].ID)
	assert.Equal(t, "vio_2", page2[1].ID)
	assert.True(t, hasMore)

	page3, next, hasMore, err := f.engine.ListViolations(ctx, "fund_1", next, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "vio_1", page3[0].ID)
	assert.False(t, hasMore)
	assert.Empty(t, next)
}

func TestListViolations_BadCursor(t *testing.T) {
	f := newEngineFixture(t)

	_, _, _, err := f.engine.ListViolations(context.Background(), "fund_1", "%%%garbage%%%", 10)
	require.ErrorIs(t, err, ErrInvalidRequest)
}
