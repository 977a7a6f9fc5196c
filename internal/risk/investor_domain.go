package risk

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Investor action kinds, recorded only by the authorized vault caller.
type Action string

const (
	ActionDeposit    Action = "deposit"
	ActionWithdrawal Action = "withdrawal"
)

var ErrUnknownAction = errors.New("risk: unknown investor action")

// Behavior signal thresholds and score contributions. Contributions are
// additive across signals, capped at 100.
const (
	wbrWarnBPS  = 5000 // withdrawal-to-deposit ratio
	wbrHighBPS  = 8000
	wbrWarnAdd  = 20
	wbrHighAdd  = 50
	dvrWarnBPS  = 7000 // deposit-cycling ratio
	dvrHighBPS  = 9000
	dvrWarnAdd  = 15
	dvrHighAdd  = 40
	panicAdd    = 25 // withdrawal within panicWindow of a >=5% NAV drop
	panicBigAdd = 60 // drop >= 10%

	navDropWarnBPS = 500 // 5% below high-water mark
	navDropHighBPS = 1000

	panicWindow       = 24 * time.Hour
	coordinatedWindow = time.Hour
	coordinatedSmall  = 3
	coordinatedMedium = 5
	coordinatedLarge  = 10
	coordinatedSmAdd  = 30
	coordinatedMedAdd = 70
	coordinatedLrgAdd = 100
)

// InvestorDomain tracks aggregate deposit/withdrawal behavior per fund
// to detect panic runs and coordinated exits. All behavior recording is
// driven by the trusted vault caller; the domain never accepts
// self-reported investor data.
type InvestorDomain struct {
	mu    sync.RWMutex
	funds map[string]*fundActivity
	now   func() time.Time
}

type investorActivity struct {
	deposits        *big.Int
	withdrawals     *big.Int
	depositCount    int
	withdrawalCount int
	lastDeposit     time.Time
	lastWithdrawal  time.Time
}

type fundActivity struct {
	investors map[string]*investorActivity

	nav        *big.Int
	hwm        *big.Int
	navDropAt  time.Time // when NAV last fell >=5% below the mark
	navDropBPS int64

	recentWithdrawals []time.Time // trimmed to the coordination window
}

// NewInvestorDomain creates the investor risk domain.
func NewInvestorDomain() *InvestorDomain {
	return &InvestorDomain{
		funds: make(map[string]*fundActivity),
		now:   time.Now,
	}
}

// WithClock overrides the time source (for tests).
func (d *InvestorDomain) WithClock(now func() time.Time) *InvestorDomain {
	d.now = now
	return d
}

// RecordNAV updates the fund's NAV and its rolling high-water mark, and
// timestamps drops of 5% or more below the mark.
func (d *InvestorDomain) RecordNAV(fundID string, nav *big.Int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fa := d.fund(fundID)
	fa.nav = new(big.Int).Set(nav)
	if fa.hwm == nil || nav.Cmp(fa.hwm) > 0 {
		fa.hwm = new(big.Int).Set(nav)
		fa.navDropBPS = 0
		return
	}

	drop := new(big.Int).Sub(fa.hwm, nav)
	drop.Mul(drop, big.NewInt(10000))
	drop.Div(drop, fa.hwm)
	fa.navDropBPS = drop.Int64()
	if fa.navDropBPS >= navDropWarnBPS {
		fa.navDropAt = d.now()
	}
}

// RecordAction records one investor deposit or withdrawal. The caller
// must be the authorized vault; the HTTP layer enforces that.
func (d *InvestorDomain) RecordAction(investor, fundID string, action Action, amt *big.Int) error {
	if amt == nil || amt.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	fa := d.fund(fundID)
	ia, ok := fa.investors[investor]
	if !ok {
		ia = &investorActivity{deposits: big.NewInt(0), withdrawals: big.NewInt(0)}
		fa.investors[investor] = ia
	}

	now := d.now()
	switch action {
	case ActionDeposit:
		ia.deposits.Add(ia.deposits, amt)
		ia.depositCount++
		ia.lastDeposit = now
	case ActionWithdrawal:
		ia.withdrawals.Add(ia.withdrawals, amt)
		ia.withdrawalCount++
		ia.lastWithdrawal = now
		fa.recentWithdrawals = append(fa.recentWithdrawals, now)
		d.trimWithdrawals(fa, now)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return nil
}

// Evaluate scores the fund's aggregate investor behavior. Four additive
// signals, capped at 100: withdrawal-to-deposit ratio, deposit cycling,
// panic selling after a NAV drop, and coordinated withdrawal clusters.
func (d *InvestorDomain) Evaluate(ctx context.Context, fundID string) DomainResult {
	res := DomainResult{Domain: DomainInvestor, Passed: true}

	d.mu.RLock()
	defer d.mu.RUnlock()

	fa, ok := d.funds[fundID]
	if !ok {
		return res
	}
	now := d.now()

	behavior := 0

	// Withdrawal-to-deposit ratio, fund-wide, basis-point scaled.
	deposits, withdrawals := big.NewInt(0), big.NewInt(0)
	lastWithdrawal := time.Time{}
	for _, ia := range fa.investors {
		deposits.Add(deposits, ia.deposits)
		withdrawals.Add(withdrawals, ia.withdrawals)
		if ia.lastWithdrawal.After(lastWithdrawal) {
			lastWithdrawal = ia.lastWithdrawal
		}
	}
	if deposits.Sign() > 0 {
		wbr := new(big.Int).Mul(withdrawals, big.NewInt(10000))
		wbr.Div(wbr, deposits)
		switch {
		case wbr.Int64() >= wbrHighBPS:
			behavior += wbrHighAdd
			res.record(0, fmt.Sprintf("withdrawal-to-deposit ratio %d bps at high threshold", wbr.Int64()))
		case wbr.Int64() >= wbrWarnBPS:
			behavior += wbrWarnAdd
			res.record(0, fmt.Sprintf("withdrawal-to-deposit ratio %d bps at warning threshold", wbr.Int64()))
		}
	}

	// Deposit cycling: round trips against deposit count.
	if dvr := d.cyclingBPS(fa); dvr >= dvrHighBPS {
		behavior += dvrHighAdd
		res.record(0, fmt.Sprintf("deposit cycling ratio %d bps at high threshold", dvr))
	} else if dvr >= dvrWarnBPS {
		behavior += dvrWarnAdd
		res.record(0, fmt.Sprintf("deposit cycling ratio %d bps at warning threshold", dvr))
	}

	// Panic selling: a withdrawal shortly after a meaningful NAV drop.
	if !fa.navDropAt.IsZero() && !lastWithdrawal.IsZero() &&
		lastWithdrawal.After(fa.navDropAt) && lastWithdrawal.Sub(fa.navDropAt) <= panicWindow {
		if fa.navDropBPS >= navDropHighBPS {
			behavior += panicBigAdd
			res.record(0, fmt.Sprintf("panic selling after %d bps NAV drop", fa.navDropBPS))
		} else if fa.navDropBPS >= navDropWarnBPS {
			behavior += panicAdd
			res.record(0, fmt.Sprintf("withdrawal within 24h of %d bps NAV drop", fa.navDropBPS))
		}
	}

	// Coordinated withdrawals: clustering inside the 1h window after a
	// NAV drop. This is the intent signal.
	intent := 0
	if !fa.navDropAt.IsZero() {
		n := 0
		for _, t := range fa.recentWithdrawals {
			if now.Sub(t) <= coordinatedWindow && t.After(fa.navDropAt.Add(-coordinatedWindow)) {
				n++
			}
		}
		switch {
		case n >= coordinatedLarge:
			intent = coordinatedLrgAdd
		case n >= coordinatedMedium:
			intent = coordinatedMedAdd
		case n >= coordinatedSmall:
			intent = coordinatedSmAdd
		}
		if intent > 0 {
			res.record(0, fmt.Sprintf("%d withdrawals clustered within 1h of a NAV drop", n))
		}
	}

	score := capScore(behavior + intent)
	res.FaultIndex = score
	res.Passed = score == 0
	res.Components.Behavior = capScore(behavior)
	res.Components.Intent = capScore(intent)
	return res
}

// cyclingBPS measures deposit/withdrawal round-tripping per investor:
// the worst ratio of completed round trips to deposits, in basis points.
func (d *InvestorDomain) cyclingBPS(fa *fundActivity) int64 {
	worst := int64(0)
	for _, ia := range fa.investors {
		if ia.depositCount < 2 {
			continue
		}
		trips := ia.withdrawalCount
		if ia.depositCount < trips {
			trips = ia.depositCount
		}
		ratio := int64(trips) * 10000 / int64(ia.depositCount)
		if ratio > worst {
			worst = ratio
		}
	}
	return worst
}

func (d *InvestorDomain) trimWithdrawals(fa *fundActivity, now time.Time) {
	cutoff := now.Add(-coordinatedWindow)
	start := 0
	for start < len(fa.recentWithdrawals) && fa.recentWithdrawals[start].Before(cutoff) {
		start++
	}
	if start > 0 {
		fa.recentWithdrawals = fa.recentWithdrawals[start:]
	}
}

// fund returns or creates per-fund activity (caller holds the lock).
func (d *InvestorDomain) fund(fundID string) *fundActivity {
	fa, ok := d.funds[fundID]
	if !ok {
		fa = &fundActivity{investors: make(map[string]*investorActivity)}
		d.funds[fundID] = fa
	}
	return fa
}
