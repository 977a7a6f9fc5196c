package risk

import (
	"context"
	"fmt"
	"math/big"

	"github.com/toss-platform/riskd/internal/funds"
	"github.com/toss-platform/riskd/internal/oracle"
)

// Severity weights for fund-limit breaches. Volatility and drawdown
// indicate systemic fund distress rather than a single oversized trade,
// so they weigh heavier.
const (
	weightSizeBreach       = 1
	weightVolatilityBreach = 2
	weightDrawdownBreach   = 3
)

// FundDomain validates a proposed trade against one fund's configured
// limits: asset whitelist (always enforced), the three price-dependent
// ceilings (position size, concentration, exposure), trailing
// volatility, and drawdown from the high-water mark. Each breach
// contributes breach% x weight to a running maximum.
type FundDomain struct {
	vault  funds.VaultSource
	oracle oracle.Source
}

// NewFundDomain creates the fund risk domain.
func NewFundDomain(vault funds.VaultSource, src oracle.Source) *FundDomain {
	return &FundDomain{vault: vault, oracle: src}
}

// Evaluate scores one proposed trade. cfg is the fund's configuration;
// req may be nil for trade-independent health polling.
func (d *FundDomain) Evaluate(ctx context.Context, cfg *funds.Config, req *TradeRequest) (DomainResult, error) {
	res := DomainResult{Domain: DomainFund, Passed: true}

	if req != nil {
		// Whitelist membership is always enforced, never toggled.
		for _, asset := range []string{req.AssetIn, req.AssetOut} {
			if !cfg.AssetAllowed(asset) {
				res.record(100, fmt.Sprintf("asset %s is not on the fund whitelist", asset))
				res.Components.Limit = 100
				return res, nil
			}
		}
	}

	snap, err := d.vault.Snapshot(ctx, cfg.FundID)
	if err != nil {
		return res, fmt.Errorf("risk: vault snapshot for %s: %w", cfg.FundID, err)
	}

	limit := d.scorePriceChecks(ctx, cfg, snap, req, &res)
	damage := d.scoreDistress(cfg, snap, &res)

	res.Components.Limit = limit
	res.Components.Damage = damage
	return res, nil
}

// scorePriceChecks runs the three price-dependent ceilings and returns
// the limit-breach severity component. Disabled checks are excluded from
// scoring and surfaced as skipped; they never fabricate a pass.
func (d *FundDomain) scorePriceChecks(ctx context.Context, cfg *funds.Config, snap *funds.Snapshot, req *TradeRequest, res *DomainResult) int {
	if req == nil {
		return 0
	}
	if !cfg.Limits.PriceChecksEnabled {
		res.skip("position size, concentration, and exposure checks disabled (no price source wired)")
		return 0
	}
	if snap.NAV == nil || snap.NAV.Sign() <= 0 {
		res.skip("price checks require a positive NAV")
		return 0
	}

	amountIn, ok := parseRequestAmount(req.AmountIn)
	if !ok {
		return 0 // the engine rejects malformed amounts before evaluation
	}
	tradeValue, ok := d.value(ctx, req.AssetIn, amountIn, res)
	if !ok {
		return 0
	}

	limit := 0

	// Position size: one trade's value against NAV.
	if cfg.Limits.MaxPositionBPS > 0 {
		ceiling := bpsOf(snap.NAV, cfg.Limits.MaxPositionBPS)
		limit = maxInt(limit, breachScore(tradeValue, ceiling, weightSizeBreach, "position size", res))
	}

	// Concentration: post-trade single-asset share of NAV, approximating
	// the acquired value with the trade value.
	if cfg.Limits.MaxConcentrationBPS > 0 {
		held, ok := d.holdingValue(ctx, snap, req.AssetOut, res)
		if ok {
			post := new(big.Int).Add(held, tradeValue)
			ceiling := bpsOf(snap.NAV, cfg.Limits.MaxConcentrationBPS)
			limit = maxInt(limit, breachScore(post, ceiling, weightSizeBreach, fmt.Sprintf("concentration in %s", req.AssetOut), res))
		}
	}

	// Exposure: total non-reference holdings plus the trade against NAV.
	if cfg.Limits.MaxExposureBPS > 0 {
		total := big.NewInt(0)
		complete := true
		for asset := range snap.Holdings {
			if asset == cfg.ReferenceAsset {
				continue
			}
			v, ok := d.holdingValue(ctx, snap, asset, res)
			if !ok {
				complete = false
				break
			}
			total.Add(total, v)
		}
		if complete {
			total.Add(total, tradeValue)
			ceiling := bpsOf(snap.NAV, cfg.Limits.MaxExposureBPS)
			limit = maxInt(limit, breachScore(total, ceiling, weightSizeBreach, "total exposure", res))
		}
	}

	return limit
}

// scoreDistress runs the volatility and drawdown ceilings and returns
// the damage-ratio severity component.
func (d *FundDomain) scoreDistress(cfg *funds.Config, snap *funds.Snapshot, res *DomainResult) int {
	damage := 0

	if cfg.Limits.MaxVolatilityBPS > 0 && snap.VolatilityBPS > cfg.Limits.MaxVolatilityBPS {
		breachPct := (snap.VolatilityBPS - cfg.Limits.MaxVolatilityBPS) * 100 / cfg.Limits.MaxVolatilityBPS
		score := capScore(breachPct * weightVolatilityBreach)
		res.record(score, fmt.Sprintf("trailing volatility %d bps exceeds ceiling %d bps", snap.VolatilityBPS, cfg.Limits.MaxVolatilityBPS))
		damage = maxInt(damage, score)
	}

	if cfg.Limits.MaxDrawdownBPS > 0 {
		if dd := snap.DrawdownBPS(); dd > int64(cfg.Limits.MaxDrawdownBPS) {
			breachPct := (dd - int64(cfg.Limits.MaxDrawdownBPS)) * 100 / int64(cfg.Limits.MaxDrawdownBPS)
			score := capScore(int(breachPct) * weightDrawdownBreach)
			res.record(score, fmt.Sprintf("drawdown %d bps exceeds ceiling %d bps", dd, cfg.Limits.MaxDrawdownBPS))
			damage = maxInt(damage, score)
		}
	}

	return damage
}

// value converts an asset amount to reference units via the oracle.
// A missing quote surfaces as a skipped check, never a fabricated pass;
// the protocol domain independently scores feed unavailability.
func (d *FundDomain) value(ctx context.Context, asset string, amt *big.Int, res *DomainResult) (*big.Int, bool) {
	q, err := d.oracle.Quote(ctx, asset)
	if err != nil {
		res.skip(fmt.Sprintf("no usable price for %s", asset))
		return nil, false
	}
	v := new(big.Int).Mul(amt, q.Price)
	v.Div(v, wholeToken)
	return v, true
}

func (d *FundDomain) holdingValue(ctx context.Context, snap *funds.Snapshot, asset string, res *DomainResult) (*big.Int, bool) {
	held, ok := snap.Holdings[asset]
	if !ok || held.Sign() == 0 {
		return big.NewInt(0), true
	}
	return d.value(ctx, asset, held, res)
}

// breachScore folds one ceiling check into the result: zero when under
// the ceiling, breach% x weight (capped 100) when over.
func breachScore(actual, ceiling *big.Int, weight int, check string, res *DomainResult) int {
	if ceiling.Sign() <= 0 || actual.Cmp(ceiling) <= 0 {
		return 0
	}
	over := new(big.Int).Sub(actual, ceiling)
	over.Mul(over, big.NewInt(100))
	over.Div(over, ceiling)
	score := capScore(int(over.Int64()) * weight)
	res.record(score, fmt.Sprintf("%s exceeds ceiling by %s%%", check, over))
	return score
}

func bpsOf(v *big.Int, bps int) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(int64(bps)))
	return out.Div(out, big.NewInt(10000))
}

func capScore(v int) int {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// wholeToken is 10^6 smallest units, one whole token.
var wholeToken = big.NewInt(1_000_000)
