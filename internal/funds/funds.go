// Package funds provides the read capabilities the risk engine needs from
// the fund subsystem: each fund's configured risk limits and allowed-asset
// list, and a live snapshot of its vault (holdings, NAV, high-water mark).
//
// Fund lifecycle (creation, deposits, closure) is owned elsewhere; this
// package only defines the narrow interfaces plus stores for the config
// slice the engine reads.
package funds

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var ErrFundNotFound = errors.New("funds: fund not found")

// RiskLimits are the per-fund trading ceilings, all in basis points of NAV.
// The three price-dependent checks (position size, concentration, exposure)
// are only meaningful when PriceChecksEnabled is true; disabled means the
// checks are excluded from scoring, not that they pass.
type RiskLimits struct {
	MaxPositionBPS      int  `json:"maxPositionBps"`      // single trade size vs NAV
	MaxConcentrationBPS int  `json:"maxConcentrationBps"` // post-trade single-asset share of NAV
	MaxExposureBPS      int  `json:"maxExposureBps"`      // total non-reference holdings vs NAV
	MaxVolatilityBPS    int  `json:"maxVolatilityBps"`    // trailing volatility ceiling
	MaxDrawdownBPS      int  `json:"maxDrawdownBps"`      // drawdown from high-water mark
	PriceChecksEnabled  bool `json:"priceChecksEnabled"`
}

// Config is the slice of a fund's configuration the risk engine reads.
// ReferenceAsset is the fund's quote asset; holdings in it do not count
// toward the exposure ceiling.
type Config struct {
	FundID         string     `json:"fundId"`
	Manager        string     `json:"manager"`
	AllowedAssets  []string   `json:"allowedAssets"`
	ReferenceAsset string     `json:"referenceAsset"`
	Limits         RiskLimits `json:"limits"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// AssetAllowed reports whitelist membership.
func (c *Config) AssetAllowed(asset string) bool {
	for _, a := range c.AllowedAssets {
		if a == asset {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time view of a fund's vault. Values are smallest
// reference-token units. Snapshots are produced fresh per query — the risk
// engine never caches them across validations.
type Snapshot struct {
	FundID        string              `json:"fundId"`
	NAV           *big.Int            `json:"nav"`
	HighWaterMark *big.Int            `json:"highWaterMark"`
	VolatilityBPS int                 `json:"volatilityBps"` // trailing realized volatility
	Holdings      map[string]*big.Int `json:"holdings"`      // asset → smallest units held
	AsOf          time.Time           `json:"asOf"`
}

// DrawdownBPS returns how far NAV sits below the high-water mark, in basis
// points of the mark (0 when at or above it).
func (s *Snapshot) DrawdownBPS() int64 {
	if s.HighWaterMark == nil || s.HighWaterMark.Sign() <= 0 || s.NAV == nil {
		return 0
	}
	if s.NAV.Cmp(s.HighWaterMark) >= 0 {
		return 0
	}
	drop := new(big.Int).Sub(s.HighWaterMark, s.NAV)
	drop.Mul(drop, big.NewInt(10000))
	drop.Div(drop, s.HighWaterMark)
	return drop.Int64()
}

// ConfigStore persists fund risk configuration.
type ConfigStore interface {
	GetConfig(ctx context.Context, fundID string) (*Config, error)
	PutConfig(ctx context.Context, cfg *Config) error
	ListFunds(ctx context.Context) ([]string, error)
}

// VaultSource serves live vault snapshots.
type VaultSource interface {
	Snapshot(ctx context.Context, fundID string) (*Snapshot, error)
}
