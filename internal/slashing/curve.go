package slashing

import "math/big"

// Curve breakpoints, in fault-index units and basis points. The curve is
// piecewise linear rather than smooth: each regime signals a categorically
// different severity class.
const (
	curveFloorFI    = 30
	curveMidFI      = 60
	curveCriticalFI = 85
	curveMaxFI      = 100

	curveMidBPS      = 1000  // 10% at FI 60
	curveCriticalBPS = 5000  // 50% at FI 85
	curveMaxBPS      = 10000 // 100% at FI 100
)

// SlashBPS maps a fault index to a slash ratio in basis points.
// Total over all int inputs: indices below 30 slash nothing, indices
// above 100 are clamped to 100.
//
//	FI < 30        -> 0
//	30 <= FI < 60  -> 0 .. 10% linear
//	60 <= FI < 85  -> 10% .. 50% linear
//	85 <= FI <= 100 -> 50% .. 100% linear
func SlashBPS(faultIndex int) int64 {
	switch {
	case faultIndex < curveFloorFI:
		return 0
	case faultIndex < curveMidFI:
		return int64(faultIndex-curveFloorFI) * curveMidBPS / (curveMidFI - curveFloorFI)
	case faultIndex < curveCriticalFI:
		return curveMidBPS + int64(faultIndex-curveMidFI)*(curveCriticalBPS-curveMidBPS)/(curveCriticalFI-curveMidFI)
	default:
		fi := faultIndex
		if fi > curveMaxFI {
			fi = curveMaxFI
		}
		return curveCriticalBPS + int64(fi-curveCriticalFI)*(curveMaxBPS-curveCriticalBPS)/(curveMaxFI-curveCriticalFI)
	}
}

// SplitSlash divides a slash amount into burned and compensated portions.
// gamma is the percentage routed to NAV compensation; the burn takes the
// floor so that burned + compensated == slash exactly.
func SplitSlash(slash *big.Int, gammaPct int) (burned, compensated *big.Int) {
	burned = new(big.Int).Mul(slash, big.NewInt(int64(100-gammaPct)))
	burned.Quo(burned, big.NewInt(100))
	compensated = new(big.Int).Sub(slash, burned)
	return burned, compensated
}

// Preview computes the slash amount for a stake and fault index without
// touching any ledger, for advisory use. fundLoss (quote units) and
// referencePrice (quote units per whole token) additionally cap the
// result at the gamma-scaled harm actually done; pass nil to skip the
// loss cap. The stake cap always applies.
func Preview(stake *big.Int, faultIndex, gammaPct int, fundLoss, referencePrice *big.Int) *big.Int {
	if stake == nil || stake.Sign() <= 0 {
		return big.NewInt(0)
	}
	slash := new(big.Int).Mul(stake, big.NewInt(SlashBPS(faultIndex)))
	slash.Quo(slash, big.NewInt(10000))
	if slash.Cmp(stake) > 0 {
		slash.Set(stake)
	}

	if fundLoss != nil && referencePrice != nil && referencePrice.Sign() > 0 {
		// lossCap = fundLoss * gamma% / referencePrice, in token units.
		lossCap := new(big.Int).Mul(fundLoss, big.NewInt(int64(gammaPct)))
		lossCap.Mul(lossCap, tokenUnit)
		lossCap.Quo(lossCap, big.NewInt(100))
		lossCap.Quo(lossCap, referencePrice)
		if slash.Cmp(lossCap) > 0 {
			slash.Set(lossCap)
		}
	}
	return slash
}

// tokenUnit is 10^6, one whole token in smallest units.
var tokenUnit = big.NewInt(1_000_000)
