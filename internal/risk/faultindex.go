package risk

import "github.com/toss-platform/riskd/internal/params"

// Combiner blend weights over (fund, investor, protocol) domain scores.
// A weighted blend lets correlated medium-severity issues compound; the
// simple max guarantees a single catastrophic domain is never averaged
// away.
const (
	blendFundPct     = 60
	blendInvestorPct = 25
	blendProtocolPct = 15
)

// FaultIndex computes the weighted fault index from the four component
// severities. Pure integer arithmetic: scale by weights, then floor once
// on the final division, so every caller agrees bit-for-bit.
func FaultIndex(c Components, w params.Weights) int {
	fi := (w.Limit*clampComponent(c.Limit) +
		w.Behavior*clampComponent(c.Behavior) +
		w.Damage*clampComponent(c.Damage) +
		w.Intent*clampComponent(c.Intent)) / 100
	if fi > 100 {
		return 100
	}
	return fi
}

// Combine merges the three domain scores and the weighted component
// index conservatively: the result is the largest of the 60/25/15 blend,
// the simple maximum, and the component index. It never returns less
// than any single domain's score, and is independent of evaluation
// order.
func Combine(protocolFI, fundFI, investorFI, componentFI int) int {
	blend := (blendFundPct*fundFI + blendInvestorPct*investorFI + blendProtocolPct*protocolFI) / 100

	combined := blend
	for _, v := range []int{protocolFI, fundFI, investorFI, componentFI} {
		if v > combined {
			combined = v
		}
	}
	if combined > 100 {
		return 100
	}
	if combined < 0 {
		return 0
	}
	return combined
}

func clampComponent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
