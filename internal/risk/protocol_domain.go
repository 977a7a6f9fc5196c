package risk

import (
	"context"
	"fmt"

	"github.com/toss-platform/riskd/internal/oracle"
	"github.com/toss-platform/riskd/internal/protocol"
)

// Fixed severities for protocol-level failures. The domain returns the
// highest score among its checks, never a sum: one critical failure must
// not be diluted by averaging with healthy checks.
const (
	severityPausedOrEmergency = 100
	severityExecutionDown     = 90
	severityFeedUnreliable    = 85
	severityExposureBase      = 75
	severityExposureBonusMax  = 20
)

// DefaultMinConfidenceBPS is the minimum oracle confidence a feed must
// report before the system is considered safe to trade against.
const DefaultMinConfidenceBPS = 8000

// ProtocolDomain inspects protocol-global state: operating mode, oracle
// feed confidence for the traded assets, execution-layer liveness, and
// aggregate per-asset exposure ceilings.
type ProtocolDomain struct {
	state            *protocol.State
	oracle           oracle.Source
	minConfidenceBPS int
}

// NewProtocolDomain creates the protocol risk domain.
func NewProtocolDomain(state *protocol.State, src oracle.Source) *ProtocolDomain {
	return &ProtocolDomain{
		state:            state,
		oracle:           src,
		minConfidenceBPS: DefaultMinConfidenceBPS,
	}
}

// WithMinConfidence overrides the minimum feed confidence.
func (d *ProtocolDomain) WithMinConfidence(bps int) *ProtocolDomain {
	d.minConfidenceBPS = bps
	return d
}

// Evaluate scores protocol-global health for a trade touching the given
// assets. Pass nil/empty assets to score global state only (health
// polling).
func (d *ProtocolDomain) Evaluate(ctx context.Context, assets ...string) DomainResult {
	res := DomainResult{Domain: DomainProtocol, Passed: true}

	if status := d.state.Status(); status != protocol.StatusActive {
		res.record(severityPausedOrEmergency, fmt.Sprintf("protocol status is %s", status))
	}
	if !d.state.ExecutionLive() {
		res.record(severityExecutionDown, "execution layer is down")
	}

	for _, asset := range assets {
		if asset == "" {
			continue
		}
		q, err := d.oracle.Quote(ctx, asset)
		if err != nil {
			res.record(severityFeedUnreliable, fmt.Sprintf("price feed unavailable for %s", asset))
			continue
		}
		if q.ConfidenceBPS < d.minConfidenceBPS {
			res.record(severityFeedUnreliable, fmt.Sprintf("price feed confidence %d bps below minimum for %s", q.ConfidenceBPS, asset))
		}

		exp := d.state.Exposure(asset)
		if over := exp.OverBPS(); over > 0 {
			bonus := over / 500 // +1 per 5% over the ceiling
			if bonus > severityExposureBonusMax {
				bonus = severityExposureBonusMax
			}
			res.record(severityExposureBase+int(bonus), fmt.Sprintf("aggregate exposure for %s is %d bps over its ceiling", asset, over))
		}
	}

	return res
}

// record folds one failed check into the running maximum.
func (r *DomainResult) record(severity int, issue string) {
	r.Passed = false
	if severity > r.FaultIndex {
		r.FaultIndex = severity
	}
	r.Issues = append(r.Issues, issue)
}

// skip surfaces a check that was excluded from scoring.
func (r *DomainResult) skip(issue string) {
	r.Issues = append(r.Issues, "skipped: "+issue)
}
