package risk

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/toss-platform/riskd/internal/oracle"
	"github.com/toss-platform/riskd/internal/protocol"
)

func newProtocolFixture() (*protocol.State, *oracle.MemorySource, *ProtocolDomain) {
	state := protocol.NewState()
	src := oracle.NewMemorySource()
	src.SetQuote("TOSS", big.NewInt(1_000_000), 9500)
	src.SetQuote("ETH", big.NewInt(2_500_000_000), 9000)
	return state, src, NewProtocolDomain(state, src)
}

func TestProtocolDomain_HealthyPasses(t *testing.T) {
	_, _, d := newProtocolFixture()

	res := d.Evaluate(context.Background(), "TOSS", "ETH")
	assert.True(t, res.Passed)
	assert.Equal(t, 0, res.FaultIndex)
	assert.Empty(t, res.Issues)
}

func TestProtocolDomain_PausedIsCritical(t *testing.T) {
	state, _, d := newProtocolFixture()
	state.SetStatus(protocol.StatusPaused)

	res := d.Evaluate(context.Background(), "TOSS", "ETH")
	assert.False(t, res.Passed)
	assert.Equal(t, 100, res.FaultIndex)
}

func TestProtocolDomain_EmergencyIsCritical(t *testing.T) {
	state, _, d := newProtocolFixture()
	state.SetStatus(protocol.StatusEmergency)

	res := d.Evaluate(context.Background())
	assert.False(t, res.Passed)
	assert.Equal(t, 100, res.FaultIndex)
}

func TestProtocolDomain_ExecutionDown(t *testing.T) {
	state, _, d := newProtocolFixture()
	state.SetExecutionLive(false)

	res := d.Evaluate(context.Background(), "TOSS", "ETH")
	assert.False(t, res.Passed)
	assert.Equal(t, 90, res.FaultIndex)
}

func TestProtocolDomain_MissingFeed(t *testing.T) {
	_, _, d := newProtocolFixture()

	res := d.Evaluate(context.Background(), "TOSS", "UNLISTED")
	assert.False(t, res.Passed)
	assert.Equal(t, 85, res.FaultIndex)
	assert.Contains(t, res.Issues[0], "UNLISTED")
}

func TestProtocolDomain_LowConfidenceFeed(t *testing.T) {
	_, src, d := newProtocolFixture()
	src.SetQuote("ETH", big.NewInt(2_500_000_000), 7000)

	res := d.Evaluate(context.Background(), "TOSS", "ETH")
	assert.False(t, res.Passed)
	assert.Equal(t, 85, res.FaultIndex)

	// A relaxed minimum lets the same feed through.
	relaxed := d.WithMinConfidence(6000)
	res = relaxed.Evaluate(context.Background(), "TOSS", "ETH")
	assert.True(t, res.Passed)
}

func TestProtocolDomain_ExposureOverCeiling(t *testing.T) {
	state, _, d := newProtocolFixture()
	state.SetCeiling("ETH", big.NewInt(1_000_000))
	state.AddExposure("ETH", big.NewInt(1_100_000)) // 1000 bps over

	res := d.Evaluate(context.Background(), "ETH")
	assert.False(t, res.Passed)
	// base 75 + 1000/500 bonus
	assert.Equal(t, 77, res.FaultIndex)
}

func TestProtocolDomain_ExposureBonusCapped(t *testing.T) {
	state, _, d := newProtocolFixture()
	state.SetCeiling("ETH", big.NewInt(1_000_000))
	state.AddExposure("ETH", big.NewInt(10_000_000)) // 90000 bps over

	res := d.Evaluate(context.Background(), "ETH")
	assert.Equal(t, 95, res.FaultIndex)
}

func TestProtocolDomain_WorstCheckWins(t *testing.T) {
	state, _, d := newProtocolFixture()
	state.SetStatus(protocol.StatusPaused)
	state.SetExecutionLive(false)

	res := d.Evaluate(context.Background(), "TOSS", "UNLISTED")
	assert.Equal(t, 100, res.FaultIndex)
	assert.Len(t, res.Issues, 3)
}

func TestProtocolDomain_GlobalOnlyEvaluation(t *testing.T) {
	state, _, d := newProtocolFixture()
	state.SetCeiling("ETH", big.NewInt(1))
	state.AddExposure("ETH", big.NewInt(100))

	// No assets passed: exposure and feed checks are skipped entirely.
	res := d.Evaluate(context.Background())
	assert.True(t, res.Passed)
	assert.Equal(t, 0, res.FaultIndex)
}
