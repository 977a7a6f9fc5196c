package protocol

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"active", "paused", "emergency"} {
		st, err := ParseStatus(valid)
		require.NoError(t, err)
		assert.Equal(t, Status(valid), st)
	}

	_, err := ParseStatus("halted")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestNewState_Defaults(t *testing.T) {
	s := NewState()

	assert.Equal(t, StatusActive, s.Status())
	assert.True(t, s.ExecutionLive())
}

func TestState_StatusTransitions(t *testing.T) {
	s := NewState()

	s.SetStatus(StatusPaused)
	assert.Equal(t, StatusPaused, s.Status())

	s.SetStatus(StatusEmergency)
	assert.Equal(t, StatusEmergency, s.Status())

	s.SetExecutionLive(false)
	assert.False(t, s.ExecutionLive())
}

func TestState_ExposureAccumulates(t *testing.T) {
	s := NewState()

	s.AddExposure("ETH", big.NewInt(500))
	s.AddExposure("ETH", big.NewInt(300))

	e := s.Exposure("ETH")
	assert.Equal(t, "800", e.Total.String())
	assert.Nil(t, e.Ceiling)
}

func TestState_ExposureFloorsAtZero(t *testing.T) {
	s := NewState()

	s.AddExposure("ETH", big.NewInt(100))
	s.AddExposure("ETH", big.NewInt(-250))

	assert.Equal(t, "0", s.Exposure("ETH").Total.String())
}

func TestState_ExposureUnknownAsset(t *testing.T) {
	s := NewState()

	e := s.Exposure("BTC")
	assert.Equal(t, "0", e.Total.String())
	assert.Nil(t, e.Ceiling)
}

func TestState_ExposureReturnsCopies(t *testing.T) {
	s := NewState()
	s.AddExposure("ETH", big.NewInt(100))
	s.SetCeiling("ETH", big.NewInt(1000))

	e := s.Exposure("ETH")
	e.Total.SetInt64(999)
	e.Ceiling.SetInt64(1)

	again := s.Exposure("ETH")
	assert.Equal(t, "100", again.Total.String())
	assert.Equal(t, "1000", again.Ceiling.String())
}

func TestExposure_OverBPS(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		ceiling int64
		want    int64
	}{
		{"under ceiling", 900, 1000, 0},
		{"at ceiling", 1000, 1000, 0},
		{"10 percent over", 1100, 1000, 1000},
		{"double", 2000, 1000, 10000},
		{"fractional floors", 1001, 1000, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Exposure{
				Asset:   "ETH",
				Total:   big.NewInt(tt.total),
				Ceiling: big.NewInt(tt.ceiling),
			}
			assert.Equal(t, tt.want, e.OverBPS())
		})
	}
}

func TestExposure_OverBPS_NoCeiling(t *testing.T) {
	e := &Exposure{Asset: "ETH", Total: big.NewInt(5000)}
	assert.Equal(t, int64(0), e.OverBPS())

	e.Ceiling = big.NewInt(0)
	assert.Equal(t, int64(0), e.OverBPS())
}
