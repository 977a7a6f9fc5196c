package funds

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ConfigRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cfg := &Config{
		FundID:        "fund-1",
		Manager:       "0x1111111111111111111111111111111111111111",
		AllowedAssets: []string{"WETH", "WBTC"},
		Limits: RiskLimits{
			MaxPositionBPS:      2000,
			MaxConcentrationBPS: 4000,
			MaxExposureBPS:      8000,
			MaxVolatilityBPS:    3000,
			MaxDrawdownBPS:      2500,
			PriceChecksEnabled:  true,
		},
	}
	require.NoError(t, s.PutConfig(ctx, cfg))

	got, err := s.GetConfig(ctx, "fund-1")
	require.NoError(t, err)
	assert.Equal(t, cfg.Manager, got.Manager)
	assert.True(t, got.AssetAllowed("WETH"))
	assert.False(t, got.AssetAllowed("SHITCOIN"))
	assert.False(t, got.CreatedAt.IsZero())
}

func TestMemoryStore_UnknownFund(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.GetConfig(context.Background(), "nope")
	require.ErrorIs(t, err, ErrFundNotFound)

	_, err = s.Snapshot(context.Background(), "nope")
	require.ErrorIs(t, err, ErrFundNotFound)
}

func TestMemoryStore_SnapshotIsCopied(t *testing.T) {
	s := NewMemoryStore()
	s.SetVault("fund-1", &Snapshot{
		NAV:           big.NewInt(1000),
		HighWaterMark: big.NewInt(1200),
		Holdings:      map[string]*big.Int{"WETH": big.NewInt(500)},
	})

	snap, err := s.Snapshot(context.Background(), "fund-1")
	require.NoError(t, err)

	// Mutating the returned snapshot must not leak into the store.
	snap.NAV.SetInt64(1)
	snap.Holdings["WETH"].SetInt64(1)

	again, err := s.Snapshot(context.Background(), "fund-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), again.NAV.Int64())
	assert.Equal(t, int64(500), again.Holdings["WETH"].Int64())
}

func TestSnapshot_DrawdownBPS(t *testing.T) {
	tests := []struct {
		name string
		nav  int64
		hwm  int64
		want int64
	}{
		{"at high-water mark", 1200, 1200, 0},
		{"above mark", 1300, 1200, 0},
		{"five percent drop", 1140, 1200, 500},
		{"half lost", 600, 1200, 5000},
		{"no mark yet", 1000, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Snapshot{NAV: big.NewInt(tt.nav), HighWaterMark: big.NewInt(tt.hwm)}
			assert.Equal(t, tt.want, s.DrawdownBPS())
		})
	}
}

func TestMemoryStore_ListFunds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutConfig(ctx, &Config{FundID: "fund-b"}))
	require.NoError(t, s.PutConfig(ctx, &Config{FundID: "fund-a"}))

	ids, err := s.ListFunds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fund-a", "fund-b"}, ids)
}
