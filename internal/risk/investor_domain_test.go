package risk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInvestorFixture() (*InvestorDomain, *time.Time) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	d := NewInvestorDomain().WithClock(func() time.Time { return now })
	return d, &now
}

func TestInvestorDomain_NoActivityPasses(t *testing.T) {
	d, _ := newInvestorFixture()

	res := d.Evaluate(context.Background(), "fund_1")
	assert.True(t, res.Passed)
	assert.Equal(t, 0, res.FaultIndex)
}

func TestInvestorDomain_RejectsBadActions(t *testing.T) {
	d, _ := newInvestorFixture()

	err := d.RecordAction("inv_1", "fund_1", Action("transfer"), tokenUnits(10))
	require.ErrorIs(t, err, ErrUnknownAction)

	err = d.RecordAction("inv_1", "fund_1", ActionDeposit, tokenUnits(0))
	require.ErrorIs(t, err, ErrInvalidRequest)

	err = d.RecordAction("inv_1", "fund_1", ActionDeposit, nil)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestInvestorDomain_WithdrawalRatioWarning(t *testing.T) {
	d, _ := newInvestorFixture()

	require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionDeposit, tokenUnits(100)))
	require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionWithdrawal, tokenUnits(50)))

	res := d.Evaluate(context.Background(), "fund_1")
	assert.False(t, res.Passed)
	assert.Equal(t, 20, res.FaultIndex)
	assert.Equal(t, 20, res.Components.Behavior)
	assert.Equal(t, 0, res.Components.Intent)
}

func TestInvestorDomain_WithdrawalRatioHigh(t *testing.T) {
	d, _ := newInvestorFixture()

	require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionDeposit, tokenUnits(100)))
	require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionWithdrawal, tokenUnits(80)))

	res := d.Evaluate(context.Background(), "fund_1")
	assert.Equal(t, 50, res.FaultIndex)
}

func TestInvestorDomain_DepositCycling(t *testing.T) {
	d, _ := newInvestorFixture()

	// Two full round trips with negligible amounts: the cycling signal is
	// count-based, not amount-based.
	for i := 0; i < 2; i++ {
		require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionDeposit, tokenUnits(100)))
		require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionWithdrawal, tokenUnits(1)))
	}

	res := d.Evaluate(context.Background(), "fund_1")
	assert.Equal(t, 40, res.FaultIndex)
	assert.Equal(t, 40, res.Components.Behavior)
}

func TestInvestorDomain_CyclingNeedsTwoDeposits(t *testing.T) {
	d, _ := newInvestorFixture()

	require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionDeposit, tokenUnits(100)))
	require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionWithdrawal, tokenUnits(1)))

	res := d.Evaluate(context.Background(), "fund_1")
	assert.Equal(t, 0, res.FaultIndex)
}

func TestInvestorDomain_PanicSellingAfterNAVDrop(t *testing.T) {
	d, now := newInvestorFixture()

	d.RecordNAV("fund_1", tokenUnits(1000))
	d.RecordNAV("fund_1", tokenUnits(940)) // 600 bps below the mark

	*now = now.Add(2 * time.Hour)
	require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionWithdrawal, tokenUnits(10)))

	res := d.Evaluate(context.Background(), "fund_1")
	assert.Equal(t, 25, res.FaultIndex)
	assert.Equal(t, 25, res.Components.Behavior)
}

func TestInvestorDomain_PanicSellingBigDrop(t *testing.T) {
	d, now := newInvestorFixture()

	d.RecordNAV("fund_1", tokenUnits(1000))
	d.RecordNAV("fund_1", tokenUnits(880)) // 1200 bps below the mark

	*now = now.Add(time.Hour)
	require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionWithdrawal, tokenUnits(10)))

	res := d.Evaluate(context.Background(), "fund_1")
	assert.Equal(t, 60, res.FaultIndex)
}

func TestInvestorDomain_PanicWindowExpires(t *testing.T) {
	d, now := newInvestorFixture()

	d.RecordNAV("fund_1", tokenUnits(1000))
	d.RecordNAV("fund_1", tokenUnits(940))

	*now = now.Add(25 * time.Hour)
	require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionWithdrawal, tokenUnits(10)))

	res := d.Evaluate(context.Background(), "fund_1")
	assert.Equal(t, 0, res.FaultIndex)
}

func TestInvestorDomain_RecoveryClearsDrop(t *testing.T) {
	d, now := newInvestorFixture()

	d.RecordNAV("fund_1", tokenUnits(1000))
	d.RecordNAV("fund_1", tokenUnits(940))
	d.RecordNAV("fund_1", tokenUnits(1010)) // new high-water mark

	*now = now.Add(time.Hour)
	require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionWithdrawal, tokenUnits(10)))

	res := d.Evaluate(context.Background(), "fund_1")
	assert.Equal(t, 0, res.FaultIndex)
}

func TestInvestorDomain_CoordinatedWithdrawals(t *testing.T) {
	tests := []struct {
		name        string
		withdrawals int
		wantIntent  int
	}{
		{"below cluster threshold", 2, 0},
		{"small cluster", 3, 30},
		{"medium cluster", 5, 70},
		{"large cluster", 10, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, now := newInvestorFixture()

			d.RecordNAV("fund_1", tokenUnits(1000))
			d.RecordNAV("fund_1", tokenUnits(940))

			*now = now.Add(10 * time.Minute)
			for i := 0; i < tt.withdrawals; i++ {
				inv := fmt.Sprintf("inv_%d", i)
				require.NoError(t, d.RecordAction(inv, "fund_1", ActionWithdrawal, tokenUnits(10)))
			}

			res := d.Evaluate(context.Background(), "fund_1")
			assert.Equal(t, tt.wantIntent, res.Components.Intent)
			// Each withdrawal also trips the panic signal (+25).
			assert.Equal(t, capScore(tt.wantIntent+25), res.FaultIndex)
		})
	}
}

func TestInvestorDomain_FundsAreIsolated(t *testing.T) {
	d, _ := newInvestorFixture()

	require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionDeposit, tokenUnits(100)))
	require.NoError(t, d.RecordAction("inv_1", "fund_1", ActionWithdrawal, tokenUnits(90)))

	res := d.Evaluate(context.Background(), "fund_2")
	assert.True(t, res.Passed)
	assert.Equal(t, 0, res.FaultIndex)
}
