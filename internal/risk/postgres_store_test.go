package risk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toss-platform/riskd/internal/pagination"
	"github.com/toss-platform/riskd/internal/testutil"
)

func TestPostgresStore_ViolationsRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		err := store.RecordViolation(ctx, &Violation{
			ID:            fmt.Sprintf("vio_pg_%d", i),
			FundID:        "fund_pg",
			FaultIndex:    30 + i,
			ViolationType: "position_limit",
			Details:       "trade size exceeds limit",
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	// Newest first.
	vios, err := store.ListViolations(ctx, "fund_pg", nil, 10)
	require.NoError(t, err)
	require.Len(t, vios, 5)
	assert.Equal(t, "vio_pg_5", vios[0].ID)
	assert.Equal(t, "vio_pg_1", vios[4].ID)
	assert.Equal(t, 35, vios[0].FaultIndex)
	assert.Equal(t, "trade size exceeds limit", vios[0].Details)

	// Resume from a cursor mid-list.
	cur := &pagination.Cursor{CreatedAt: vios[1].CreatedAt, ID: vios[1].ID}
	page, err := store.ListViolations(ctx, "fund_pg", cur, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "vio_pg_3", page[0].ID)

	// Other funds unaffected.
	none, err := store.ListViolations(ctx, "fund_other", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgresStore_ApprovalLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	hash := "0xabcd012345678901234567890123456789012345678901234567890123456789"

	approval := &Approval{
		TradeHash:  hash,
		FundID:     "fund_pg",
		FaultIndex: 5,
		IssuedAt:   now,
		Deadline:   now.Add(5 * time.Minute),
	}
	require.NoError(t, store.PutApproval(ctx, approval))

	got, err := store.GetApproval(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "fund_pg", got.FundID)
	assert.False(t, got.Consumed)

	consumed, err := store.ConsumeApproval(ctx, hash, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, consumed.Consumed)
	require.NotNil(t, consumed.ConsumedAt)

	// Second consume fails.
	_, err = store.ConsumeApproval(ctx, hash, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrApprovalConsumed)

	// Reissue after consumption is refused.
	err = store.PutApproval(ctx, approval)
	assert.ErrorIs(t, err, ErrApprovalConsumed)
}

func TestPostgresStore_ApprovalExpiry(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	hash := "0x1111111111111111111111111111111111111111111111111111111111111111"

	require.NoError(t, store.PutApproval(ctx, &Approval{
		TradeHash:  hash,
		FundID:     "fund_pg",
		FaultIndex: 0,
		IssuedAt:   now,
		Deadline:   now.Add(time.Minute),
	}))

	_, err := store.ConsumeApproval(ctx, hash, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrApprovalExpired)

	_, err = store.ConsumeApproval(ctx, "0x2222222222222222222222222222222222222222222222222222222222222222", now)
	assert.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestPostgresStore_SuspensionLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := store.GetSuspension(ctx, "fund_pg")
	assert.ErrorIs(t, err, ErrNotSuspended)

	require.NoError(t, store.Suspend(ctx, &Suspension{
		FundID:      "fund_pg",
		Reason:      "guardian manual review",
		SuspendedAt: now,
	}))

	susp, err := store.GetSuspension(ctx, "fund_pg")
	require.NoError(t, err)
	assert.Equal(t, "guardian manual review", susp.Reason)

	require.NoError(t, store.Resume(ctx, "fund_pg"))

	_, err = store.GetSuspension(ctx, "fund_pg")
	assert.ErrorIs(t, err, ErrNotSuspended)

	assert.ErrorIs(t, store.Resume(ctx, "fund_pg"), ErrNotSuspended)
}
