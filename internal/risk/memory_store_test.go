package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toss-platform/riskd/internal/pagination"
)

func TestMemoryStore_ViolationsMostRecentFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"vio_a", "vio_b", "vio_c"} {
		require.NoError(t, s.RecordViolation(ctx, &Violation{
			ID:         id,
			FundID:     "fund_1",
			FaultIndex: 30 + i,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	vios, err := s.ListViolations(ctx, "fund_1", nil, 2)
	require.NoError(t, err)
	require.Len(t, vios, 2)
	assert.Equal(t, "vio_c", vios[0].ID)
	assert.Equal(t, "vio_b", vios[1].ID)

	// Resume from where the first page left off.
	rest, err := s.ListViolations(ctx, "fund_1", &pagination.Cursor{
		CreatedAt: vios[1].CreatedAt,
		ID:        vios[1].ID,
	}, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "vio_a", rest[0].ID)
}

func TestMemoryStore_ApprovalLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	issued := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	a := &Approval{
		TradeHash: "0xabc",
		FundID:    "fund_1",
		IssuedAt:  issued,
		Deadline:  issued.Add(5 * time.Minute),
	}
	require.NoError(t, s.PutApproval(ctx, a))

	// Overwriting an unconsumed approval is fine (re-validation).
	require.NoError(t, s.PutApproval(ctx, a))

	got, err := s.ConsumeApproval(ctx, "0xabc", issued.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, got.Consumed)

	// Consumed is terminal: no re-consumption, no reissue.
	_, err = s.ConsumeApproval(ctx, "0xabc", issued.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrApprovalConsumed)
	require.ErrorIs(t, s.PutApproval(ctx, a), ErrApprovalConsumed)
}

func TestMemoryStore_ConsumeExpired(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	issued := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutApproval(ctx, &Approval{
		TradeHash: "0xabc",
		Deadline:  issued.Add(5 * time.Minute),
	}))

	_, err := s.ConsumeApproval(ctx, "0xabc", issued.Add(6*time.Minute))
	require.ErrorIs(t, err, ErrApprovalExpired)

	_, err = s.ConsumeApproval(ctx, "0xmissing", issued)
	require.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestMemoryStore_Suspensions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetSuspension(ctx, "fund_1")
	require.ErrorIs(t, err, ErrNotSuspended)

	require.NoError(t, s.Suspend(ctx, &Suspension{FundID: "fund_1", Reason: "audit"}))
	susp, err := s.GetSuspension(ctx, "fund_1")
	require.NoError(t, err)
	assert.Equal(t, "audit", susp.Reason)

	require.NoError(t, s.Resume(ctx, "fund_1"))
	require.ErrorIs(t, s.Resume(ctx, "fund_1"), ErrNotSuspended)
}

func TestMemoryStore_CopiesOnRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.RecordViolation(ctx, &Violation{ID: "vio_a", FundID: "fund_1"}))
	vios, err := s.ListViolations(ctx, "fund_1", nil, 10)
	require.NoError(t, err)
	vios[0].ID = "mutated"

	again, err := s.ListViolations(ctx, "fund_1", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, "vio_a", again[0].ID)
}
