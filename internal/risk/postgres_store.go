package risk

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/toss-platform/riskd/internal/pagination"
)

// PostgresStore persists violations, approvals, and suspensions in
// PostgreSQL. Violations are append-only; approvals flip consumed
// exactly once via a guarded UPDATE.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed risk store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RecordViolation(ctx context.Context, v *Violation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (id, fund_id, fault_index, violation_type, details, slashing_triggered, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.FundID, v.FaultIndex, v.ViolationType, v.Details, v.SlashingTriggered, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record violation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListViolations(ctx context.Context, fundID string, cursor *pagination.Cursor, limit int) ([]*Violation, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, fund_id, fault_index, violation_type, details, slashing_triggered, created_at
			FROM violations
			WHERE fund_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, fundID, cursor.CreatedAt, cursor.ID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, fund_id, fault_index, violation_type, details, slashing_triggered, created_at
			FROM violations
			WHERE fund_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, fundID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Violation
	for rows.Next() {
		var v Violation
		if err := rows.Scan(&v.ID, &v.FundID, &v.FaultIndex, &v.ViolationType, &v.Details, &v.SlashingTriggered, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &v)
	}
	return result, rows.Err()
}

// PutApproval inserts or refreshes an approval. The guarded upsert never
// touches a consumed row, so a consumed trade hash stays consumed.
func (s *PostgresStore) PutApproval(ctx context.Context, a *Approval) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (trade_hash, fund_id, fault_index, issued_at, deadline, consumed)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		ON CONFLICT (trade_hash) DO UPDATE SET
			fund_id = EXCLUDED.fund_id,
			fault_index = EXCLUDED.fault_index,
			issued_at = EXCLUDED.issued_at,
			deadline = EXCLUDED.deadline
		WHERE approvals.consumed = FALSE`,
		a.TradeHash, a.FundID, a.FaultIndex, a.IssuedAt, a.Deadline,
	)
	if err != nil {
		return fmt.Errorf("failed to put approval: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrApprovalConsumed
	}
	return nil
}

func (s *PostgresStore) GetApproval(ctx context.Context, tradeHash string) (*Approval, error) {
	a := &Approval{TradeHash: tradeHash}
	var consumedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT fund_id, fault_index, issued_at, deadline, consumed, consumed_at
		FROM approvals WHERE trade_hash = $1`, tradeHash,
	).Scan(&a.FundID, &a.FaultIndex, &a.IssuedAt, &a.Deadline, &a.Consumed, &consumedAt)
	if err == sql.ErrNoRows {
		return nil, ErrApprovalNotFound
	}
	if err != nil {
		return nil, err
	}
	if consumedAt.Valid {
		a.ConsumedAt = &consumedAt.Time
	}
	return a, nil
}

// ConsumeApproval flips consumed in one guarded UPDATE; concurrent
// attempts race on the row and exactly one wins. A miss is then read
// back to report the precise failure mode.
func (s *PostgresStore) ConsumeApproval(ctx context.Context, tradeHash string, now time.Time) (*Approval, error) {
	a := &Approval{TradeHash: tradeHash, Consumed: true}
	err := s.db.QueryRowContext(ctx, `
		UPDATE approvals
		SET consumed = TRUE, consumed_at = $2
		WHERE trade_hash = $1 AND consumed = FALSE AND deadline > $2
		RETURNING fund_id, fault_index, issued_at, deadline`,
		tradeHash, now,
	).Scan(&a.FundID, &a.FaultIndex, &a.IssuedAt, &a.Deadline)
	if err == nil {
		t := now
		a.ConsumedAt = &t
		return a, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	existing, getErr := s.GetApproval(ctx, tradeHash)
	if getErr != nil {
		return nil, getErr // ErrApprovalNotFound
	}
	if existing.Consumed {
		return nil, ErrApprovalConsumed
	}
	return nil, ErrApprovalExpired
}

func (s *PostgresStore) Suspend(ctx context.Context, susp *Suspension) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fund_suspensions (fund_id, reason, suspended_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (fund_id) DO UPDATE SET
			reason = EXCLUDED.reason,
			suspended_at = EXCLUDED.suspended_at`,
		susp.FundID, susp.Reason, susp.SuspendedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to suspend fund: %w", err)
	}
	return nil
}

func (s *PostgresStore) Resume(ctx context.Context, fundID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM fund_suspensions WHERE fund_id = $1`, fundID)
	if err != nil {
		return fmt.Errorf("failed to resume fund: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotSuspended
	}
	return nil
}

func (s *PostgresStore) GetSuspension(ctx context.Context, fundID string) (*Suspension, error) {
	susp := &Suspension{FundID: fundID}
	err := s.db.QueryRowContext(ctx, `
		SELECT reason, suspended_at FROM fund_suspensions WHERE fund_id = $1`, fundID,
	).Scan(&susp.Reason, &susp.SuspendedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotSuspended
	}
	if err != nil {
		return nil, err
	}
	return susp, nil
}
