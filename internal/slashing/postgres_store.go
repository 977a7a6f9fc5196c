package slashing

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists slashing history in PostgreSQL. Both tables are
// append-only; nothing in this store updates or deletes rows after insert
// (a conflicting ban insert is a no-op, keeping the first record).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed slashing history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RecordEvent(ctx context.Context, ev *SlashingEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slashing_events
			(id, fund_id, manager, fault_index, slash_bps,
			 slashed, burned, compensated, stake_before, stake_after,
			 violation_id, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID, ev.FundID, ev.Manager, ev.FaultIndex, ev.SlashBPS,
		ev.Slashed, ev.Burned, ev.Compensated, ev.StakeBefore, ev.StakeAfter,
		nullable(ev.ViolationID), ev.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record slashing event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByFund(ctx context.Context, fundID string, limit int) ([]*SlashingEvent, error) {
	return s.list(ctx, "fund_id", fundID, limit)
}

func (s *PostgresStore) ListByManager(ctx context.Context, manager string, limit int) ([]*SlashingEvent, error) {
	return s.list(ctx, "manager", manager, limit)
}

func (s *PostgresStore) list(ctx context.Context, col, val string, limit int) ([]*SlashingEvent, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, fund_id, manager, fault_index, slash_bps,
		       slashed, burned, compensated, stake_before, stake_after,
		       COALESCE(violation_id, ''), executed_at
		FROM slashing_events
		WHERE %s = $1
		ORDER BY executed_at DESC
		LIMIT $2`, col), val, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list slashing events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*SlashingEvent
	for rows.Next() {
		var ev SlashingEvent
		if err := rows.Scan(
			&ev.ID, &ev.FundID, &ev.Manager, &ev.FaultIndex, &ev.SlashBPS,
			&ev.Slashed, &ev.Burned, &ev.Compensated, &ev.StakeBefore, &ev.StakeAfter,
			&ev.ViolationID, &ev.ExecutedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &ev)
	}
	return result, rows.Err()
}

func (s *PostgresStore) RecordBan(ctx context.Context, ban *BanRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bans (manager, fund_id, fault_index, event_id, banned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (manager) DO NOTHING`,
		ban.Manager, ban.FundID, ban.FaultIndex, ban.EventID, ban.BannedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record ban: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBan(ctx context.Context, manager string) (*BanRecord, error) {
	ban := &BanRecord{Manager: manager}
	err := s.db.QueryRowContext(ctx, `
		SELECT fund_id, fault_index, event_id, banned_at
		FROM bans WHERE manager = $1`,
		manager,
	).Scan(&ban.FundID, &ban.FaultIndex, &ban.EventID, &ban.BannedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoBan
	}
	if err != nil {
		return nil, err
	}
	return ban, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
