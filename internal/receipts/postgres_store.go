package receipts

import (
	"context"
	"database/sql"
)

// PostgresStore persists receipt data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed receipt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, r *Receipt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO receipts (
			id, event_id, fund_id, manager, fault_index,
			slashed, burned, compensated, payload_hash, signature,
			issued_at, expires_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13
		)`,
		r.ID, r.EventID, r.FundID, r.Manager, r.FaultIndex,
		r.Slashed, r.Burned, r.Compensated, r.PayloadHash, r.Signature,
		r.IssuedAt, r.ExpiresAt, r.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, event_id, fund_id, manager, fault_index,
		       slashed, burned, compensated, payload_hash, signature,
		       issued_at, expires_at, created_at
		FROM receipts WHERE id = $1`, id)

	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) GetByEvent(ctx context.Context, eventID string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, event_id, fund_id, manager, fault_index,
		       slashed, burned, compensated, payload_hash, signature,
		       issued_at, expires_at, created_at
		FROM receipts WHERE event_id = $1`, eventID)

	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) ListByFund(ctx context.Context, fundID string, limit int) ([]*Receipt, error) {
	return p.list(ctx, "fund_id", fundID, limit)
}

func (p *PostgresStore) ListByManager(ctx context.Context, manager string, limit int) ([]*Receipt, error) {
	return p.list(ctx, "manager", manager, limit)
}

func (p *PostgresStore) list(ctx context.Context, col, val string, limit int) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, event_id, fund_id, manager, fault_index,
		       slashed, burned, compensated, payload_hash, signature,
		       issued_at, expires_at, created_at
		FROM receipts
		WHERE `+col+` = $1
		ORDER BY created_at DESC
		LIMIT $2`, val, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanReceipts(rows)
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(sc scanner) (*Receipt, error) {
	r := &Receipt{}
	err := sc.Scan(
		&r.ID, &r.EventID, &r.FundID, &r.Manager, &r.FaultIndex,
		&r.Slashed, &r.Burned, &r.Compensated, &r.PayloadHash, &r.Signature,
		&r.IssuedAt, &r.ExpiresAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func scanReceipts(rows *sql.Rows) ([]*Receipt, error) {
	var result []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
