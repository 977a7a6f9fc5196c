package stakes

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
)

// PostgresStore persists stakes in PostgreSQL. Amounts are stored as
// NUMERIC(78,0) smallest units and round-trip through big.Int exactly.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL stake store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, manager, fundID string) (*Stake, error) {
	stake := &Stake{Manager: manager, FundID: fundID}
	var amountStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT amount, locked_at, active
		FROM stakes WHERE manager = $1 AND fund_id = $2`,
		manager, fundID,
	).Scan(&amountStr, &stake.LockedAt, &stake.Active)
	if err == sql.ErrNoRows {
		return nil, ErrStakeNotFound
	}
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return nil, fmt.Errorf("stakes: corrupt amount %q for %s/%s", amountStr, manager, fundID)
	}
	stake.Amount = amount
	return stake, nil
}

func (s *PostgresStore) Create(ctx context.Context, stake *Stake) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stakes (manager, fund_id, amount, locked_at, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (manager, fund_id) DO NOTHING`,
		stake.Manager, stake.FundID, stake.Amount.String(), stake.LockedAt, stake.Active,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrStakeExists
	}
	return nil
}

// Reduce decreases the stake atomically in SQL, flooring at zero. GREATEST
// guarantees the stored amount can never go negative regardless of
// concurrent reductions.
func (s *PostgresStore) Reduce(ctx context.Context, manager, fundID string, amount *big.Int) (*big.Int, error) {
	var remainingStr string
	err := s.db.QueryRowContext(ctx, `
		UPDATE stakes
		SET amount = GREATEST(amount - $3::numeric, 0)
		WHERE manager = $1 AND fund_id = $2
		RETURNING amount`,
		manager, fundID, amount.String(),
	).Scan(&remainingStr)
	if err == sql.ErrNoRows {
		return nil, ErrStakeNotFound
	}
	if err != nil {
		return nil, err
	}
	remaining, ok := new(big.Int).SetString(remainingStr, 10)
	if !ok {
		return nil, fmt.Errorf("stakes: corrupt amount %q for %s/%s", remainingStr, manager, fundID)
	}
	return remaining, nil
}

func (s *PostgresStore) Close(ctx context.Context, manager, fundID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stakes SET active = FALSE WHERE manager = $1 AND fund_id = $2`,
		manager, fundID,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrStakeNotFound
	}
	return nil
}
