// Package stakes holds each manager's posted collateral per fund.
//
// The fund-lifecycle subsystem creates and closes stakes; the slashing
// engine is handed only the decrease-side methods (GetStake/ReduceStake).
// Nothing in this package can grow a stake after creation — reduction is
// the only mutation of Amount.
package stakes

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// Errors
var (
	ErrStakeNotFound = errors.New("stakes: stake not found")
	ErrStakeExists   = errors.New("stakes: stake already exists")
	ErrStakeInactive = errors.New("stakes: stake is not active")
	ErrInvalidAmount = errors.New("stakes: invalid amount")
)

// Stake is a manager's posted collateral for one fund. Amount is in
// smallest token units.
type Stake struct {
	Manager  string    `json:"manager"`
	FundID   string    `json:"fundId"`
	Amount   *big.Int  `json:"amount"`
	LockedAt time.Time `json:"lockedAt"`
	Active   bool      `json:"active"`
}

// Store persists stake records.
type Store interface {
	Get(ctx context.Context, manager, fundID string) (*Stake, error)
	Create(ctx context.Context, stake *Stake) error
	// Reduce decreases the stake by amount, flooring at zero, and returns
	// the remaining amount. It never increases a stake.
	Reduce(ctx context.Context, manager, fundID string, amount *big.Int) (*big.Int, error)
	Close(ctx context.Context, manager, fundID string) error
}

// Ledger wraps a Store with validation. Its decrease-side methods satisfy
// the capability interface the slashing engine declares.
type Ledger struct {
	store Store
}

// NewLedger creates a stake ledger over the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// GetStake returns the stake for (manager, fund).
func (l *Ledger) GetStake(ctx context.Context, manager, fundID string) (*Stake, error) {
	return l.store.Get(ctx, manager, fundID)
}

// ReduceStake decreases the stake by amount. The reduction is capped at the
// current stake — the remaining amount never goes negative.
func (l *Ledger) ReduceStake(ctx context.Context, manager, fundID string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	stake, err := l.store.Get(ctx, manager, fundID)
	if err != nil {
		return err
	}
	if !stake.Active {
		return ErrStakeInactive
	}
	_, err = l.store.Reduce(ctx, manager, fundID, amount)
	return err
}

// CreateStake posts collateral for (manager, fund). Owned by the external
// fund-lifecycle flow, not by the risk or slashing engines.
func (l *Ledger) CreateStake(ctx context.Context, manager, fundID string, amount *big.Int) (*Stake, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	stake := &Stake{
		Manager:  manager,
		FundID:   fundID,
		Amount:   new(big.Int).Set(amount),
		LockedAt: time.Now(),
		Active:   true,
	}
	if err := l.store.Create(ctx, stake); err != nil {
		return nil, err
	}
	return stake, nil
}

// CloseStake deactivates a stake (fund closure path).
func (l *Ledger) CloseStake(ctx context.Context, manager, fundID string) error {
	return l.store.Close(ctx, manager, fundID)
}
