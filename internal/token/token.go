// Package token provides the narrow token-ledger capability the slashing
// engine needs: burning collateral (supply-reducing) and transferring the
// NAV-compensation share to the treasury.
//
// The slashing engine only ever sees the Ledger interface. The in-memory
// implementation backs tests and development; the ERC-20 adapter backs
// deployments where the stake token lives on-chain.
package token

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"
)

var (
	ErrInvalidAmount = errors.New("token: invalid amount")
	ErrBurnFailed    = errors.New("token: burn failed")
)

// Ledger is the write-only capability handed to the slashing engine.
// There is deliberately no mint or balance-increase operation here.
type Ledger interface {
	// Burn irreversibly removes amount from total supply.
	Burn(ctx context.Context, amount *big.Int) error
	// Transfer moves amount to the given address (treasury/NAV-repair path).
	Transfer(ctx context.Context, to string, amount *big.Int) error
}

// Movement records one burn or transfer for audit reads.
type Movement struct {
	Kind      string    `json:"kind"` // "burn" or "transfer"
	To        string    `json:"to,omitempty"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryLedger is an in-memory Ledger for demo/test use. It tracks total
// supply and per-address credits so tests can assert conservation.
type MemoryLedger struct {
	mu        sync.Mutex
	supply    *big.Int
	burned    *big.Int
	balances  map[string]*big.Int
	movements []Movement
}

// NewMemoryLedger creates an in-memory token ledger with the given initial
// supply (smallest units).
func NewMemoryLedger(supply *big.Int) *MemoryLedger {
	if supply == nil {
		supply = big.NewInt(0)
	}
	return &MemoryLedger{
		supply:   new(big.Int).Set(supply),
		burned:   big.NewInt(0),
		balances: make(map[string]*big.Int),
	}
}

func (l *MemoryLedger) Burn(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.supply.Cmp(amount) < 0 {
		return ErrBurnFailed
	}
	l.supply.Sub(l.supply, amount)
	l.burned.Add(l.burned, amount)
	l.movements = append(l.movements, Movement{
		Kind:      "burn",
		Amount:    amount.String(),
		Timestamp: time.Now(),
	})
	return nil
}

func (l *MemoryLedger) Transfer(ctx context.Context, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[to]
	if !ok {
		bal = big.NewInt(0)
		l.balances[to] = bal
	}
	bal.Add(bal, amount)
	l.movements = append(l.movements, Movement{
		Kind:      "transfer",
		To:        to,
		Amount:    amount.String(),
		Timestamp: time.Now(),
	})
	return nil
}

// TotalSupply returns the current supply.
func (l *MemoryLedger) TotalSupply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.supply)
}

// TotalBurned returns the lifetime burned amount.
func (l *MemoryLedger) TotalBurned() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.burned)
}

// BalanceOf returns the credited balance of an address.
func (l *MemoryLedger) BalanceOf(addr string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Movements returns a copy of the full movement log.
func (l *MemoryLedger) Movements() []Movement {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Movement, len(l.movements))
	copy(out, l.movements)
	return out
}
