package stakes

import (
	"context"
	"math/big"
	"sync"
)

// MemoryStore is an in-memory Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	stakes map[string]*Stake // manager|fundID → stake
}

// NewMemoryStore creates an in-memory stake store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stakes: make(map[string]*Stake)}
}

func stakeKey(manager, fundID string) string {
	return manager + "|" + fundID
}

func (s *MemoryStore) Get(ctx context.Context, manager, fundID string) (*Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stake, ok := s.stakes[stakeKey(manager, fundID)]
	if !ok {
		return nil, ErrStakeNotFound
	}
	out := *stake
	out.Amount = new(big.Int).Set(stake.Amount)
	return &out, nil
}

func (s *MemoryStore) Create(ctx context.Context, stake *Stake) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stakeKey(stake.Manager, stake.FundID)
	if _, ok := s.stakes[key]; ok {
		return ErrStakeExists
	}
	c := *stake
	c.Amount = new(big.Int).Set(stake.Amount)
	s.stakes[key] = &c
	return nil
}

func (s *MemoryStore) Reduce(ctx context.Context, manager, fundID string, amount *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stake, ok := s.stakes[stakeKey(manager, fundID)]
	if !ok {
		return nil, ErrStakeNotFound
	}
	if amount.Cmp(stake.Amount) >= 0 {
		stake.Amount = big.NewInt(0)
	} else {
		stake.Amount = new(big.Int).Sub(stake.Amount, amount)
	}
	return new(big.Int).Set(stake.Amount), nil
}

func (s *MemoryStore) Close(ctx context.Context, manager, fundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stake, ok := s.stakes[stakeKey(manager, fundID)]
	if !ok {
		return ErrStakeNotFound
	}
	stake.Active = false
	return nil
}
