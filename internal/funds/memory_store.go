package funds

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory ConfigStore and VaultSource for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]*Config
	vaults  map[string]*Snapshot
	now     func() time.Time
}

// NewMemoryStore creates an in-memory fund store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs: make(map[string]*Config),
		vaults:  make(map[string]*Snapshot),
		now:     time.Now,
	}
}

// WithClock overrides the time source (for tests).
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) GetConfig(ctx context.Context, fundID string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[fundID]
	if !ok {
		return nil, ErrFundNotFound
	}
	out := *cfg
	out.AllowedAssets = append([]string(nil), cfg.AllowedAssets...)
	return &out, nil
}

func (s *MemoryStore) PutConfig(ctx context.Context, cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *cfg
	c.AllowedAssets = append([]string(nil), cfg.AllowedAssets...)
	if existing, ok := s.configs[cfg.FundID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.UpdatedAt = s.now()
	s.configs[cfg.FundID] = &c
	return nil
}

func (s *MemoryStore) ListFunds(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SetVault stores the current vault snapshot for a fund. Called by the vault
// integration; tests use it to stage fund state.
func (s *MemoryStore) SetVault(fundID string, snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := copySnapshot(snap)
	c.FundID = fundID
	if c.AsOf.IsZero() {
		c.AsOf = s.now()
	}
	s.vaults[fundID] = c
}

func (s *MemoryStore) Snapshot(ctx context.Context, fundID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.vaults[fundID]
	if !ok {
		return nil, ErrFundNotFound
	}
	return copySnapshot(snap), nil
}

func copySnapshot(in *Snapshot) *Snapshot {
	out := &Snapshot{
		FundID:        in.FundID,
		VolatilityBPS: in.VolatilityBPS,
		AsOf:          in.AsOf,
		Holdings:      make(map[string]*big.Int, len(in.Holdings)),
	}
	if in.NAV != nil {
		out.NAV = new(big.Int).Set(in.NAV)
	}
	if in.HighWaterMark != nil {
		out.HighWaterMark = new(big.Int).Set(in.HighWaterMark)
	}
	for asset, amt := range in.Holdings {
		out.Holdings[asset] = new(big.Int).Set(amt)
	}
	return out
}
