package slashing

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu        sync.RWMutex
	byFund    map[string][]*SlashingEvent
	byManager map[string][]*SlashingEvent
	bans      map[string]*BanRecord
}

// NewMemoryStore creates an in-memory slashing history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byFund:    make(map[string][]*SlashingEvent),
		byManager: make(map[string][]*SlashingEvent),
		bans:      make(map[string]*BanRecord),
	}
}

func (s *MemoryStore) RecordEvent(ctx context.Context, ev *SlashingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ev
	s.byFund[ev.FundID] = append(s.byFund[ev.FundID], &cp)
	s.byManager[ev.Manager] = append(s.byManager[ev.Manager], &cp)
	return nil
}

func (s *MemoryStore) ListByFund(ctx context.Context, fundID string, limit int) ([]*SlashingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRecent(s.byFund[fundID], limit), nil
}

func (s *MemoryStore) ListByManager(ctx context.Context, manager string, limit int) ([]*SlashingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRecent(s.byManager[manager], limit), nil
}

func (s *MemoryStore) RecordBan(ctx context.Context, ban *BanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, banned := s.bans[ban.Manager]; banned {
		return nil // first ban wins
	}
	cp := *ban
	s.bans[ban.Manager] = &cp
	return nil
}

func (s *MemoryStore) GetBan(ctx context.Context, manager string) (*BanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ban, ok := s.bans[manager]
	if !ok {
		return nil, ErrNoBan
	}
	cp := *ban
	return &cp, nil
}

// copyRecent returns up to limit events, most recent first.
func copyRecent(all []*SlashingEvent, limit int) []*SlashingEvent {
	if len(all) == 0 {
		return nil
	}
	start := len(all) - limit
	if start < 0 || limit <= 0 {
		start = 0
	}
	result := make([]*SlashingEvent, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		cp := *all[i]
		result = append(result, &cp)
	}
	return result
}
