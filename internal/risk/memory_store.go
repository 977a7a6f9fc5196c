package risk

import (
	"context"
	"sync"
	"time"

	"github.com/toss-platform/riskd/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	violations  map[string][]*Violation // fundID -> append-only history
	approvals   map[string]*Approval    // tradeHash -> approval
	suspensions map[string]*Suspension
}

// NewMemoryStore creates an in-memory risk store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		violations:  make(map[string][]*Violation),
		approvals:   make(map[string]*Approval),
		suspensions: make(map[string]*Suspension),
	}
}

func (s *MemoryStore) RecordViolation(ctx context.Context, v *Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *v
	s.violations[v.FundID] = append(s.violations[v.FundID], &cp)
	return nil
}

func (s *MemoryStore) ListViolations(ctx context.Context, fundID string, cursor *pagination.Cursor, limit int) ([]*Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.violations[fundID]
	if len(all) == 0 {
		return nil, nil
	}
	result := make([]*Violation, 0, limit)
	for i := len(all) - 1; i >= 0; i-- {
		v := all[i]
		if cursor != nil {
			if v.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if v.CreatedAt.Equal(cursor.CreatedAt) && v.ID >= cursor.ID {
				continue
			}
		}
		cp := *v
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// PutApproval stores an approval keyed by trade hash. A hash whose
// approval was already consumed is never reissuable; that would reopen
// the replay window the consumption flag closed.
func (s *MemoryStore) PutApproval(ctx context.Context, a *Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.approvals[a.TradeHash]; ok && existing.Consumed {
		return ErrApprovalConsumed
	}
	cp := *a
	s.approvals[a.TradeHash] = &cp
	return nil
}

func (s *MemoryStore) GetApproval(ctx context.Context, tradeHash string) (*Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.approvals[tradeHash]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ConsumeApproval(ctx context.Context, tradeHash string, now time.Time) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.approvals[tradeHash]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	if a.Consumed {
		return nil, ErrApprovalConsumed
	}
	if now.After(a.Deadline) {
		return nil, ErrApprovalExpired
	}
	a.Consumed = true
	t := now
	a.ConsumedAt = &t

	cp := *a
	return &cp, nil
}

func (s *MemoryStore) Suspend(ctx context.Context, susp *Suspension) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *susp
	s.suspensions[susp.FundID] = &cp
	return nil
}

func (s *MemoryStore) Resume(ctx context.Context, fundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suspensions[fundID]; !ok {
		return ErrNotSuspended
	}
	delete(s.suspensions, fundID)
	return nil
}

func (s *MemoryStore) GetSuspension(ctx context.Context, fundID string) (*Suspension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	susp, ok := s.suspensions[fundID]
	if !ok {
		return nil, ErrNotSuspended
	}
	cp := *susp
	return &cp, nil
}
