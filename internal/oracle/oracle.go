// Package oracle provides the price-and-confidence read capability the risk
// domains consume. Pricing internals are external to the engine; this package
// only defines the narrow interface plus an in-memory source for tests and
// development.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"
)

var (
	ErrNoQuote    = errors.New("oracle: no quote for asset")
	ErrStaleQuote = errors.New("oracle: quote is stale")
)

// Quote is one asset price observation. Price is in smallest reference-token
// units per whole asset unit; Confidence is in basis points (10000 = fully
// confident).
type Quote struct {
	Asset         string    `json:"asset"`
	Price         *big.Int  `json:"price"`
	ConfidenceBPS int       `json:"confidenceBps"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Source is the read capability injected into the risk domains.
type Source interface {
	Quote(ctx context.Context, asset string) (*Quote, error)
}

// DefaultMaxAge is how old a quote may be before it counts as unavailable.
const DefaultMaxAge = 5 * time.Minute

// MemorySource is an in-memory Source for demo/test use.
type MemorySource struct {
	mu     sync.RWMutex
	quotes map[string]*Quote
	maxAge time.Duration
	now    func() time.Time
}

// NewMemorySource creates an in-memory price source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		quotes: make(map[string]*Quote),
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
}

// WithMaxAge overrides the staleness window.
func (s *MemorySource) WithMaxAge(d time.Duration) *MemorySource {
	s.maxAge = d
	return s
}

// WithClock overrides the time source (for tests).
func (s *MemorySource) WithClock(now func() time.Time) *MemorySource {
	s.now = now
	return s
}

// SetQuote stores a quote for an asset.
func (s *MemorySource) SetQuote(asset string, price *big.Int, confidenceBPS int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[asset] = &Quote{
		Asset:         asset,
		Price:         new(big.Int).Set(price),
		ConfidenceBPS: confidenceBPS,
		UpdatedAt:     s.now(),
	}
}

// Quote returns the current quote for an asset, or ErrNoQuote/ErrStaleQuote.
func (s *MemorySource) Quote(ctx context.Context, asset string) (*Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[asset]
	if !ok {
		return nil, ErrNoQuote
	}
	if s.now().Sub(q.UpdatedAt) > s.maxAge {
		return nil, ErrStaleQuote
	}
	out := *q
	out.Price = new(big.Int).Set(q.Price)
	return &out, nil
}
