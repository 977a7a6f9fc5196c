// Package protocol tracks protocol-global state the risk engine reads:
// the paused/emergency flag, execution-layer liveness, and aggregate
// per-asset exposure across all funds.
//
// These facts are resolved elsewhere (governance, infra monitors, the fund
// subsystem); this package is the narrow read surface plus the write hooks
// those collaborators use.
package protocol

import (
	"errors"
	"math/big"
	"sync"
)

// Status is the protocol-wide operating mode.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusEmergency Status = "emergency"
)

var ErrUnknownStatus = errors.New("protocol: unknown status")

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusPaused, StatusEmergency:
		return Status(s), nil
	}
	return "", ErrUnknownStatus
}

// Exposure is the aggregate position in one asset across all funds, with its
// configured ceiling. Amounts are smallest reference-token units.
type Exposure struct {
	Asset   string   `json:"asset"`
	Total   *big.Int `json:"total"`
	Ceiling *big.Int `json:"ceiling"` // nil means no ceiling configured
}

// OverBPS returns how far Total is over Ceiling, in basis points of the
// ceiling (0 when under or no ceiling).
func (e *Exposure) OverBPS() int64 {
	if e.Ceiling == nil || e.Ceiling.Sign() <= 0 || e.Total.Cmp(e.Ceiling) <= 0 {
		return 0
	}
	over := new(big.Int).Sub(e.Total, e.Ceiling)
	over.Mul(over, big.NewInt(10000))
	over.Div(over, e.Ceiling)
	return over.Int64()
}

// State holds the mutable protocol-global facts.
type State struct {
	mu            sync.RWMutex
	status        Status
	executionLive bool
	exposures     map[string]*big.Int
	ceilings      map[string]*big.Int
}

// NewState creates protocol state in active mode with a live execution layer.
func NewState() *State {
	return &State{
		status:        StatusActive,
		executionLive: true,
		exposures:     make(map[string]*big.Int),
		ceilings:      make(map[string]*big.Int),
	}
}

// Status returns the current operating mode.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus updates the operating mode.
func (s *State) SetStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// ExecutionLive reports whether the underlying execution layer is up.
func (s *State) ExecutionLive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executionLive
}

// SetExecutionLive updates execution-layer liveness.
func (s *State) SetExecutionLive(live bool) {
	s.mu.Lock()
	s.executionLive = live
	s.mu.Unlock()
}

// SetCeiling configures the aggregate exposure ceiling for an asset.
func (s *State) SetCeiling(asset string, ceiling *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ceilings[asset] = new(big.Int).Set(ceiling)
}

// AddExposure adjusts the aggregate exposure for an asset by delta
// (negative to release). Exposure never goes below zero.
func (s *State) AddExposure(asset string, delta *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.exposures[asset]
	if !ok {
		cur = big.NewInt(0)
		s.exposures[asset] = cur
	}
	cur.Add(cur, delta)
	if cur.Sign() < 0 {
		cur.SetInt64(0)
	}
}

// Exposure returns the aggregate exposure record for an asset.
func (s *State) Exposure(asset string) *Exposure {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := &Exposure{Asset: asset, Total: big.NewInt(0)}
	if cur, ok := s.exposures[asset]; ok {
		e.Total = new(big.Int).Set(cur)
	}
	if c, ok := s.ceilings[asset]; ok {
		e.Ceiling = new(big.Int).Set(c)
	}
	return e
}
