// Package params provides the bounded store for the engine's tunable
// parameters: fault-index weights, decision thresholds, the NAV-compensation
// ratio, and the ban threshold.
//
// Every accepted change must satisfy three independent checks at write time:
// range (min <= new <= max), magnitude (|new - old| <= old*maxChangePct/100),
// and cooldown (elapsed since the last accepted change >= cooldown). The
// checks run under one mutex so concurrent governance writers can never
// observe or produce a partially applied update.
package params

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Errors
var (
	ErrOutOfRange     = errors.New("params: value out of range")
	ErrChangeTooLarge = errors.New("params: change exceeds max change percent")
	ErrCooldownActive = errors.New("params: cooldown period has not elapsed")
	ErrWeightsSum     = errors.New("params: weights must sum to 100")
	ErrThresholdOrder = errors.New("params: warn threshold must stay below slash threshold")
)

// Weights are the fault-index component weights. They must always sum to
// exactly 100; the store never exposes a state where they do not.
type Weights struct {
	Limit    int `json:"limit"`    // wL — limit breach severity
	Behavior int `json:"behavior"` // wB — behavior anomaly
	Damage   int `json:"damage"`   // wD — damage ratio
	Intent   int `json:"intent"`   // wI — intent probability
}

// Sum returns the weight total.
func (w Weights) Sum() int {
	return w.Limit + w.Behavior + w.Damage + w.Intent
}

// DefaultWeights are the governance-approved launch weights.
func DefaultWeights() Weights {
	return Weights{Limit: 45, Behavior: 25, Damage: 20, Intent: 10}
}

// Bounds constrain a single tunable.
type Bounds struct {
	Min          int           `json:"min"`
	Max          int           `json:"max"`
	MaxChangePct int           `json:"maxChangePct"`
	Cooldown     time.Duration `json:"cooldown"`
}

// check validates new against old under these bounds. lastChange is the time
// of the previous accepted change for this tunable.
func (b Bounds) check(old, newVal int, lastChange, now time.Time) error {
	if newVal < b.Min || newVal > b.Max {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, newVal, b.Min, b.Max)
	}
	delta := newVal - old
	if delta < 0 {
		delta = -delta
	}
	if maxDelta := old * b.MaxChangePct / 100; delta > maxDelta {
		return fmt.Errorf("%w: |%d - %d| > %d", ErrChangeTooLarge, newVal, old, maxDelta)
	}
	if !lastChange.IsZero() && now.Sub(lastChange) < b.Cooldown {
		return fmt.Errorf("%w: next change allowed at %s", ErrCooldownActive, lastChange.Add(b.Cooldown).Format(time.RFC3339))
	}
	return nil
}

// Snapshot is a read-only view of all tunables, safe to serialize.
type Snapshot struct {
	Weights        Weights `json:"weights"`
	WarnThreshold  int     `json:"warnThreshold"`
	SlashThreshold int     `json:"slashThreshold"`
	GammaPct       int     `json:"gammaPct"`
	BanThreshold   int     `json:"banThreshold"`
}

// Store holds the current tunables plus per-tunable bounds and change times.
type Store struct {
	mu sync.RWMutex

	weights        Weights
	warnThreshold  int
	slashThreshold int
	gammaPct       int
	banThreshold   int

	weightBounds Bounds
	warnBounds   Bounds
	slashBounds  Bounds
	gammaBounds  Bounds
	banBounds    Bounds

	weightsChangedAt time.Time
	warnChangedAt    time.Time
	slashChangedAt   time.Time
	gammaChangedAt   time.Time
	banChangedAt     time.Time

	now func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithInitial overrides the launch values. Initial values are still subject
// to range checks; construction fails on out-of-range input.
func WithInitial(snap Snapshot) Option {
	return func(s *Store) {
		s.weights = snap.Weights
		s.warnThreshold = snap.WarnThreshold
		s.slashThreshold = snap.SlashThreshold
		s.gammaPct = snap.GammaPct
		s.banThreshold = snap.BanThreshold
	}
}

// New creates a parameter store with the protocol defaults:
// weights 45/25/20/10, warn=10, slash=30, gamma=80, ban=85.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		weights:        DefaultWeights(),
		warnThreshold:  10,
		slashThreshold: 30,
		gammaPct:       80,
		banThreshold:   85,

		weightBounds: Bounds{Min: 5, Max: 70, MaxChangePct: 25, Cooldown: time.Hour},
		warnBounds:   Bounds{Min: 5, Max: 25, MaxChangePct: 50, Cooldown: time.Hour},
		slashBounds:  Bounds{Min: 20, Max: 60, MaxChangePct: 50, Cooldown: time.Hour},
		gammaBounds:  Bounds{Min: 50, Max: 90, MaxChangePct: 10, Cooldown: 24 * time.Hour},
		banBounds:    Bounds{Min: 75, Max: 95, MaxChangePct: 10, Cooldown: 24 * time.Hour},

		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.weights.Sum() != 100 {
		return nil, ErrWeightsSum
	}
	if s.warnThreshold >= s.slashThreshold {
		return nil, ErrThresholdOrder
	}
	if s.gammaPct < s.gammaBounds.Min || s.gammaPct > s.gammaBounds.Max {
		return nil, fmt.Errorf("%w: gamma %d", ErrOutOfRange, s.gammaPct)
	}
	if s.banThreshold < s.banBounds.Min || s.banThreshold > s.banBounds.Max {
		return nil, fmt.Errorf("%w: ban threshold %d", ErrOutOfRange, s.banThreshold)
	}
	return s, nil
}

// Weights returns the current fault-index weights.
func (s *Store) Weights() Weights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weights
}

// Thresholds returns (warn, slash).
func (s *Store) Thresholds() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warnThreshold, s.slashThreshold
}

// GammaPct returns the NAV-compensation share of a slash, in whole percent.
func (s *Store) GammaPct() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gammaPct
}

// BanThreshold returns the fault index at which a slash also bans.
func (s *Store) BanThreshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.banThreshold
}

// Get returns a consistent snapshot of all tunables.
func (s *Store) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Weights:        s.weights,
		WarnThreshold:  s.warnThreshold,
		SlashThreshold: s.slashThreshold,
		GammaPct:       s.gammaPct,
		BanThreshold:   s.banThreshold,
	}
}

// SetWeights replaces the weight set atomically. The update is rejected
// whole if any component fails its bounds, if the sum is not exactly 100,
// or if the weight-set cooldown is still active. On rejection the previous
// weights remain untouched.
func (s *Store) SetWeights(w Weights) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.Sum() != 100 {
		return fmt.Errorf("%w: got %d", ErrWeightsSum, w.Sum())
	}
	now := s.now()
	pairs := []struct{ old, newVal int }{
		{s.weights.Limit, w.Limit},
		{s.weights.Behavior, w.Behavior},
		{s.weights.Damage, w.Damage},
		{s.weights.Intent, w.Intent},
	}
	for _, p := range pairs {
		if err := s.weightBounds.check(p.old, p.newVal, s.weightsChangedAt, now); err != nil {
			return err
		}
	}

	s.weights = w
	s.weightsChangedAt = now
	return nil
}

// SetWarnThreshold updates the warning threshold, preserving warn < slash.
func (s *Store) SetWarnThreshold(v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if err := s.warnBounds.check(s.warnThreshold, v, s.warnChangedAt, now); err != nil {
		return err
	}
	if v >= s.slashThreshold {
		return ErrThresholdOrder
	}
	s.warnThreshold = v
	s.warnChangedAt = now
	return nil
}

// SetSlashThreshold updates the slashing threshold, preserving warn < slash.
func (s *Store) SetSlashThreshold(v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if err := s.slashBounds.check(s.slashThreshold, v, s.slashChangedAt, now); err != nil {
		return err
	}
	if v <= s.warnThreshold {
		return ErrThresholdOrder
	}
	s.slashThreshold = v
	s.slashChangedAt = now
	return nil
}

// SetGammaPct updates the NAV-compensation ratio.
func (s *Store) SetGammaPct(v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if err := s.gammaBounds.check(s.gammaPct, v, s.gammaChangedAt, now); err != nil {
		return err
	}
	s.gammaPct = v
	s.gammaChangedAt = now
	return nil
}

// SetBanThreshold updates the fault index at which a slash also bans.
func (s *Store) SetBanThreshold(v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if err := s.banBounds.check(s.banThreshold, v, s.banChangedAt, now); err != nil {
		return err
	}
	s.banThreshold = v
	s.banChangedAt = now
	return nil
}
