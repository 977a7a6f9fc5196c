// Package slashing converts an approved fault index into an economic
// penalty: a stake reduction split between an irreversible burn and a
// NAV-compensation transfer, with permanent bans above a critical
// fault index. Every executed slash is recorded as an append-only
// SlashingEvent in both the manager's and the fund's history.
package slashing

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/toss-platform/riskd/internal/stakes"
)

var (
	ErrNoStake = errors.New("slashing: no active stake for manager")
	ErrNoBan   = errors.New("slashing: manager is not banned")
)

// SlashingEvent is the immutable record of one executed slash. Amounts
// are decimal token strings.
type SlashingEvent struct {
	ID          string    `json:"id"`
	FundID      string    `json:"fundId"`
	Manager     string    `json:"manager"`
	FaultIndex  int       `json:"faultIndex"`
	SlashBPS    int64     `json:"slashBps"`
	Slashed     string    `json:"slashedAmount"`
	Burned      string    `json:"burnedAmount"`
	Compensated string    `json:"compensatedAmount"`
	StakeBefore string    `json:"stakeBefore"`
	StakeAfter  string    `json:"stakeAfter"`
	ViolationID string    `json:"violationId,omitempty"`
	ExecutedAt  time.Time `json:"executedAt"`
}

// BanRecord marks a manager permanently banned. The transition is
// one-way: a recorded ban is never lifted by this engine.
type BanRecord struct {
	Manager    string    `json:"manager"`
	FundID     string    `json:"fundId"`
	FaultIndex int       `json:"faultIndex"`
	EventID    string    `json:"eventId"`
	BannedAt   time.Time `json:"bannedAt"`
}

// Store persists slashing events and ban records.
type Store interface {
	RecordEvent(ctx context.Context, ev *SlashingEvent) error
	ListByFund(ctx context.Context, fundID string, limit int) ([]*SlashingEvent, error)
	ListByManager(ctx context.Context, manager string, limit int) ([]*SlashingEvent, error)
	// RecordBan is first-wins: recording a ban for an already banned
	// manager keeps the original record.
	RecordBan(ctx context.Context, ban *BanRecord) error
	GetBan(ctx context.Context, manager string) (*BanRecord, error)
}

// StakeSource is the narrow stake-ledger capability this engine holds:
// read one stake, decrease one stake. There is no increase operation.
type StakeSource interface {
	GetStake(ctx context.Context, manager, fundID string) (*stakes.Stake, error)
	ReduceStake(ctx context.Context, manager, fundID string, amount *big.Int) error
}

// TokenLedger is the write-only token capability: burn and transfer,
// never mint.
type TokenLedger interface {
	Burn(ctx context.Context, amount *big.Int) error
	Transfer(ctx context.Context, to string, amount *big.Int) error
}

// ParamSource supplies the tunables the engine reads at execution time.
type ParamSource interface {
	GammaPct() int
	BanThreshold() int
}

// Settler receives a structured settlement record for each executed
// slash, for off-chain audit.
type Settler interface {
	Settle(ctx context.Context, ev *SlashingEvent) error
}
