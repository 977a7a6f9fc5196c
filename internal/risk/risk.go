// Package risk implements trade gating for managed funds.
//
// Every trade a fund manager attempts is validated against three risk
// domains (protocol, fund, investor), their scores combined into a fault
// index 0..100, and a three-way decision taken: approve (single-use
// Approval issued), approve with warning, or reject (Violation recorded
// and slashing executed synchronously). Domain results are produced fresh
// per call and never cached; a read between two validations always
// observes current state.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/toss-platform/riskd/internal/pagination"
)

// Decision is the risk engine's verdict on a trade.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionWarn    Decision = "approve_with_warning"
	DecisionReject  Decision = "reject"
)

// Domain names, used in results, violations, and metrics labels.
const (
	DomainProtocol = "protocol"
	DomainFund     = "fund"
	DomainInvestor = "investor"
)

var (
	ErrInvalidRequest   = errors.New("risk: invalid trade request")
	ErrUnknownFund      = errors.New("risk: unknown fund")
	ErrFundSuspended    = errors.New("risk: fund is suspended pending manual review")
	ErrNotSuspended     = errors.New("risk: fund is not suspended")
	ErrApprovalNotFound = errors.New("risk: approval not found")
	ErrApprovalExpired  = errors.New("risk: approval expired")
	ErrApprovalConsumed = errors.New("risk: approval already consumed")
)

// TradeRequest is the ephemeral description of one proposed trade. It is
// never persisted; it exists only for the duration of one validation.
type TradeRequest struct {
	AssetIn      string `json:"assetIn" binding:"required"`
	AssetOut     string `json:"assetOut" binding:"required"`
	AmountIn     string `json:"amountIn" binding:"required"` // decimal token string
	MinAmountOut string `json:"minAmountOut"`
	Deadline     int64  `json:"deadline"` // unix seconds
	Nonce        uint64 `json:"nonce"`
}

// Hash returns the canonical trade hash: keccak256 over the fund ID and
// every request field including the nonce, so identical parameters from
// the same fund always map to the same approval and a replayed approval
// is detectable by hash alone.
func (r *TradeRequest) Hash(fundID string) string {
	canonical := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d",
		fundID, r.AssetIn, r.AssetOut, r.AmountIn, r.MinAmountOut, r.Deadline, r.Nonce)
	return crypto.Keccak256Hash([]byte(canonical)).Hex()
}

// Components are the four named severities feeding the weighted fault
// index: L (limit breach), B (behavior anomaly), D (damage ratio),
// I (intent probability). Each is 0..100.
type Components struct {
	Limit    int `json:"limit"`
	Behavior int `json:"behavior"`
	Damage   int `json:"damage"`
	Intent   int `json:"intent"`
}

// DomainResult is one domain's verdict, produced fresh per query.
type DomainResult struct {
	Domain     string     `json:"domain"`
	Passed     bool       `json:"passed"`
	FaultIndex int        `json:"faultIndex"`
	Components Components `json:"components"`
	Issues     []string   `json:"issues,omitempty"`
}

// Violation is an immutable audit record of one failed validation or one
// guardian intervention. Records are append-only per fund.
type Violation struct {
	ID                string    `json:"id"`
	FundID            string    `json:"fundId"`
	FaultIndex        int       `json:"faultIndex"`
	ViolationType     string    `json:"violationType"`
	Details           string    `json:"details,omitempty"`
	SlashingTriggered bool      `json:"slashingTriggered"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Approval is a short-lived, single-use authorization for one exact
// trade. Lifecycle: issued -> consumed (terminal) or issued -> expired
// (terminal); consumed is reachable exactly once.
type Approval struct {
	TradeHash  string     `json:"tradeHash"`
	FundID     string     `json:"fundId"`
	FaultIndex int        `json:"faultIndex"`
	IssuedAt   time.Time  `json:"issuedAt"`
	Deadline   time.Time  `json:"deadline"`
	Consumed   bool       `json:"consumed"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
}

// Suspension marks a fund suspended by guardian manual review.
type Suspension struct {
	FundID      string    `json:"fundId"`
	Reason      string    `json:"reason"`
	SuspendedAt time.Time `json:"suspendedAt"`
}

// ValidationResult is what ValidateTrade returns to the trade executor.
type ValidationResult struct {
	Approved   bool           `json:"approved"`
	Decision   Decision       `json:"decision"`
	FaultIndex int            `json:"faultIndex"`
	Domains    []DomainResult `json:"domains"`
	Approval   *Approval      `json:"approval,omitempty"`
	Violation  *Violation     `json:"violation,omitempty"`
}

// HealthReport is the read-only diagnostic CheckFundHealth returns.
type HealthReport struct {
	FundID     string   `json:"fundId"`
	Healthy    bool     `json:"healthy"`
	FaultIndex int      `json:"faultIndex"`
	Issues     []string `json:"issues,omitempty"`
}

// Store persists violations, approvals, and suspensions.
type Store interface {
	RecordViolation(ctx context.Context, v *Violation) error
	ListViolations(ctx context.Context, fundID string, cursor *pagination.Cursor, limit int) ([]*Violation, error)

	PutApproval(ctx context.Context, a *Approval) error
	GetApproval(ctx context.Context, tradeHash string) (*Approval, error)
	// ConsumeApproval atomically marks the approval consumed. It fails
	// with ErrApprovalNotFound, ErrApprovalExpired, or
	// ErrApprovalConsumed; the three never collapse into one.
	ConsumeApproval(ctx context.Context, tradeHash string, now time.Time) (*Approval, error)

	Suspend(ctx context.Context, s *Suspension) error
	Resume(ctx context.Context, fundID string) error
	GetSuspension(ctx context.Context, fundID string) (*Suspension, error)
}
