// Package receipts provides cryptographically signed settlement records
// for executed slashes.
//
// Every slash produces a signed receipt that managers, investors, and
// off-platform auditors can independently verify against the configured
// HMAC secret, without trusting the API that served it.
package receipts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
	ErrSigningDisabled = errors.New("receipts: signing disabled (no HMAC secret configured)")
)

// Receipt is a signed proof that a slash settled with the recorded split.
type Receipt struct {
	ID          string    `json:"id"`
	EventID     string    `json:"eventId"` // slashing event reference
	FundID      string    `json:"fundId"`
	Manager     string    `json:"manager"`
	FaultIndex  int       `json:"faultIndex"`
	Slashed     string    `json:"slashed"`     // total TOSS slashed
	Burned      string    `json:"burned"`      // burn portion
	Compensated string    `json:"compensated"` // NAV-compensation portion
	PayloadHash string    `json:"payloadHash"` // SHA-256 of canonical payload
	Signature   string    `json:"signature"`   // HMAC-SHA256 signature
	IssuedAt    time.Time `json:"issuedAt"`    // when the receipt was signed
	ExpiresAt   time.Time `json:"expiresAt"`   // when the signature expires
	CreatedAt   time.Time `json:"createdAt"`
}

// VerifyRequest is the input for verifying a receipt signature.
type VerifyRequest struct {
	ReceiptID string `json:"receiptId" binding:"required"`
}

// VerifyResponse is the result of receipt verification.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	ReceiptID string `json:"receiptId"`
	Expired   bool   `json:"expired,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Store persists receipt data.
type Store interface {
	Create(ctx context.Context, receipt *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	GetByEvent(ctx context.Context, eventID string) (*Receipt, error)
	ListByFund(ctx context.Context, fundID string, limit int) ([]*Receipt, error)
	ListByManager(ctx context.Context, manager string, limit int) ([]*Receipt, error)
}

// receiptPayload is the canonical struct signed by HMAC.
// Field order must be deterministic (JSON marshalling of struct is by field order).
type receiptPayload struct {
	Burned      string `json:"burned"`
	Compensated string `json:"compensated"`
	EventID     string `json:"eventId"`
	FaultIndex  int    `json:"faultIndex"`
	FundID      string `json:"fundId"`
	Manager     string `json:"manager"`
	Slashed     string `json:"slashed"`
}
