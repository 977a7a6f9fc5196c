package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/toss-platform/riskd/internal/idgen"
	"github.com/toss-platform/riskd/internal/slashing"
)

// Service implements receipt business logic. Its Settle method satisfies
// the settlement-sink interface the slashing engine declares.
type Service struct {
	store  Store
	signer *Signer
}

// NewService creates a new receipt service.
// If signer is nil, Settle is a no-op (signing disabled).
func NewService(store Store, signer *Signer) *Service {
	return &Service{
		store:  store,
		signer: signer,
	}
}

// Settle signs and persists a settlement receipt for an executed slash.
// Nil-safe: returns nil if service or signer is nil.
func (s *Service) Settle(ctx context.Context, ev *slashing.SlashingEvent) error {
	if s == nil || s.signer == nil {
		return nil
	}

	payload := receiptPayload{
		Burned:      ev.Burned,
		Compensated: ev.Compensated,
		EventID:     ev.ID,
		FaultIndex:  ev.FaultIndex,
		FundID:      ev.FundID,
		Manager:     strings.ToLower(ev.Manager),
		Slashed:     ev.Slashed,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("receipts: failed to marshal payload: %w", err)
	}
	hash := sha256.Sum256(data)
	payloadHash := fmt.Sprintf("%x", hash)

	sig, issuedAtStr, expiresAtStr, err := s.signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("receipts: failed to sign: %w", err)
	}

	issuedAt, _ := time.Parse(time.RFC3339, issuedAtStr)
	expiresAt, _ := time.Parse(time.RFC3339, expiresAtStr)

	receipt := &Receipt{
		ID:          idgen.WithPrefix("rcpt_"),
		EventID:     ev.ID,
		FundID:      ev.FundID,
		Manager:     strings.ToLower(ev.Manager),
		FaultIndex:  ev.FaultIndex,
		Slashed:     ev.Slashed,
		Burned:      ev.Burned,
		Compensated: ev.Compensated,
		PayloadHash: payloadHash,
		Signature:   sig,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}

	return s.store.Create(ctx, receipt)
}

// Get returns a receipt by ID.
func (s *Service) Get(ctx context.Context, id string) (*Receipt, error) {
	return s.store.Get(ctx, id)
}

// GetByEvent returns the receipt for a slashing event.
func (s *Service) GetByEvent(ctx context.Context, eventID string) (*Receipt, error) {
	return s.store.GetByEvent(ctx, eventID)
}

// ListByFund returns the fund's settlement receipts, most recent first.
func (s *Service) ListByFund(ctx context.Context, fundID string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByFund(ctx, fundID, limit)
}

// ListByManager returns the manager's settlement receipts, most recent first.
func (s *Service) ListByManager(ctx context.Context, manager string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByManager(ctx, strings.ToLower(manager), limit)
}

// Verify checks whether a receipt's signature is valid.
func (s *Service) Verify(ctx context.Context, receiptID string) (*VerifyResponse, error) {
	if s.signer == nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrSigningDisabled.Error(),
		}, nil
	}

	receipt, err := s.store.Get(ctx, receiptID)
	if err != nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrReceiptNotFound.Error(),
		}, nil
	}

	payload := receiptPayload{
		Burned:      receipt.Burned,
		Compensated: receipt.Compensated,
		EventID:     receipt.EventID,
		FaultIndex:  receipt.FaultIndex,
		FundID:      receipt.FundID,
		Manager:     receipt.Manager,
		Slashed:     receipt.Slashed,
	}

	valid := s.signer.Verify(payload, receipt.Signature)

	resp := &VerifyResponse{
		Valid:     valid,
		ReceiptID: receiptID,
	}

	if valid && time.Now().After(receipt.ExpiresAt) {
		resp.Expired = true
	}

	if !valid {
		resp.Error = "signature verification failed"
	}

	return resp, nil
}
