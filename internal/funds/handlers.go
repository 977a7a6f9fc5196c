package funds

import (
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/toss-platform/riskd/internal/amount"
)

// VaultSink receives pushed vault snapshots. The vault subsystem is the
// writer; the risk engine's fund domain is the reader.
type VaultSink interface {
	SetVault(fundID string, snap *Snapshot)
}

// Handler exposes fund risk configuration over HTTP. Reads are public;
// config writes sit behind the admin secret, snapshot pushes behind the
// vault token.
type Handler struct {
	store ConfigStore
	vault VaultSink
	now   func() time.Time
}

// NewHandler creates a funds handler.
func NewHandler(store ConfigStore) *Handler {
	return &Handler{store: store, now: time.Now}
}

// WithVaultSink enables the snapshot push route.
func (h *Handler) WithVaultSink(sink VaultSink) *Handler {
	h.vault = sink
	return h
}

// RegisterRoutes sets up public (read-only) fund config routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/funds", h.ListFunds)
	r.GET("/funds/:id/config", h.GetConfig)
}

// RegisterAdminRoutes sets up routes gated by the admin secret.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/funds/:id/config", h.PutConfig)
}

// ListFunds handles GET /v1/funds
func (h *Handler) ListFunds(c *gin.Context) {
	ids, err := h.store.ListFunds(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"funds": ids, "count": len(ids)})
}

// GetConfig handles GET /v1/funds/:id/config
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.store.GetConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrFundNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "fund_not_found", "message": "no such fund"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

// PutConfigRequest carries a full fund configuration. Writes replace the
// stored config; there is no partial update.
type PutConfigRequest struct {
	Manager        string     `json:"manager" binding:"required"`
	AllowedAssets  []string   `json:"allowedAssets" binding:"required"`
	ReferenceAsset string     `json:"referenceAsset" binding:"required"`
	Limits         RiskLimits `json:"limits"`
}

// PutConfig handles PUT /v1/admin/funds/:id/config
func (h *Handler) PutConfig(c *gin.Context) {
	fundID := c.Param("id")

	var req PutConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !contains(req.AllowedAssets, req.ReferenceAsset) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "referenceAsset must be in allowedAssets",
		})
		return
	}

	now := h.now().UTC()
	cfg := &Config{
		FundID:         fundID,
		Manager:        strings.ToLower(strings.TrimSpace(req.Manager)),
		AllowedAssets:  req.AllowedAssets,
		ReferenceAsset: req.ReferenceAsset,
		Limits:         req.Limits,
		UpdatedAt:      now,
	}
	if existing, err := h.store.GetConfig(c.Request.Context(), fundID); err == nil {
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.CreatedAt = now
	}

	if err := h.store.PutConfig(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

// SnapshotRequest carries a pushed vault snapshot. Amounts are decimal
// token strings.
type SnapshotRequest struct {
	FundID        string            `json:"fundId" binding:"required"`
	NAV           string            `json:"nav" binding:"required"`
	HighWaterMark string            `json:"highWaterMark" binding:"required"`
	VolatilityBPS int               `json:"volatilityBps"`
	Holdings      map[string]string `json:"holdings"`
}

// RegisterVaultRoutes sets up routes gated by the vault token.
func (h *Handler) RegisterVaultRoutes(r *gin.RouterGroup) {
	r.POST("/vault/snapshots", h.PutSnapshot)
}

// PutSnapshot handles POST /v1/vault/snapshots
func (h *Handler) PutSnapshot(c *gin.Context) {
	if h.vault == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "not_supported", "message": "no vault sink configured"})
		return
	}

	var req SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	nav, ok := amount.Parse(req.NAV)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed nav"})
		return
	}
	hwm, ok := amount.Parse(req.HighWaterMark)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed highWaterMark"})
		return
	}
	holdings := make(map[string]*big.Int, len(req.Holdings))
	for asset, raw := range req.Holdings {
		v, ok := amount.Parse(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed holding for " + asset})
			return
		}
		holdings[asset] = v
	}

	h.vault.SetVault(req.FundID, &Snapshot{
		FundID:        req.FundID,
		NAV:           nav,
		HighWaterMark: hwm,
		VolatilityBPS: req.VolatilityBPS,
		Holdings:      holdings,
		AsOf:          h.now().UTC(),
	})
	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
