package risk

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/toss-platform/riskd/internal/amount"
)

// Handler provides the risk engine's HTTP surface.
type Handler struct {
	engine *Engine
}

// NewHandler creates a risk handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up the public validation and audit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/funds/:id/validate", h.ValidateTrade)
	r.GET("/funds/:id/health", h.CheckFundHealth)
	r.GET("/funds/:id/violations", h.ListViolations)
}

// RegisterExecutorRoutes sets up routes gated by the executor token.
func (h *Handler) RegisterExecutorRoutes(r *gin.RouterGroup) {
	r.POST("/approvals/:hash/consume", h.ConsumeApproval)
}

// RegisterGuardianRoutes sets up routes gated by the guardian token.
func (h *Handler) RegisterGuardianRoutes(r *gin.RouterGroup) {
	r.POST("/funds/:id/review", h.TriggerManualReview)
	r.POST("/funds/:id/resume", h.ResumeFund)
}

// RegisterVaultRoutes sets up routes gated by the vault token.
func (h *Handler) RegisterVaultRoutes(r *gin.RouterGroup) {
	r.POST("/vault/investor-actions", h.RecordInvestorAction)
	r.POST("/vault/nav", h.RecordFundNAV)
}

// ValidateTrade handles POST /v1/funds/:id/validate
func (h *Handler) ValidateTrade(c *gin.Context) {
	fundID := c.Param("id")

	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	result, err := h.engine.ValidateTrade(c.Request.Context(), fundID, &req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "validation_failed"
		switch {
		case errors.Is(err, ErrInvalidRequest):
			status = http.StatusBadRequest
			code = "invalid_request"
		case errors.Is(err, ErrUnknownFund):
			status = http.StatusNotFound
			code = "unknown_fund"
		case errors.Is(err, ErrFundSuspended):
			status = http.StatusConflict
			code = "fund_suspended"
		case errors.Is(err, ErrApprovalConsumed):
			status = http.StatusConflict
			code = "approval_replayed"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

// ConsumeApproval handles POST /v1/approvals/:hash/consume
func (h *Handler) ConsumeApproval(c *gin.Context) {
	hash := c.Param("hash")

	approval, err := h.engine.ConsumeApproval(c.Request.Context(), hash)
	if err != nil {
		status := http.StatusInternalServerError
		code := "consume_failed"
		switch {
		case errors.Is(err, ErrApprovalNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrApprovalExpired):
			status = http.StatusGone
			code = "expired"
		case errors.Is(err, ErrApprovalConsumed):
			status = http.StatusConflict
			code = "already_consumed"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"approval": approval})
}

// CheckFundHealth handles GET /v1/funds/:id/health
func (h *Handler) CheckFundHealth(c *gin.Context) {
	fundID := c.Param("id")

	report, err := h.engine.CheckFundHealth(c.Request.Context(), fundID)
	if err != nil {
		if errors.Is(err, ErrUnknownFund) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_fund", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"health": report})
}

// ListViolations handles GET /v1/funds/:id/violations
func (h *Handler) ListViolations(c *gin.Context) {
	fundID := c.Param("id")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	violations, nextCursor, hasMore, err := h.engine.ListViolations(c.Request.Context(), fundID, c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	resp := gin.H{"violations": violations, "count": len(violations), "has_more": hasMore}
	if nextCursor != "" {
		resp["next_cursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// ManualReviewRequest is the guardian's suspension request body.
type ManualReviewRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// TriggerManualReview handles POST /v1/funds/:id/review
func (h *Handler) TriggerManualReview(c *gin.Context) {
	fundID := c.Param("id")

	var req ManualReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Reason is required"})
		return
	}

	if err := h.engine.TriggerManualReview(c.Request.Context(), fundID, req.Reason); err != nil {
		if errors.Is(err, ErrUnknownFund) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_fund", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"suspended": true, "fundId": fundID})
}

// ResumeFund handles POST /v1/funds/:id/resume
func (h *Handler) ResumeFund(c *gin.Context) {
	fundID := c.Param("id")

	if err := h.engine.ResumeFund(c.Request.Context(), fundID); err != nil {
		if errors.Is(err, ErrNotSuspended) {
			c.JSON(http.StatusConflict, gin.H{"error": "not_suspended", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"resumed": true, "fundId": fundID})
}

// InvestorActionRequest is the vault's behavior report body.
type InvestorActionRequest struct {
	Investor string `json:"investor" binding:"required"`
	FundID   string `json:"fundId" binding:"required"`
	Action   string `json:"action" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

// RecordInvestorAction handles POST /v1/vault/investor-actions
func (h *Handler) RecordInvestorAction(c *gin.Context) {
	var req InvestorActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	amt, ok := amount.Parse(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Invalid amount"})
		return
	}

	err := h.engine.RecordInvestorAction(c.Request.Context(), req.Investor, req.FundID, Action(req.Action), amt)
	if err != nil {
		status := http.StatusInternalServerError
		code := "record_failed"
		switch {
		case errors.Is(err, ErrUnknownAction), errors.Is(err, ErrInvalidRequest):
			status = http.StatusBadRequest
			code = "invalid_request"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}

// NAVReportRequest is the vault's NAV observation body.
type NAVReportRequest struct {
	FundID string `json:"fundId" binding:"required"`
	NAV    string `json:"nav" binding:"required"`
}

// RecordFundNAV handles POST /v1/vault/nav
func (h *Handler) RecordFundNAV(c *gin.Context) {
	var req NAVReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	nav, ok := amount.Parse(req.NAV)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Invalid NAV"})
		return
	}

	if err := h.engine.RecordFundNAV(c.Request.Context(), req.FundID, nav); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}
