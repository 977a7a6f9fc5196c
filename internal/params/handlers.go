package params

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the parameter store over HTTP. Writes are expected to
// arrive from the governance executor behind the admin secret; the store
// still enforces its own bounds on every write.
type Handler struct {
	store *Store
}

// NewHandler creates a params handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterAdminRoutes sets up routes gated by the admin secret.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/params", h.GetParams)
	r.PUT("/params", h.UpdateParams)
}

// GetParams handles GET /v1/admin/params
func (h *Handler) GetParams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"params": h.store.Get()})
}

// UpdateParamsRequest carries a partial update; omitted fields are left
// unchanged. Each present field is applied independently in order; a
// rejected change stops processing but earlier accepted changes stand.
type UpdateParamsRequest struct {
	Weights        *Weights `json:"weights"`
	WarnThreshold  *int     `json:"warnThreshold"`
	SlashThreshold *int     `json:"slashThreshold"`
	GammaPct       *int     `json:"gammaPct"`
	BanThreshold   *int     `json:"banThreshold"`
}

// UpdateParams handles PUT /v1/admin/params
func (h *Handler) UpdateParams(c *gin.Context) {
	var req UpdateParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if req.Weights == nil && req.WarnThreshold == nil && req.SlashThreshold == nil &&
		req.GammaPct == nil && req.BanThreshold == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "no parameters to update"})
		return
	}

	// Raising the slash threshold before the warn threshold keeps
	// warn < slash satisfiable when both move up together.
	steps := []func() error{}
	if req.SlashThreshold != nil && req.WarnThreshold != nil && *req.SlashThreshold > *req.WarnThreshold {
		steps = append(steps, func() error { return h.store.SetSlashThreshold(*req.SlashThreshold) })
		steps = append(steps, func() error { return h.store.SetWarnThreshold(*req.WarnThreshold) })
	} else {
		if req.WarnThreshold != nil {
			steps = append(steps, func() error { return h.store.SetWarnThreshold(*req.WarnThreshold) })
		}
		if req.SlashThreshold != nil {
			steps = append(steps, func() error { return h.store.SetSlashThreshold(*req.SlashThreshold) })
		}
	}
	if req.Weights != nil {
		steps = append(steps, func() error { return h.store.SetWeights(*req.Weights) })
	}
	if req.GammaPct != nil {
		steps = append(steps, func() error { return h.store.SetGammaPct(*req.GammaPct) })
	}
	if req.BanThreshold != nil {
		steps = append(steps, func() error { return h.store.SetBanThreshold(*req.BanThreshold) })
	}

	for _, apply := range steps {
		if err := apply(); err != nil {
			switch {
			case errors.Is(err, ErrCooldownActive):
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "cooldown_active", "message": err.Error()})
			case errors.Is(err, ErrOutOfRange), errors.Is(err, ErrChangeTooLarge),
				errors.Is(err, ErrWeightsSum), errors.Is(err, ErrThresholdOrder):
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_parameter", "message": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
			}
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"params": h.store.Get()})
}
