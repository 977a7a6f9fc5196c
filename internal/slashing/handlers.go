package slashing

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides read-only HTTP endpoints for slashing history. There
// is intentionally no route that executes a slash.
type Handler struct {
	store Store
}

// NewHandler creates a slashing audit handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up public (read-only) slashing audit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/funds/:id/slashing-events", h.ListByFund)
	r.GET("/managers/:address/slashing-events", h.ListByManager)
	r.GET("/managers/:address/ban", h.GetBan)
}

// ListByFund handles GET /v1/funds/:id/slashing-events
func (h *Handler) ListByFund(c *gin.Context) {
	fundID := c.Param("id")
	limit := parseLimit(c, 50, 200)

	events, err := h.store.ListByFund(c.Request.Context(), fundID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// ListByManager handles GET /v1/managers/:address/slashing-events
func (h *Handler) ListByManager(c *gin.Context) {
	manager := c.Param("address")
	limit := parseLimit(c, 50, 200)

	events, err := h.store.ListByManager(c.Request.Context(), manager, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// GetBan handles GET /v1/managers/:address/ban
func (h *Handler) GetBan(c *gin.Context) {
	manager := c.Param("address")

	ban, err := h.store.GetBan(c.Request.Context(), manager)
	if err != nil {
		if errors.Is(err, ErrNoBan) {
			c.JSON(http.StatusOK, gin.H{"banned": false})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"banned": true, "ban": ban})
}

func parseLimit(c *gin.Context, defaultLimit, maxLimit int) int {
	limit := defaultLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > maxLimit {
				limit = maxLimit
			}
		}
	}
	return limit
}
