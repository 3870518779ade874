package gate

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/repscore/internal/logging"
)

// Handler provides admin endpoints for the gate.
type Handler struct {
	gate *Gate
}

// NewHandler creates a new gate admin handler.
func NewHandler(g *Gate) *Handler {
	return &Handler{gate: g}
}

// RegisterAdminRoutes sets up admin endpoints. The caller is expected to
// have applied RequireAdmin to r.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/pause", h.Pause)
	r.POST("/unpause", h.Unpause)
	r.GET("/status", h.Status)
}

// Pause stops all gated operations.
// POST /v1/admin/pause
func (h *Handler) Pause(c *gin.Context) {
	if err := h.gate.Pause(c.Request.Context()); err != nil {
		logging.L(c.Request.Context()).Error("pause failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pause_failed", "message": "Failed to pause system"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Unpause resumes gated operations.
// POST /v1/admin/unpause
func (h *Handler) Unpause(c *gin.Context) {
	if err := h.gate.Unpause(c.Request.Context()); err != nil {
		logging.L(c.Request.Context()).Error("unpause failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unpause_failed", "message": "Failed to unpause system"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// Status reports the pause state and operator set.
// GET /v1/admin/status
func (h *Handler) Status(c *gin.Context) {
	paused, err := h.gate.Paused(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed", "message": "Failed to read pause flag"})
		return
	}
	ops := h.gate.Operators()
	addrs := make([]string, len(ops))
	for i, op := range ops {
		addrs[i] = op.Hex()
	}
	c.JSON(http.StatusOK, gin.H{
		"paused":    paused,
		"operators": addrs,
	})
}
