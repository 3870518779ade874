package reputation

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/repscore/internal/logging"
	"github.com/mbd888/repscore/internal/validation"
)

// CallerContextKey is the gin context key holding the request's Caller.
const CallerContextKey = "reputationCaller"

// Handler provides HTTP endpoints for reputation
type Handler struct {
	engine *Engine
}

// NewHandler creates a new reputation handler
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up reputation endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users/:address", validation.AddressParamMiddleware())
	users.POST("/register", h.Register)
	users.POST("/activities", h.RecordActivity)
	users.GET("", h.GetProfile)
	users.GET("/activities", h.ListActivities)
	users.GET("/activities/:id", h.GetActivity)
	users.GET("/risk", h.GetRisk)
	users.GET("/history", h.GetHistory)

	r.GET("/stats", h.GetStats)
}

// RecordActivityRequest is the body of POST /v1/users/:address/activities.
type RecordActivityRequest struct {
	ActivityType *ActivityType `json:"activityType" binding:"required"`
	Amount       uint64        `json:"amount"`
}

func callerFrom(c *gin.Context) Caller {
	if v, ok := c.Get(CallerContextKey); ok {
		if caller, ok := v.(Caller); ok {
			return caller
		}
	}
	return Caller{}
}

func userParam(c *gin.Context) common.Address {
	return common.HexToAddress(c.Param("address"))
}

// Register creates a profile.
// POST /v1/users/:address/register
func (h *Handler) Register(c *gin.Context) {
	profile, err := h.engine.Register(c.Request.Context(), callerFrom(c), userParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"profile": profile})
}

// RecordActivity applies one activity.
// POST /v1/users/:address/activities
func (h *Handler) RecordActivity(c *gin.Context) {
	var req RecordActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'activityType' (code or name) and optional 'amount': " + err.Error(),
		})
		return
	}

	res, err := h.engine.RecordActivity(c.Request.Context(), callerFrom(c), userParam(c), *req.ActivityType, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetProfile returns a user's profile.
// GET /v1/users/:address
func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.engine.GetProfile(c.Request.Context(), userParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

// ListActivities returns a user's recent ledger entries.
// GET /v1/users/:address/activities?limit=
func (h *Handler) ListActivities(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	user := userParam(c)
	records, err := h.engine.ListActivities(c.Request.Context(), user, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":       user.Hex(),
		"activities": records,
		"count":      len(records),
	})
}

// GetActivity returns one ledger entry.
// GET /v1/users/:address/activities/:id
func (h *Handler) GetActivity(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "activity id must be a non-negative integer",
		})
		return
	}

	rec, err := h.engine.GetActivity(c.Request.Context(), userParam(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": rec})
}

// GetRisk runs a risk assessment and records a history snapshot.
// GET /v1/users/:address/risk?at=
func (h *Handler) GetRisk(c *gin.Context) {
	ctx := c.Request.Context()

	at, set, ok := uintQuery(c, "at")
	if !ok {
		return
	}
	if !set {
		now, err := h.engine.Now(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		at = now
	}

	report, err := h.engine.Assess(ctx, callerFrom(c), userParam(c), at)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"risk": report})
}

// GetHistory returns stored snapshots.
// GET /v1/users/:address/history?from=&to=&limit=
func (h *Handler) GetHistory(c *gin.Context) {
	from, _, ok := uintQuery(c, "from")
	if !ok {
		return
	}
	to, _, ok := uintQuery(c, "to")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	user := userParam(c)
	snapshots, err := h.engine.History(c.Request.Context(), HistoryQuery{
		User:  user,
		From:  from,
		To:    to,
		Limit: limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":      user.Hex(),
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// GetStats returns store-wide counters.
// GET /v1/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func uintQuery(c *gin.Context, key string) (uint64, bool, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, false, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_" + key,
			"message": key + " must be a non-negative integer",
		})
		return 0, false, false
	}
	return v, true, true
}

func intQuery(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_" + key,
			"message": key + " must be a non-negative integer",
		})
		return 0, false
	}
	return v, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found", "message": err.Error()})
	case errors.Is(err, ErrActivityNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "activity_not_found", "message": err.Error()})
	case errors.Is(err, ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "already_registered", "message": err.Error()})
	case errors.Is(err, ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_authorized", "message": err.Error()})
	case errors.Is(err, ErrSystemPaused):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "system_paused", "message": err.Error()})
	case errors.Is(err, ErrInvalidRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_range", "message": err.Error()})
	case errors.Is(err, ErrTimestampRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp", "message": err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "timeout", "message": "request timed out"})
	default:
		logging.L(c.Request.Context()).Error("reputation request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal server error"})
	}
}
