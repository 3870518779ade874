package gate

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/repscore/internal/reputation"
	"github.com/mbd888/repscore/internal/validation"
)

const (
	// CallerHeader carries the caller's address, set by the host's auth proxy.
	CallerHeader = "X-Caller-Address"
	// AdminSecretHeader authenticates admin routes.
	AdminSecretHeader = "X-Admin-Secret"
)

// CallerMiddleware reads CallerHeader into the request's reputation.Caller.
// A missing header leaves the zero Caller, which only passes open
// operations.
func CallerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(CallerHeader)
		if raw == "" {
			c.Next()
			return
		}
		addr, err := validation.ParseAddress(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_caller",
				"message": CallerHeader + " must be a valid address (0x + 40 hex chars)",
			})
			return
		}
		c.Set(reputation.CallerContextKey, reputation.Caller{Address: addr})
		c.Next()
	}
}

// RequireAdmin rejects requests without the admin secret. An empty secret
// disables admin routes entirely.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Admin API is disabled (ADMIN_SECRET not set)",
			})
			return
		}
		got := c.GetHeader(AdminSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid " + AdminSecretHeader + " header required",
			})
			return
		}
		c.Next()
	}
}
