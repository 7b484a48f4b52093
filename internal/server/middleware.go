package server

import (
	"errors"
	"math"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/rentwise/internal/ratelimit"
)

const contextTenantIDKey = "tenant_id"

// TenantScope rejects routes whose :tenant_id is not a valid id.
func TenantScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := parseSnowflakeID(c.Param("tenant_id"))
		if err != nil {
			AbortWithError(c, newValidationError("tenant_id", "invalid_tenant_id", "invalid tenant_id"))
			return
		}

		c.Set(contextTenantIDKey, tenantID)
		c.Next()
	}
}

func tenantIDFrom(c *gin.Context) snowflake.ID {
	if value, ok := c.Get(contextTenantIDKey); ok {
		if id, ok := value.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

// RateLimit keys the bucket by tenant when the route is tenant scoped and by
// client address otherwise.
func RateLimit(limiter *ratelimit.Limiter, scope ratelimit.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		subject := c.ClientIP()
		if tenantID := tenantIDFrom(c); tenantID != 0 {
			subject = tenantID.String()
		}

		res, err := limiter.Allow(c.Request.Context(), scope, subject)
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if errors.Is(err, ratelimit.ErrRateLimited) {
			seconds := int(math.Ceil(res.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			AbortWithError(c, err)
			return
		}

		c.Next()
	}
}
