package middlewares

import (
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware caps requests per tenant per minute with a Redis
// counter. Report generation and widget fan-out are expensive, so the cap is
// per business, not per client IP. Fails open when Redis is down: the counter
// reads as zero.
func RateLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		businessId := c.GetHeader("x-business-id")
		if businessId == "" {
			c.Next()
			return
		}

		// Minute-bucketed key; expiry only keeps old buckets from piling up.
		key := "RateLimit:" + businessId + ":" + time.Now().Format("200601021504")
		count, err := config.GetRedisCounter(c.Request.Context(), key)
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			if rdb := config.GetRedisDB(); rdb != nil {
				rdb.Expire(c.Request.Context(), key, 2*time.Minute)
			}
		}
		if count > limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
