package middlewares

import (
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TenantMiddleware binds the request's tenant identity into the context. The
// business id comes from the gateway (x-business-id); everything downstream
// (tenant guard, cache keys, outbox rows) reads it from the context.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := c.GetHeader("x-business-id")
		if businessId == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "x-business-id header is required"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

		if userIdHeader := c.GetHeader("x-user-id"); userIdHeader != "" {
			if userId, err := strconv.Atoi(userIdHeader); err == nil {
				ctx = utils.SetUserIdInContext(ctx, userId)
			}
		}
		if userName := c.GetHeader("x-user-name"); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CorrelationMiddleware attaches one correlation id per request, generating it
// when the caller did not supply one.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	}
}
