package middleware

import (
	"fmt"
	"math"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clinfhir/extractor-api/internal/ratelimit"
	"github.com/clinfhir/extractor-api/internal/service"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
	"github.com/clinfhir/extractor-api/pkg/response"
)

// RateLimit throttles per resolved identity, falling back to the client IP
// for anonymous callers. Runs after Auth so the budget follows the account
// across addresses; a limiter error admits the request rather than turning
// a Redis outage into a full outage.
func RateLimit(limiter ratelimit.Limiter, metrics *service.MetricsService, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if user := UserFromContext(c); user != nil {
			key = "user:" + user.ID
		}

		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}

		if !allowed {
			metrics.IncRateLimited()
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", seconds))
			response.Error(c, appErrors.Clone(appErrors.ErrRateLimited, fmt.Sprintf("rate limit exceeded, retry in %ds", seconds)))
			c.Abort()
			return
		}

		c.Next()
	}
}
