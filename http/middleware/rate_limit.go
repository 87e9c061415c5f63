package middlewares

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/scribe-rabbit/scribe-orchestrator/config"
	"github.com/scribe-rabbit/scribe-orchestrator/infra"
	"github.com/scribe-rabbit/scribe-orchestrator/utils"
)

// RateLimitMiddleware enforces a fixed-window request budget per API
// key. Runs after auth, so the key header is already validated.
func RateLimitMiddleware(infraClient *infra.Infra, cfg *config.EnvConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		key := c.GetHeader(apiKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		window := "ratelimit:" + utils.HashBodySHA256([]byte(key))
		count, err := infraClient.Redis.IncrWindow(ctx, window, cfg.RateLimit.Period)
		if err != nil {
			// Rate limiting is best effort; an unavailable counter must
			// not take down intake.
			infraClient.Logger.WarningWithContextf(ctx, "[RateLimit] Counter unavailable: %v", err)
			c.Next()
			return
		}

		if count > int64(cfg.RateLimit.Requests) {
			utils.JSON429(c, fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s.",
				cfg.RateLimit.Requests, cfg.RateLimit.Period))
			c.Abort()
			return
		}

		c.Next()
	}
}
