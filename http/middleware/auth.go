package middlewares

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scribe-rabbit/scribe-orchestrator/entity"
	"github.com/scribe-rabbit/scribe-orchestrator/infra"
	"github.com/scribe-rabbit/scribe-orchestrator/repository"
	"github.com/scribe-rabbit/scribe-orchestrator/utils"
)

const apiKeyHeader = "X-API-Key"

// AuthMiddleware validates the client API key. Keys live in the job
// store; a short redis cache keeps the hot path off Postgres.
func AuthMiddleware(repo *repository.Repository, infraClient *infra.Infra) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		key := c.GetHeader(apiKeyHeader)
		if key == "" {
			utils.JSON401(c, "API key is missing")
			c.Abort()
			return
		}

		cacheKey := "apikey:" + utils.HashBodySHA256([]byte(key))

		var cached entity.APIKey
		if err := infraClient.Redis.Get(ctx, cacheKey, &cached); err == nil {
			c.Set("api_key_id", cached.ID.String())
			c.Next()
			return
		}

		apiKey, err := repo.APIKeyRepo.FindActiveByKey(key)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				utils.JSON401(c, "Invalid API key")
				c.Abort()
				return
			}
			infraClient.Logger.ErrorWithContextf(ctx, err, "[Auth] API key lookup failed")
			utils.JSON500(c, "Authentication unavailable")
			c.Abort()
			return
		}

		if err := infraClient.Redis.Set(ctx, cacheKey, apiKey, 5*time.Minute); err != nil {
			infraClient.Logger.WarningWithContextf(ctx, "[Auth] Failed to cache API key: %v", err)
		}

		c.Set("api_key_id", apiKey.ID.String())
		c.Next()
	}
}
