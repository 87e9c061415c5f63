package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/scribe-rabbit/scribe-orchestrator/http/controller"
)

type Middlewares struct {
	CORSMiddleware      gin.HandlerFunc
	AuthMiddleware      gin.HandlerFunc
	RateLimitMiddleware gin.HandlerFunc
}

func NewMiddlewares(ctrl *controller.Controller) (*Middlewares, error) {
	cors := CORSMiddleware(ctrl.Config.EnvConfig)
	auth := AuthMiddleware(ctrl.Repository, ctrl.Infra)
	rateLimit := RateLimitMiddleware(ctrl.Infra, ctrl.Config.EnvConfig)

	return &Middlewares{
		CORSMiddleware:      cors,
		AuthMiddleware:      auth,
		RateLimitMiddleware: rateLimit,
	}, nil
}
