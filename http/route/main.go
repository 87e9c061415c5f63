package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/scribe-rabbit/scribe-orchestrator/http/controller"
	middlewares "github.com/scribe-rabbit/scribe-orchestrator/http/middleware"
)

func SetupRouter(ctrl *controller.Controller) *gin.Engine {
	r := gin.Default()
	middles, err := middlewares.NewMiddlewares(ctrl)
	if err != nil {
		panic(err)
	}

	r.Use(middles.CORSMiddleware)
	r.GET("/health", ctrl.HealthCheck)

	apiRoutes := r.Group("/api/v1")
	{
		apiRoutes.Use(middles.AuthMiddleware)
		apiRoutes.Use(middles.RateLimitMiddleware)

		apiRoutes.POST("/transcribe", ctrl.CreateTranscriptionJob)
		apiRoutes.POST("/transcribe/upload", ctrl.UploadTranscriptionJob)
		apiRoutes.POST("/enhance", ctrl.CreateEnhanceJob)

		apiRoutes.GET("/jobs/:id", ctrl.GetJobStatus)
		apiRoutes.DELETE("/jobs/:id", ctrl.CancelJob)

		apiRoutes.GET("/models", ctrl.ListModels)
	}

	return r
}
