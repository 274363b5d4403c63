package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, log *zap.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(log))

	// Health check
	router.GET("/health", handler.HealthCheck)

	extractions := router.Group("/api/extractions")
	{
		extractions.GET("", handler.ListExtractions)
		extractions.POST("", handler.CreateExtraction)
		extractions.GET("/:id", handler.GetExtraction)
		extractions.POST("/:id/start", handler.StartExtraction)
		extractions.POST("/:id/pause", handler.PauseExtraction)
	}

	return router
}
