package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes
func SetupRoutes(handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.POST("/requests", handlers.EnqueueHandler)
		api.GET("/requests", handlers.ListRequestsHandler)
		api.GET("/requests/:id", handlers.GetRequestHandler)
		api.GET("/results", handlers.ResultsHandler)
		api.GET("/status", handlers.StatusHandler)
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router
}
