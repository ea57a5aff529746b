package controller

import (
	commonmw "judger/internal/common/http/middleware"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the status API.
func NewRouter(auth commonmw.AuthConfig, solutions SolutionReader, workers WorkerLister) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLoggerMiddleware())

	api := router.Group("/api/v1")
	api.Use(commonmw.AuthMiddleware(auth))
	api.GET("/solutions/:id", NewSolutionController(solutions).Get)
	api.GET("/workers", NewWorkerController(workers).List)
	return router
}
