package status

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the status, pipeline and connect routes
//
//	v1 := router.Group("/v1")
//	status.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	statusGroup := rg.Group("/status")
	{
		statusGroup.GET("/machines", handlers.HandleMachines)
		statusGroup.GET("/machines/:machine", handlers.HandleMachine)
		statusGroup.GET("/processes/:machine/:process", handlers.HandleProcess)
		statusGroup.GET("/addresses", handlers.HandleAddresses)
		statusGroup.GET("/addresses/:address", handlers.HandleAddress)
	}
	pipelineGroup := rg.Group("/pipeline")
	{
		pipelineGroup.POST("/run", handlers.HandleRun)
		pipelineGroup.GET("/runs", handlers.HandleRuns)
	}
	rg.GET("/connect", handlers.HandleConnect)
}

// NewEngine creates the HTTP engine of a root: /v1 routes plus /metrics
func NewEngine(handlers *Handlers) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	RegisterRoutes(engine.Group("/v1"), handlers)
	return engine
}
