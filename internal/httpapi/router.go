// Package httpapi binds the control surface to a Gin router: one handler
// per operation, bearer auth on mutating endpoints, a websocket progress
// push, Prometheus metrics, and health probes.
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dirscan/internal/control"
	"dirscan/internal/metrics"
	"dirscan/internal/middleware"
)

// Deps carries everything the router needs from the process's Core.
type Deps struct {
	Surface    *control.Surface
	ConfigPath string
	AuthSecret string
	StartedAt  time.Time
	Health     *metrics.HealthChecker
	Logger     *zap.Logger
}

// NewRouter wires the full REST and websocket surface.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.RequestID())
	router.Use(metrics.GinMiddleware())

	handler := NewScanHandler(deps.Surface, deps.ConfigPath, deps.Logger)

	router.GET("/health", handler.Health(deps.StartedAt))
	if deps.Health != nil {
		router.GET("/health/live", func(c *gin.Context) { c.Status(deps.Health.LivenessProbe()) })
		router.GET("/health/ready", func(c *gin.Context) { c.Status(deps.Health.ReadinessProbe(c.Request.Context())) })
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ws := NewProgressSocket(deps.Surface, deps.Logger)
	router.GET("/ws/scans/:slug/progress", ws.Serve)

	api := router.Group("/api/v1")
	{
		api.GET("/scans", handler.ListScans)
		api.GET("/scans/:slug", handler.GetScan)
		api.GET("/scans/:slug/status", handler.GetScanStatus)
		api.GET("/scans/:slug/progress", handler.GetScanProgress)
		api.GET("/scans/:slug/results", handler.GetScanResults)
		api.GET("/scans/:slug/history", handler.GetScanHistory)

		api.GET("/storage/stats", handler.GetStorageStats)
		api.GET("/storage/folders", handler.GetAllFolders)
		api.GET("/storage/cleanup/preview", handler.CleanupPreview)
	}

	protected := api.Group("")
	protected.Use(BearerAuth(deps.AuthSecret))
	{
		protected.POST("/scans/:slug/trigger", handler.TriggerScan)
		protected.POST("/config/reload", handler.ReloadConfig)
		protected.POST("/storage/cleanup", handler.Cleanup)
		protected.DELETE("/storage/folders", handler.DeleteFolderResults)
		protected.DELETE("/scans/:slug/results", handler.DeleteScanResults)
		protected.DELETE("/storage/results", handler.DeleteAllResults)
	}

	return router
}
