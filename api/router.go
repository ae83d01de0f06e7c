// Package api exposes the HTTP control plane: run management, script
// execution, and websocket progress streams.
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openrecords/gridscout/api/handler"
	"github.com/openrecords/gridscout/api/middleware"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always
// work. Websocket routes carry auth but not the rate limiter: one upgrade
// per run is the natural ceiling.
func NewRouter(deps handler.Deps, startTime time.Time) *gin.Engine {
	cfg := deps.Cfg
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(cfg, startTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Workflow runs
	protected.POST("/run", handler.PostRun(deps))
	protected.GET("/run/:id", handler.GetRun())

	// Generated scripts
	protected.GET("/scripts", handler.ListScripts(cfg.Scripts))
	protected.POST("/execute-script", handler.ExecuteScript(cfg.Scripts))

	// Parallel execution
	protected.POST("/parallel", handler.PostParallel(cfg))
	protected.GET("/parallel/:id", handler.GetParallel())

	// Progress streams
	ws := r.Group("/ws")
	if cfg.Auth.Enabled {
		ws.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	ws.GET("/run/:id", handler.RunWS())
	ws.GET("/parallel/:id", handler.ParallelWS())

	return r
}
