package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/protocol"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports uptime, active run counts, and whether the external automation
// service answers its probe port. A dead automation service degrades the
// status; runs still work through the managed browser fallback.
func Health(cfg *config.Config, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		activeRuns := 0
		runStore.Range(func(_, value any) bool {
			if !value.(*runEntry).snapshot().Status.Terminal() {
				activeRuns++
			}
			return true
		})

		status := "healthy"
		automation := "disabled"
		if cfg.Automation.Endpoint != "" {
			automation = "reachable"
			if err := protocol.Probe(c.Request.Context(), cfg.Automation.ProbePort, cfg.Automation.ProbeTimeout); err != nil {
				automation = "unreachable"
				status = "degraded"
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":      status,
			"uptime":      time.Since(startTime).Round(time.Second).String(),
			"active_runs": activeRuns,
			"automation":  automation,
			"version":     "0.1.0",
		})
	}
}
