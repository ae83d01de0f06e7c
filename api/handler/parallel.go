package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
	"github.com/openrecords/gridscout/parallel"
	"github.com/openrecords/gridscout/webhook"
)

// maxParallelScripts bounds one request; larger batches should be split by
// the caller.
const maxParallelScripts = 100

// PostParallel returns a handler for POST /api/v1/parallel.
// It validates the script list, registers the parallel run, and launches
// the coordinator in the background.
func PostParallel(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ParallelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		if len(req.Scripts) == 0 || len(req.Scripts) > maxParallelScripts {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "scripts must contain between 1 and 100 entries",
				},
			})
			return
		}

		scripts := make([]string, 0, len(req.Scripts))
		for _, name := range req.Scripts {
			path, ok := resolveScript(cfg.Scripts.OutputDir, name)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": models.ErrorDetail{
						Code:    models.ErrCodeInvalidInput,
						Message: "unknown script: " + name,
					},
				})
				return
			}
			scripts = append(scripts, path)
		}

		dates := models.DefaultDateRange(time.Now())
		if req.DateRange != nil && req.DateRange.Start != "" && req.DateRange.End != "" {
			dates = *req.DateRange
		}

		runID := "par-" + uuid.NewString()
		entry := newParallelEntry(runID, scripts, req.ConcurrencyLimit)
		parallelStore.Store(runID, entry)

		go executeParallel(cfg, entry, req.SearchQuery, dates)

		c.JSON(http.StatusAccepted, models.ParallelResponse{
			RunID: runID,
			Total: len(scripts),
		})
	}
}

// GetParallel returns a handler for GET /api/v1/parallel/:id.
func GetParallel() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := parallelStore.Load(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "parallel run not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, val.(*parallelEntry).snapshot())
	}
}

func executeParallel(cfg *config.Config, entry *parallelEntry, query string, dates models.DateRange) {
	run := &models.ParallelRun{
		ID:               entry.id,
		Scripts:          entry.scripts,
		ConcurrencyLimit: entry.limit,
		Results:          make(map[string]models.RunResult, len(entry.scripts)),
		Status:           "processing",
		CreatedAt:        entry.createdAt,
	}

	coordinator := parallel.New(cfg.Scripts)
	coordinator.Execute(context.Background(), run, query, dates, entry.publish)

	if cfg.Webhook.URL != "" {
		webhook.DeliverAsync(cfg.Webhook.URL, cfg.Webhook.Secret, &webhook.Event{
			Type:      "parallel.completed",
			RunID:     entry.id,
			Timestamp: time.Now().Unix(),
			Data:      entry.snapshot(),
		})
	}
}
