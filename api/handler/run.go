package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openrecords/gridscout/browser"
	"github.com/openrecords/gridscout/classify"
	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/llm"
	"github.com/openrecords/gridscout/models"
	"github.com/openrecords/gridscout/protocol"
	"github.com/openrecords/gridscout/registry"
	"github.com/openrecords/gridscout/runner"
	"github.com/openrecords/gridscout/synth"
	"github.com/openrecords/gridscout/webhook"
	"github.com/openrecords/gridscout/workflow"
)

// Deps carries the shared collaborators a live run needs. Everything
// browser-shaped is constructed per run; these are the process-wide pieces.
// The classifier lives here so its memo cache spans runs: two runs against
// the same site reuse each other's page decisions.
type Deps struct {
	Cfg        *config.Config
	LLM        *llm.Client
	Classifier *classify.Classifier
	Registry   *registry.Registry
}

// PostRun returns a handler for POST /api/v1/run.
// It validates the request, registers the run, and launches the workflow
// in the background. Progress is read via GET /api/v1/run/:id or the
// websocket stream.
func PostRun(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.StartRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		dates := models.DefaultDateRange(time.Now())
		if req.DateRange != nil && req.DateRange.Start != "" && req.DateRange.End != "" {
			dates = *req.DateRange
		}

		runID := "run-" + uuid.NewString()
		state := models.NewRunState(runID, req.URL, req.SearchQuery, dates)

		entry := newRunEntry(runID)
		runStore.Store(runID, entry)

		go executeRun(deps, entry, state)

		c.JSON(http.StatusAccepted, models.StartRunResponse{
			RunID:  runID,
			Status: state.Status,
		})
	}
}

// GetRun returns a handler for GET /api/v1/run/:id.
func GetRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := runStore.Load(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "run not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, val.(*runEntry).snapshot())
	}
}

// executeRun builds a fresh workflow stack and drives it to a terminal
// state. Runs one goroutine per accepted request; the rate limiter is the
// admission control.
func executeRun(deps Deps, entry *runEntry, state *models.RunState) {
	ctx := context.Background()

	driver, err := newDriver(ctx, deps.Cfg)
	if err != nil {
		state.Status = models.StatusFailed
		state.LastError = "no browser available: " + err.Error()
		state.Logs = append(state.Logs, "browser acquisition failed: "+err.Error())
		entry.publish(state)
		slog.Error("run aborted before start", "run", state.ID, "error", err)
		return
	}
	defer driver.Close()

	adapter := browser.NewAdapter(driver, deps.Cfg.Workflow)
	o := workflow.New(
		adapter,
		deps.Classifier,
		synth.New(deps.LLM, deps.Cfg.Scripts),
		runner.New(deps.LLM, deps.Cfg.Scripts),
		deps.Registry,
		deps.Cfg.Workflow,
		deps.Cfg.Scripts,
	)
	o.OnUpdate = entry.publish

	o.Run(ctx, state)
	entry.publish(state)
	notifyRunFinished(deps.Cfg.Webhook, entry, state)
}

// newDriver prefers the external automation service; when it is not
// reachable the run falls back to a locally managed browser.
func newDriver(ctx context.Context, cfg *config.Config) (browser.Driver, error) {
	if cfg.Automation.Endpoint != "" {
		pc := protocol.NewClient(cfg.Automation)
		err := pc.Connect(ctx)
		if err == nil {
			return pc, nil
		}
		slog.Warn("automation service unavailable, using managed browser", "error", err)
	}
	return browser.NewRodDriver(cfg.Browser)
}

func notifyRunFinished(cfg config.WebhookConfig, entry *runEntry, state *models.RunState) {
	if cfg.URL == "" {
		return
	}
	eventType := "run.completed"
	if state.Status == models.StatusFailed {
		eventType = "run.failed"
	}
	webhook.DeliverAsync(cfg.URL, cfg.Secret, &webhook.Event{
		Type:      eventType,
		RunID:     state.ID,
		Timestamp: time.Now().Unix(),
		Data:      entry.snapshot(),
	})
}
