// Package parallel executes previously generated scripts in bulk under a
// concurrency ceiling, aggregating per-script outcomes into one run.
package parallel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
	"github.com/openrecords/gridscout/runner"
)

// outputCap bounds the stdout/stderr retained per script so a chatty
// script cannot bloat the aggregate result payload.
const outputCap = 10000

type execFunc func(ctx context.Context, bin, script string, args []string, timeout time.Duration) runner.ExecResult

// Coordinator runs scripts concurrently. One coordinator per parallel run;
// it owns the run's Results map for the duration of Execute.
type Coordinator struct {
	cfg  config.ScriptsConfig
	exec execFunc
}

// New creates a coordinator.
func New(cfg config.ScriptsConfig) *Coordinator {
	return &Coordinator{cfg: cfg, exec: runner.Exec}
}

// scriptMessage flows from worker goroutines to the collector. A nil result
// marks the start of execution, non-nil its completion.
type scriptMessage struct {
	script string
	result *models.RunResult
}

// Execute runs every script in the parallel run, at most
// run.ConcurrencyLimit at a time (a limit of zero or less runs all scripts
// at once). Each script gets its own wall-clock timeout; one slow script
// never blocks the others past the semaphore. Results and status are
// written by the collector loop only, so callers may read the run after
// Execute returns without further synchronization.
func (c *Coordinator) Execute(ctx context.Context, run *models.ParallelRun, query string, dates models.DateRange, emit func(models.ParallelEvent)) {
	if emit == nil {
		emit = func(models.ParallelEvent) {}
	}
	if dates.Start == "" || dates.End == "" {
		dates = models.DefaultDateRange(time.Now())
	}
	args := []string{query, dates.Start, dates.End}

	limit := int64(run.ConcurrencyLimit)
	if limit <= 0 {
		limit = int64(len(run.Scripts))
	}
	sem := semaphore.NewWeighted(limit)

	msgs := make(chan scriptMessage)
	var wg sync.WaitGroup
	for _, script := range run.Scripts {
		wg.Add(1)
		go func(script string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				msgs <- scriptMessage{script: script, result: &models.RunResult{
					Script: script,
					Stderr: "canceled before start: " + err.Error(),
				}}
				return
			}
			defer sem.Release(1)

			msgs <- scriptMessage{script: script}
			result := c.runOne(ctx, script, args)
			msgs <- scriptMessage{script: script, result: &result}
		}(script)
	}
	go func() {
		wg.Wait()
		close(msgs)
	}()

	done, success, failed := 0, 0, 0
	total := len(run.Scripts)
	for msg := range msgs {
		if msg.result == nil {
			emit(models.ParallelEvent{
				Type:   models.EventScriptStart,
				RunID:  run.ID,
				Script: msg.script,
				Done:   done,
				Total:  total,
			})
			continue
		}
		run.Results[msg.script] = *msg.result
		done++
		if msg.result.Success {
			success++
		} else {
			failed++
		}
		emit(models.ParallelEvent{
			Type:   models.EventScriptComplete,
			RunID:  run.ID,
			Script: msg.script,
			Result: msg.result,
			Done:   done,
			Total:  total,
		})
	}

	run.Status = "completed"
	slog.Info("parallel run finished",
		"run", run.ID, "total", total, "success", success, "failed", failed)
	emit(models.ParallelEvent{
		Type:    models.EventParallelComplete,
		RunID:   run.ID,
		Done:    done,
		Total:   total,
		Success: success,
		Failed:  failed,
	})
}

// runOne executes a single script and classifies its output the same way
// the test step of a live run does.
func (c *Coordinator) runOne(ctx context.Context, script string, args []string) models.RunResult {
	started := time.Now()
	res := c.exec(ctx, c.cfg.PythonBin, script, args, c.cfg.TestTimeout)
	elapsed := time.Since(started)

	outcome := runner.Classify(res)
	return models.RunResult{
		Script:     script,
		Success:    outcome.Passed,
		RowCount:   outcome.RowCount,
		Stdout:     truncate(res.Stdout, outputCap),
		Stderr:     truncate(res.Stderr, outputCap),
		TimedOut:   res.TimedOut,
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... [truncated]"
}
