package handler

import (
	"sync"
	"time"

	"github.com/openrecords/gridscout/models"
)

// runStore holds all in-flight and completed workflow runs.
// parallelStore holds bulk script executions. Both are process-local; a
// restart forgets finished runs, which is acceptable because generated
// scripts and the selector registry persist on disk.
var (
	runStore      sync.Map
	parallelStore sync.Map
)

func init() {
	// Background goroutine to expire runs older than 1 hour.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-1 * time.Hour).Unix()
			runStore.Range(func(key, value any) bool {
				if value.(*runEntry).expired(cutoff) {
					runStore.Delete(key)
				}
				return true
			})
			parallelStore.Range(func(key, value any) bool {
				if value.(*parallelEntry).expired(cutoff) {
					parallelStore.Delete(key)
				}
				return true
			})
		}
	}()
}

// runEntry is the store-side view of one workflow run. The orchestrator
// goroutine owns the live RunState; every OnUpdate snapshot is copied here
// under the mutex so HTTP and websocket readers never touch live state.
type runEntry struct {
	id        string
	createdAt int64

	mu             sync.Mutex
	status         models.RunStatus
	logs           []string
	sentLogs       int
	scriptPath     string
	extractedCount int
	lastError      string
	subs           map[chan models.RunEvent]struct{}
}

func newRunEntry(id string) *runEntry {
	return &runEntry{
		id:        id,
		createdAt: time.Now().Unix(),
		status:    models.StatusNavigating,
		subs:      make(map[chan models.RunEvent]struct{}),
	}
}

func (e *runEntry) expired(cutoff int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createdAt < cutoff && e.status.Terminal()
}

// publish copies the run snapshot and fans an event out to subscribers.
// Slow subscribers are skipped rather than blocking the orchestrator.
func (e *runEntry) publish(state *models.RunState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status = state.Status
	e.logs = append(e.logs[:0], state.Logs...)
	e.scriptPath = state.GeneratedScriptPath
	e.extractedCount = state.ExtractedCount
	e.lastError = state.LastError

	fresh := append([]string(nil), e.logs[e.sentLogs:]...)
	e.sentLogs = len(e.logs)

	ev := models.RunEvent{
		Type:           models.EventRunUpdate,
		RunID:          e.id,
		Status:         e.status,
		LogCount:       len(e.logs),
		Logs:           fresh,
		ExtractedCount: e.extractedCount,
		ScriptPath:     e.scriptPath,
		Error:          e.lastError,
	}
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// snapshot renders the current state for the status endpoint.
func (e *runEntry) snapshot() models.RunStatusResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp := models.RunStatusResponse{
		RunID:          e.id,
		Status:         e.status,
		LogCount:       len(e.logs),
		Logs:           append([]string(nil), e.logs...),
		ScriptPath:     e.scriptPath,
		ExtractedCount: e.extractedCount,
	}
	if e.lastError != "" && e.status == models.StatusFailed {
		resp.Error = &models.ErrorDetail{
			Code:    models.ErrCodeInternal,
			Message: e.lastError,
		}
	}
	return resp
}

func (e *runEntry) subscribe() chan models.RunEvent {
	ch := make(chan models.RunEvent, 64)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
	return ch
}

func (e *runEntry) unsubscribe(ch chan models.RunEvent) {
	e.mu.Lock()
	delete(e.subs, ch)
	e.mu.Unlock()
}

// parallelEntry mirrors runEntry for bulk executions. Results arrive via
// coordinator events, never by reading the coordinator's map concurrently.
type parallelEntry struct {
	id        string
	createdAt int64
	scripts   []string
	limit     int

	mu      sync.Mutex
	total   int
	done    int
	success int
	failed  int
	status  string
	results map[string]models.RunResult
	subs    map[chan models.ParallelEvent]struct{}
}

func newParallelEntry(id string, scripts []string, limit int) *parallelEntry {
	total := len(scripts)
	return &parallelEntry{
		id:        id,
		createdAt: time.Now().Unix(),
		scripts:   scripts,
		limit:     limit,
		total:     total,
		status:    "processing",
		results:   make(map[string]models.RunResult, total),
		subs:      make(map[chan models.ParallelEvent]struct{}),
	}
}

func (e *parallelEntry) expired(cutoff int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createdAt < cutoff && e.status == "completed"
}

func (e *parallelEntry) publish(ev models.ParallelEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Type {
	case models.EventScriptComplete:
		if ev.Result != nil {
			e.results[ev.Script] = *ev.Result
		}
		e.done = ev.Done
	case models.EventParallelComplete:
		e.done = ev.Done
		e.success = ev.Success
		e.failed = ev.Failed
		e.status = "completed"
	}

	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *parallelEntry) snapshot() models.ParallelRun {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make(map[string]models.RunResult, len(e.results))
	for k, v := range e.results {
		results[k] = v
	}
	return models.ParallelRun{
		ID:               e.id,
		Scripts:          append([]string(nil), e.scripts...),
		ConcurrencyLimit: e.limit,
		Results:          results,
		Status:           e.status,
		CreatedAt:        e.createdAt,
	}
}

func (e *parallelEntry) subscribe() chan models.ParallelEvent {
	ch := make(chan models.ParallelEvent, 64)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
	return ch
}

func (e *parallelEntry) unsubscribe(ch chan models.ParallelEvent) {
	e.mu.Lock()
	delete(e.subs, ch)
	e.mu.Unlock()
}
