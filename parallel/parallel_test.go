package parallel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
	"github.com/openrecords/gridscout/runner"
)

// countingExec tracks how many invocations overlap in time.
type countingExec struct {
	mu      sync.Mutex
	active  int32
	peak    int32
	results map[string]runner.ExecResult
	hold    time.Duration
}

func (e *countingExec) run(ctx context.Context, bin, script string, args []string, timeout time.Duration) runner.ExecResult {
	cur := atomic.AddInt32(&e.active, 1)
	defer atomic.AddInt32(&e.active, -1)

	e.mu.Lock()
	if cur > e.peak {
		e.peak = cur
	}
	res, ok := e.results[script]
	e.mu.Unlock()

	time.Sleep(e.hold)
	if !ok {
		res = runner.ExecResult{Stdout: "SUCCESS: Extracted 5 rows"}
	}
	return res
}

func newRun(n, limit int) *models.ParallelRun {
	run := &models.ParallelRun{
		ID:               "p1",
		ConcurrencyLimit: limit,
		Results:          make(map[string]models.RunResult),
		Status:           "processing",
		CreatedAt:        time.Now().Unix(),
	}
	for i := 0; i < n; i++ {
		run.Scripts = append(run.Scripts, fmt.Sprintf("script_%02d.py", i))
	}
	return run
}

func TestExecuteHonorsConcurrencyLimit(t *testing.T) {
	fake := &countingExec{results: map[string]runner.ExecResult{}, hold: 30 * time.Millisecond}
	c := New(config.ScriptsConfig{PythonBin: "python3", TestTimeout: time.Second})
	c.exec = fake.run

	run := newRun(10, 3)
	c.Execute(context.Background(), run, "SMITH", models.DateRange{Start: "01/01/1980", End: "12/31/2025"}, nil)

	if fake.peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", fake.peak)
	}
	if len(run.Results) != 10 {
		t.Errorf("results = %d, want 10", len(run.Results))
	}
	if run.Status != "completed" {
		t.Errorf("status = %q, want completed", run.Status)
	}
	for script, res := range run.Results {
		if !res.Success || res.RowCount != 5 {
			t.Errorf("%s: success=%v rows=%d, want success with 5 rows", script, res.Success, res.RowCount)
		}
	}
}

func TestExecuteZeroLimitRunsAllAtOnce(t *testing.T) {
	fake := &countingExec{results: map[string]runner.ExecResult{}, hold: 30 * time.Millisecond}
	c := New(config.ScriptsConfig{PythonBin: "python3", TestTimeout: time.Second})
	c.exec = fake.run

	run := newRun(6, 0)
	c.Execute(context.Background(), run, "SMITH", models.DateRange{Start: "01/01/1980", End: "12/31/2025"}, nil)

	if fake.peak < 4 {
		t.Errorf("peak concurrency = %d, want unbounded fan-out above 3", fake.peak)
	}
	if len(run.Results) != 6 {
		t.Errorf("results = %d, want 6", len(run.Results))
	}
}

func TestExecuteEmitsLifecycleEvents(t *testing.T) {
	fake := &countingExec{
		results: map[string]runner.ExecResult{
			"script_01.py": {Stdout: "FAILED: grid never appeared", ExitCode: 0},
		},
	}
	c := New(config.ScriptsConfig{PythonBin: "python3", TestTimeout: time.Second})
	c.exec = fake.run

	run := newRun(3, 2)
	var mu sync.Mutex
	started := map[string]bool{}
	var completes, finals int
	var final models.ParallelEvent

	c.Execute(context.Background(), run, "SMITH", models.DateRange{Start: "01/01/1980", End: "12/31/2025"},
		func(ev models.ParallelEvent) {
			mu.Lock()
			defer mu.Unlock()
			switch ev.Type {
			case models.EventScriptStart:
				started[ev.Script] = true
			case models.EventScriptComplete:
				completes++
				if !started[ev.Script] {
					t.Errorf("complete for %s before its start event", ev.Script)
				}
				if ev.Result == nil {
					t.Errorf("complete event for %s carries no result", ev.Script)
				}
			case models.EventParallelComplete:
				finals++
				final = ev
			}
		})

	if len(started) != 3 || completes != 3 {
		t.Errorf("starts = %d completes = %d, want 3 each", len(started), completes)
	}
	if finals != 1 {
		t.Fatalf("parallel_complete events = %d, want exactly 1", finals)
	}
	if final.Success != 2 || final.Failed != 1 || final.Done != 3 {
		t.Errorf("final event = success %d failed %d done %d, want 2/1/3",
			final.Success, final.Failed, final.Done)
	}
	if res, ok := run.Results["script_01.py"]; !ok || res.Success {
		t.Errorf("script_01 result = %+v, want recorded failure", res)
	}
}

func TestExecuteTimedOutScriptRecordedAsFailure(t *testing.T) {
	fake := &countingExec{
		results: map[string]runner.ExecResult{
			"script_00.py": {TimedOut: true, ExitCode: -1},
		},
	}
	c := New(config.ScriptsConfig{PythonBin: "python3", TestTimeout: time.Second})
	c.exec = fake.run

	run := newRun(2, 1)
	c.Execute(context.Background(), run, "SMITH", models.DateRange{Start: "01/01/1980", End: "12/31/2025"}, nil)

	res := run.Results["script_00.py"]
	if res.Success || !res.TimedOut {
		t.Errorf("timed-out script result = %+v, want failed with TimedOut", res)
	}
	if other := run.Results["script_01.py"]; !other.Success {
		t.Errorf("sibling script result = %+v, timeout must not poison it", other)
	}
}
