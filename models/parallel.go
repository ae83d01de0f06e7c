package models

import "time"

// RunResult is the outcome of one script inside a parallel run.
type RunResult struct {
	Script     string        `json:"script"`
	Success    bool          `json:"success"`
	RowCount   int           `json:"row_count"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
}

// ParallelRun executes many finished scripts under a concurrency ceiling.
// Independent of RunState; owned by the parallel coordinator.
type ParallelRun struct {
	ID               string               `json:"id"`
	Scripts          []string             `json:"scripts"`
	ConcurrencyLimit int                  `json:"concurrency_limit"`
	Results          map[string]RunResult `json:"results"`
	Status           string               `json:"status"` // "processing", "completed"
	CreatedAt        int64                `json:"created_at"`
}
