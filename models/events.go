package models

// Control-plane event types streamed over the run and parallel websockets.
const (
	EventRunUpdate        = "run_update"
	EventScriptStart      = "script_start"
	EventScriptComplete   = "script_complete"
	EventParallelComplete = "parallel_complete"
)

// RunEvent is one progress update from an in-flight orchestrator run.
type RunEvent struct {
	Type           string    `json:"type"`
	RunID          string    `json:"run_id"`
	Node           string    `json:"node"`
	Status         RunStatus `json:"status"`
	LogCount       int       `json:"log_count"`
	Logs           []string  `json:"logs,omitempty"`
	ExtractedCount int       `json:"extracted_count"`
	ScriptPath     string    `json:"script_path,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// ParallelEvent is one lifecycle event from the parallel coordinator.
type ParallelEvent struct {
	Type    string     `json:"type"`
	RunID   string     `json:"run_id"`
	Script  string     `json:"script,omitempty"`
	Result  *RunResult `json:"result,omitempty"`
	Done    int        `json:"done,omitempty"`
	Total   int        `json:"total,omitempty"`
	Success int        `json:"success,omitempty"`
	Failed  int        `json:"failed,omitempty"`
}
