package models

// StartRunRequest is the body of POST /api/v1/run.
type StartRunRequest struct {
	URL         string     `json:"url" binding:"required"`
	SearchQuery string     `json:"search_query" binding:"required"`
	DateRange   *DateRange `json:"date_range,omitempty"`
}

// StartRunResponse acknowledges an accepted run.
type StartRunResponse struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
}

// RunStatusResponse is the body of GET /api/v1/run/:id.
type RunStatusResponse struct {
	RunID          string       `json:"run_id"`
	Status         RunStatus    `json:"status"`
	LogCount       int          `json:"log_count"`
	Logs           []string     `json:"logs"`
	ScriptPath     string       `json:"script_path,omitempty"`
	ExtractedCount int          `json:"extracted_count"`
	Error          *ErrorDetail `json:"error,omitempty"`
}

// ExecuteScriptRequest is the body of POST /api/v1/execute-script.
type ExecuteScriptRequest struct {
	Script      string     `json:"script" binding:"required"`
	SearchQuery string     `json:"search_query" binding:"required"`
	DateRange   *DateRange `json:"date_range,omitempty"`
}

// ParallelRequest is the body of POST /api/v1/parallel.
type ParallelRequest struct {
	Scripts          []string   `json:"scripts" binding:"required"`
	SearchQuery      string     `json:"search_query" binding:"required"`
	DateRange        *DateRange `json:"date_range,omitempty"`
	ConcurrencyLimit int        `json:"concurrency_limit"`
}

// ParallelResponse acknowledges an accepted parallel run.
type ParallelResponse struct {
	RunID string `json:"run_id"`
	Total int    `json:"total"`
}
