package models

import "time"

// RunStatus is the workflow state machine node for a single site run.
type RunStatus string

const (
	StatusNavigating       RunStatus = "NAVIGATING"
	StatusSearchPageFound  RunStatus = "SEARCH_PAGE_FOUND"
	StatusResultsGridFound RunStatus = "RESULTS_GRID_FOUND"
	StatusSearchExecuted   RunStatus = "SEARCH_EXECUTED"
	StatusColumnsCaptured  RunStatus = "COLUMNS_CAPTURED"
	StatusScriptGenerated  RunStatus = "SCRIPT_GENERATED"
	StatusScriptTested     RunStatus = "SCRIPT_TESTED"
	StatusScriptFailed     RunStatus = "SCRIPT_FAILED"
	StatusScriptFixed      RunStatus = "SCRIPT_FIXED"
	StatusLoginRequired    RunStatus = "LOGIN_REQUIRED"
	StatusNeedsHumanReview RunStatus = "NEEDS_HUMAN_REVIEW"
	StatusFailed           RunStatus = "FAILED"
)

// Terminal reports whether the status ends the run.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusScriptTested, StatusNeedsHumanReview, StatusLoginRequired, StatusFailed:
		return true
	}
	return false
}

// Circuit breaker ceilings. Exceeding any of them escalates the run to
// NEEDS_HUMAN_REVIEW instead of looping.
const (
	MaxAttempts         = 5 // attemptCount > 5 escalates
	MaxDisclaimerClicks = 5 // disclaimerClickAttempts >= 5 escalates
	MaxHealingAttempts  = 2 // healingAttempts >= 2 escalates
	MaxFixAttempts      = 3 // scriptTestAttempts >= 3 escalates
)

// DateRange is an inclusive search window in MM/DD/YYYY form.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DefaultDateRange returns the widest range used when the caller supplies none.
func DefaultDateRange(now time.Time) DateRange {
	return DateRange{
		Start: "01/01/1980",
		End:   now.Format("01/02/2006"),
	}
}

// SelectorSet holds the role selectors discovered on a search page.
// Empty string means the role was not found; there are no other sentinel
// values, so a missing role is always visible at the call site.
type SelectorSet struct {
	Input        string `json:"input,omitempty"`
	Submit       string `json:"submit,omitempty"`
	StartDate    string `json:"startDate,omitempty"`
	EndDate      string `json:"endDate,omitempty"`
	AcceptButton string `json:"acceptButton,omitempty"`
	Grid         string `json:"grid,omitempty"`
}

// RunState is the mutable state of one navigation/extraction run.
// It is owned exclusively by the orchestrator goroutine for the lifetime of
// the run; the control plane reads only the snapshots the orchestrator emits.
type RunState struct {
	ID          string    `json:"id"`
	TargetURL   string    `json:"target_url"`
	SearchQuery string    `json:"search_query"`
	DateRange   DateRange `json:"date_range"`

	Status RunStatus `json:"status"`

	// Bounded counters. Monotonically non-decreasing within a run,
	// reset only at run creation.
	AttemptCount            int `json:"attempt_count"`
	DisclaimerClickAttempts int `json:"disclaimer_click_attempts"`
	HealingAttempts         int `json:"healing_attempts"`
	ScriptTestAttempts      int `json:"script_test_attempts"`

	// ClickedSelectors is the anti-cycling memory for disclaimer dismissal.
	ClickedSelectors map[string]struct{} `json:"-"`

	SearchSelectors SelectorSet `json:"search_selectors"`

	RecordedSteps []Step      `json:"recorded_steps"`
	Grid          *GridSchema `json:"grid,omitempty"`

	GeneratedScriptPath string `json:"generated_script_path,omitempty"`
	ExtractedCount      int    `json:"extracted_count"`

	LastError        string   `json:"last_error,omitempty"`
	NeedsHumanReview bool     `json:"needs_human_review"`
	Logs             []string `json:"logs"`

	CreatedAt time.Time `json:"created_at"`
}

// NewRunState creates the initial state for a run.
func NewRunState(id, targetURL, query string, dates DateRange) *RunState {
	return &RunState{
		ID:               id,
		TargetURL:        targetURL,
		SearchQuery:      query,
		DateRange:        dates,
		Status:           StatusNavigating,
		ClickedSelectors: make(map[string]struct{}),
		CreatedAt:        time.Now(),
	}
}

// MarkClicked records a selector in the anti-cycling memory and reports
// whether it had been clicked before.
func (s *RunState) MarkClicked(selector string) (seen bool) {
	if _, ok := s.ClickedSelectors[selector]; ok {
		return true
	}
	s.ClickedSelectors[selector] = struct{}{}
	return false
}
