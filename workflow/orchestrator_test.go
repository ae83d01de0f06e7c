package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/openrecords/gridscout/browser"
	"github.com/openrecords/gridscout/classify"
	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/llm"
	"github.com/openrecords/gridscout/models"
)

// classifierReturning builds a real classifier backed by a fake LLM that
// always answers with the given decision JSON.
func classifierReturning(t *testing.T, decision map[string]any) (*classify.Classifier, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, _ := json.Marshal(decision)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": string(content)}}},
		})
	}))
	client := llm.NewClient(config.LLMConfig{
		BaseURL: srv.URL, APIKey: "k", Model: "m",
		RequestsPerSecond: 1000, Burst: 100, Timeout: 5 * time.Second,
	}, nil)
	return classify.New(client), srv.Close
}

func runOrchestrator(t *testing.T, d browser.Driver, cl *classify.Classifier, state *models.RunState) {
	t.Helper()
	cfg := config.WorkflowConfig{
		GridWaitTimeout: 100 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		SettleDelay:     0,
	}
	o := New(browser.NewAdapter(d, cfg), cl, nil, nil, nil, cfg, config.ScriptsConfig{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(context.Background(), state)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatalf("orchestrator did not terminate; status %s", state.Status)
	}
}

func TestRunEscalatesOnAttemptCeiling(t *testing.T) {
	// A page that classifies as nothing keeps incrementing attemptCount
	// until breaker (a) fires.
	cl, stop := classifierReturning(t, map[string]any{
		"is_search_page": false, "is_results_grid": false,
		"is_disclaimer": false, "requires_login": false,
		"reasoning": "blank page",
	})
	defer stop()

	d := newScriptedDriver()
	d.html = "<html><body><p>nothing recognizable</p></body></html>"

	state := models.NewRunState("r", "https://x.example", "SMITH", models.DateRange{})
	runOrchestrator(t, d, cl, state)

	if state.Status != models.StatusNeedsHumanReview {
		t.Errorf("status = %s, want NEEDS_HUMAN_REVIEW", state.Status)
	}
	if !state.NeedsHumanReview {
		t.Error("NeedsHumanReview not set on escalation")
	}
	if state.AttemptCount > models.MaxAttempts+1 {
		t.Errorf("attemptCount = %d, breaker must bound it at %d", state.AttemptCount, models.MaxAttempts+1)
	}
	if len(state.Logs) == 0 {
		t.Error("escalation left no log trace")
	}
}

func TestRunStopsOnLoginRequired(t *testing.T) {
	cl, stop := classifierReturning(t, map[string]any{
		"requires_login": true, "reasoning": "password form",
	})
	defer stop()

	d := newScriptedDriver()
	d.html = `<html><body><input type="password"></body></html>`

	state := models.NewRunState("r", "https://x.example", "SMITH", models.DateRange{})
	runOrchestrator(t, d, cl, state)

	if state.Status != models.StatusLoginRequired {
		t.Errorf("status = %s, want LOGIN_REQUIRED", state.Status)
	}
}

func TestRunHeuristicOverrideReachesSearchExecution(t *testing.T) {
	// LLM says "not a search page" but the markup carries the fingerprint
	// widget; the heuristic must upgrade and the orchestrator must proceed
	// to search execution.
	cl, stop := classifierReturning(t, map[string]any{
		"is_search_page": false, "reasoning": "unsure",
	})
	defer stop()

	d := newScriptedDriver()
	d.html = `<html><body><form id="frmSchTarget">
<input id="SearchOnName" type="text">
<input id="btnSearch" type="submit">
</form></body></html>`
	d.onClick["#btnSearch"] = func(d *scriptedDriver) { d.present["#grid"] = true }
	// Grid page renders a parsable header once the grid is present.
	gridPage := `<html><body><table id="grid"><thead><tr><th>Name</th><th>Date</th></tr></thead>
<tbody><tr><td>SMITH</td><td>01/01/2020</td></tr></tbody></table></body></html>`

	state := models.NewRunState("r", "https://x.example", "SMITH", models.DateRange{})

	cfg := config.WorkflowConfig{
		GridWaitTimeout: 200 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
	}
	o := New(browser.NewAdapter(d, cfg), cl, nil, nil, nil, cfg, config.ScriptsConfig{})
	o.log = NewRunLog(state)

	// Drive the two steps directly: classification then search.
	o.stepNavigate(context.Background(), state)
	if state.Status != models.StatusSearchPageFound {
		t.Fatalf("status after classify = %s, want SEARCH_PAGE_FOUND", state.Status)
	}
	if state.SearchSelectors.Input != "#SearchOnName" || state.SearchSelectors.Submit != "#btnSearch" {
		t.Fatalf("selectors = %+v, want heuristic-derived pair", state.SearchSelectors)
	}

	d.html = gridPage
	o.stepSearch(context.Background(), state)
	if state.Status != models.StatusSearchExecuted {
		t.Fatalf("status after search = %s, want SEARCH_EXECUTED", state.Status)
	}

	o.stepCapture(context.Background(), state)
	if state.Status != models.StatusColumnsCaptured {
		t.Fatalf("status after capture = %s, want COLUMNS_CAPTURED", state.Status)
	}
	if state.Grid == nil || len(state.Grid.Columns) != 2 {
		t.Fatalf("grid = %+v, want two columns", state.Grid)
	}
}

func TestCountersAreMonotone(t *testing.T) {
	cl, stop := classifierReturning(t, map[string]any{
		"is_disclaimer": true,
		"selectors":     map[string]any{"acceptButton": "#accept"},
	})
	defer stop()

	d := newScriptedDriver()
	d.html = `<html><body><a id="accept">I Agree</a></body></html>`
	d.text = "disclaimer text that never changes"
	d.present["#accept"] = true

	state := models.NewRunState("r", "https://x.example", "SMITH", models.DateRange{})

	var mu sync.Mutex
	prevAttempts, prevDisclaimer, prevHealing := 0, 0, 0
	cfg := config.WorkflowConfig{GridWaitTimeout: 100 * time.Millisecond, PollInterval: 5 * time.Millisecond}
	o := New(browser.NewAdapter(d, cfg), cl, nil, nil, nil, cfg, config.ScriptsConfig{})
	o.OnUpdate = func(s *models.RunState) {
		mu.Lock()
		defer mu.Unlock()
		if s.AttemptCount < prevAttempts || s.DisclaimerClickAttempts < prevDisclaimer || s.HealingAttempts < prevHealing {
			t.Errorf("counter decreased: attempts %d->%d disclaimer %d->%d healing %d->%d",
				prevAttempts, s.AttemptCount, prevDisclaimer, s.DisclaimerClickAttempts,
				prevHealing, s.HealingAttempts)
		}
		prevAttempts, prevDisclaimer, prevHealing = s.AttemptCount, s.DisclaimerClickAttempts, s.HealingAttempts
	}

	done := make(chan struct{})
	go func() { defer close(done); o.Run(context.Background(), state) }()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatalf("run did not terminate; status %s", state.Status)
	}

	if state.Status != models.StatusNeedsHumanReview {
		t.Errorf("status = %s, want NEEDS_HUMAN_REVIEW", state.Status)
	}
	if state.DisclaimerClickAttempts > models.MaxDisclaimerClicks {
		t.Errorf("disclaimerClickAttempts = %d, want <= %d",
			state.DisclaimerClickAttempts, models.MaxDisclaimerClicks)
	}
}

func TestStepRepairEscalatesAtCeiling(t *testing.T) {
	state := models.NewRunState("r", "https://x.example", "SMITH", models.DateRange{})
	state.Status = models.StatusScriptFailed
	state.ScriptTestAttempts = models.MaxFixAttempts

	o := testOrchestrator(newScriptedDriver(), state)
	o.stepRepair(context.Background(), state)

	if state.Status != models.StatusNeedsHumanReview {
		t.Errorf("status = %s, want NEEDS_HUMAN_REVIEW", state.Status)
	}
	if !state.NeedsHumanReview {
		t.Error("NeedsHumanReview not set")
	}
}

func TestPageFingerprintDetectsChange(t *testing.T) {
	a := pageFingerprint("You must accept the terms and conditions to continue to the search portal")
	b := pageFingerprint("Name Search   enter a last name and date range to search official records")
	same := pageFingerprint("You must accept the terms and conditions to continue to the search portal ")

	if pageChanged(a, same) {
		t.Error("identical text reported as changed")
	}
	if !pageChanged(a, b) {
		t.Error("different pages reported as unchanged")
	}
	if pageFingerprint("") != 0 {
		t.Error("empty text fingerprint not zero")
	}
}
