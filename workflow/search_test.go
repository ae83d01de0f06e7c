package workflow

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/openrecords/gridscout/browser"
	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
)

// scriptedDriver simulates a site: selector presence toggles as clicks
// happen, and every probe/click is recorded in order.
type scriptedDriver struct {
	html    string
	text    string
	present map[string]bool
	// onClick mutates driver state when a selector is clicked.
	onClick map[string]func(*scriptedDriver)
	events  []string
}

var selectorInScript = regexp.MustCompile(`document\.querySelector\((".*?")\)`)

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{
		present: make(map[string]bool),
		onClick: make(map[string]func(*scriptedDriver)),
	}
}

func (d *scriptedDriver) Navigate(ctx context.Context, url string) error {
	d.events = append(d.events, "goto "+url)
	return nil
}

func (d *scriptedDriver) Click(ctx context.Context, selector string) error {
	d.events = append(d.events, "click "+selector)
	if fn, ok := d.onClick[selector]; ok {
		fn(d)
	}
	return nil
}

func (d *scriptedDriver) Fill(ctx context.Context, selector, value string) error {
	d.events = append(d.events, "fill "+selector+"="+value)
	return nil
}

func (d *scriptedDriver) Evaluate(ctx context.Context, script string) (string, error) {
	m := selectorInScript.FindStringSubmatch(script)
	if m == nil {
		return "", nil
	}
	sel, err := strconv.Unquote(m[1])
	if err != nil {
		return "", err
	}
	d.events = append(d.events, "probe "+sel)
	if d.present[sel] {
		if strings.Contains(script, "? 'yes'") {
			return "yes", nil
		}
		return "visible", nil
	}
	if strings.Contains(script, "? 'yes'") {
		return "no", nil
	}
	return "absent", nil
}

func (d *scriptedDriver) HTML(ctx context.Context) (string, error) { return d.html, nil }
func (d *scriptedDriver) Text(ctx context.Context) (string, error) { return d.text, nil }
func (d *scriptedDriver) Screenshot(ctx context.Context, name string) (string, error) {
	return name, nil
}
func (d *scriptedDriver) PressKey(ctx context.Context, key, selector string) error {
	d.events = append(d.events, "key "+key)
	return nil
}
func (d *scriptedDriver) Close() error { return nil }

func testOrchestrator(d browser.Driver, state *models.RunState) *Orchestrator {
	cfg := config.WorkflowConfig{
		GridWaitTimeout: 500 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		SettleDelay:     0,
	}
	o := New(browser.NewAdapter(d, cfg), nil, nil, nil, nil, cfg, config.ScriptsConfig{})
	o.log = NewRunLog(state)
	return o
}

func TestWaitForGridConfirmsPopupBeforeGrid(t *testing.T) {
	d := newScriptedDriver()
	// The popup is present immediately; the grid renders only after the
	// popup's scoped confirm control is clicked.
	confirm := `#NamesWin input[value="Done"]`
	d.present["#NamesWin"] = true
	d.present[confirm] = true
	d.onClick[confirm] = func(d *scriptedDriver) { d.present["#grid"] = true }

	state := models.NewRunState("r", "https://x.example", "SMITH", models.DateRange{})
	o := testOrchestrator(d, state)

	var staged []models.Step
	if !o.waitForGrid(context.Background(), state, &staged) {
		t.Fatalf("waitForGrid failed; events: %v", d.events)
	}

	clickIdx, gridProbeIdx := -1, -1
	for i, ev := range d.events {
		if ev == "click "+confirm && clickIdx == -1 {
			clickIdx = i
		}
		if ev == "probe #grid" && gridProbeIdx == -1 {
			gridProbeIdx = i
		}
	}
	if clickIdx == -1 {
		t.Fatalf("scoped confirm control never clicked; events: %v", d.events)
	}
	if gridProbeIdx != -1 && gridProbeIdx < clickIdx {
		t.Errorf("grid probed (event %d) before popup confirm click (event %d)", gridProbeIdx, clickIdx)
	}
	if state.SearchSelectors.Grid != "#grid" {
		t.Errorf("grid selector = %q, want #grid", state.SearchSelectors.Grid)
	}

	// The confirm step must be recorded with its container-scoped selector.
	var confirmed bool
	for _, step := range state.RecordedSteps {
		if step.Action == models.ActionClick && step.Metadata["purpose"] == "confirm_popup" {
			confirmed = true
			if !strings.HasPrefix(step.Selector, "#NamesWin ") {
				t.Errorf("confirm selector %q not scoped to popup container", step.Selector)
			}
		}
	}
	if !confirmed {
		t.Error("no confirm_popup step recorded")
	}
}

func TestWaitForGridDirectGrid(t *testing.T) {
	d := newScriptedDriver()
	d.present["#grid"] = true

	state := models.NewRunState("r", "https://x.example", "SMITH", models.DateRange{})
	o := testOrchestrator(d, state)

	var staged []models.Step
	if !o.waitForGrid(context.Background(), state, &staged) {
		t.Fatal("waitForGrid failed with grid present")
	}
	for _, ev := range d.events {
		if strings.HasPrefix(ev, "click") {
			t.Errorf("unexpected click %q when grid appeared directly", ev)
		}
	}
}

func TestWaitForGridTimesOutToStatus(t *testing.T) {
	d := newScriptedDriver()
	state := models.NewRunState("r", "https://x.example", "SMITH", models.DateRange{})
	o := testOrchestrator(d, state)

	var staged []models.Step
	if o.waitForGrid(context.Background(), state, &staged) {
		t.Error("waitForGrid succeeded on a page with neither grid nor popup")
	}
}

func TestExecuteSearchKeystrokeFillForGridVendor(t *testing.T) {
	d := newScriptedDriver()
	d.html = `<html><body class="igGrid infragistics"><input id="SearchOnName"><input id="btnSearch"></body></html>`
	d.onClick["#btnSearch"] = func(d *scriptedDriver) { d.present["#grid"] = true }

	state := models.NewRunState("r", "https://x.example", "SMITH", models.DateRange{})
	state.SearchSelectors = models.SelectorSet{Input: "#SearchOnName", Submit: "#btnSearch"}
	o := testOrchestrator(d, state)

	if !o.executeSearch(context.Background(), state) {
		t.Fatalf("executeSearch failed; events: %v", d.events)
	}

	typed := 0
	for _, ev := range d.events {
		if strings.HasPrefix(ev, "key ") {
			typed++
		}
		if strings.HasPrefix(ev, "fill #SearchOnName") {
			t.Error("plain fill used on keystroke-only widget")
		}
	}
	if typed != len("SMITH") {
		t.Errorf("typed %d keystrokes, want %d", typed, len("SMITH"))
	}
}

func TestExecuteSearchRecordsPlaceholderSteps(t *testing.T) {
	d := newScriptedDriver()
	d.html = `<html><body><input id="q"><input id="go"><input id="from" class="hasDatepicker"><input id="to" class="hasDatepicker"></body></html>`
	d.present[`#from`] = true
	d.present[`#to`] = true
	d.onClick["#go"] = func(d *scriptedDriver) { d.present["#grid"] = true }

	state := models.NewRunState("r", "https://x.example", "SMITH",
		models.DateRange{Start: "01/01/1980", End: "12/31/2025"})
	state.SearchSelectors = models.SelectorSet{
		Input: "#q", Submit: "#go", StartDate: "#from", EndDate: "#to",
	}
	o := testOrchestrator(d, state)

	if !o.executeSearch(context.Background(), state) {
		t.Fatalf("executeSearch failed; events: %v", d.events)
	}

	placeholders := map[string]string{}
	for _, step := range state.RecordedSteps {
		if step.Action == models.ActionFill {
			placeholders[step.Placeholder] = step.Value
		}
	}
	if placeholders[models.PlaceholderSearchTerm] != "SMITH" {
		t.Errorf("search term step = %q, want live literal SMITH", placeholders[models.PlaceholderSearchTerm])
	}
	if placeholders[models.PlaceholderStartDate] != "01/01/1980" {
		t.Errorf("start date step = %q, want 01/01/1980", placeholders[models.PlaceholderStartDate])
	}
	if placeholders[models.PlaceholderEndDate] != "12/31/2025" {
		t.Errorf("end date step = %q, want 12/31/2025", placeholders[models.PlaceholderEndDate])
	}
}

func TestExecuteSearchFailedAttemptLeavesNoSteps(t *testing.T) {
	d := newScriptedDriver()
	d.html = `<html><body><input id="q"><input id="go"></body></html>`
	// No onClick wiring: the grid never appears, so the first attempt
	// times out after the form was filled and submitted.

	state := models.NewRunState("r", "https://x.example", "SMITH", models.DateRange{})
	state.SearchSelectors = models.SelectorSet{Input: "#q", Submit: "#go"}
	o := testOrchestrator(d, state)

	if o.executeSearch(context.Background(), state) {
		t.Fatal("executeSearch succeeded with no grid on the page")
	}
	if len(state.RecordedSteps) != 0 {
		t.Fatalf("failed attempt left %d steps: %+v", len(state.RecordedSteps), state.RecordedSteps)
	}

	// A later pass over the now-working page records each step exactly once.
	d.onClick["#go"] = func(d *scriptedDriver) { d.present["#grid"] = true }
	if !o.executeSearch(context.Background(), state) {
		t.Fatalf("executeSearch failed; events: %v", d.events)
	}
	fills := 0
	for _, step := range state.RecordedSteps {
		if step.Action == models.ActionFill && step.Placeholder == models.PlaceholderSearchTerm {
			fills++
		}
	}
	if fills != 1 {
		t.Errorf("search-term fill recorded %d times, want 1", fills)
	}
}

func TestScopeToContainer(t *testing.T) {
	tests := []struct {
		container, control, want string
	}{
		{"#NamesWin", `input[value="Done"]`, `#NamesWin input[value="Done"]`},
		{"#NamesWin", "#doneBtn", "#doneBtn"},
		{"#NamesWin", "#NamesWin button", "#NamesWin button"},
	}
	for _, tt := range tests {
		if got := ScopeToContainer(tt.container, tt.control); got != tt.want {
			t.Errorf("ScopeToContainer(%q, %q) = %q, want %q", tt.container, tt.control, got, tt.want)
		}
	}
}
