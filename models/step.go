package models

// Step actions.
const (
	ActionGoto        = "goto"
	ActionClick       = "click"
	ActionFill        = "fill"
	ActionCaptureGrid = "capture_grid"
)

// Template placeholders substituted at script-synthesis time. Live execution
// always uses literal values; only the recorded step carries the placeholder.
const (
	PlaceholderSearchTerm = "{{SEARCH_TERM}}"
	PlaceholderStartDate  = "{{START_DATE}}"
	PlaceholderEndDate    = "{{END_DATE}}"
)

// PopupSelectors are intermediate "name disambiguation" modals some sites
// show after search submission. The live wait loop and the synthesis prompt
// both read this list, so it lives here rather than in either package.
var PopupSelectors = []string{
	"#NamesWin",
	"#frmSchTarget",
	".t-window",
}

// Step is one atomic browser action recorded during a live run.
// Steps are immutable once appended to RunState.RecordedSteps: only the
// interaction handlers and the grid capturer append, the synthesizer reads.
type Step struct {
	Action   string `json:"action"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	// Placeholder names the template token that stands in for Value at
	// synthesis time ("" when the value is not parameterized).
	Placeholder string            `json:"placeholder,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// GotoStep records a navigation.
func GotoStep(url string) Step {
	return Step{Action: ActionGoto, Value: url}
}

// ClickStep records a click on a selector.
func ClickStep(selector string, meta map[string]string) Step {
	return Step{Action: ActionClick, Selector: selector, Metadata: meta}
}

// FillStep records a fill. placeholder may be "" for literal values.
func FillStep(selector, value, placeholder string, meta map[string]string) Step {
	return Step{Action: ActionFill, Selector: selector, Value: value, Placeholder: placeholder, Metadata: meta}
}
