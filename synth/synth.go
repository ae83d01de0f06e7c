// Package synth compiles a run's recorded steps and grid schema into a
// standalone extraction program via an LLM call, and persists the artifact.
package synth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/llm"
	"github.com/openrecords/gridscout/models"
	"github.com/openrecords/gridscout/registry"
)

// Synthesizer produces and persists script artifacts for one run.
type Synthesizer struct {
	llm *llm.Client
	cfg config.ScriptsConfig
}

// New creates a synthesizer.
func New(c *llm.Client, cfg config.ScriptsConfig) *Synthesizer {
	return &Synthesizer{llm: c, cfg: cfg}
}

const synthSystemPrompt = `You write standalone Python Playwright scripts that extract rows from a public-records results grid.
Hard rules:
- Use ONLY the selectors that appear in the recorded steps and grid schema below. Never invent a selector.
- The script takes exactly three command line arguments: search term, start date (MM/DD/YYYY), end date (MM/DD/YYYY). Read them from sys.argv.
- Replay the recorded steps in order. Wherever a step value is marked with a placeholder, use the matching command line argument instead of the recorded literal.
- After submitting, wait for EITHER the grid selector OR any of the popup selectors, whichever appears first. If a popup appears, click its confirm control (scoped inside the popup container), then wait for the grid.
- Extract every data row starting at the first data column index. Write the rows as CSV to stdout, header row first, matching the column names exactly.
- On success print exactly: SUCCESS: Extracted <N> rows
- When the search legitimately matched nothing print exactly: No results found
- On any failure print a line starting with FAILED: and exit nonzero.
- No imports beyond the Python standard library and playwright.sync_api.
Return ONLY the Python source, no explanation.`

// Generate synthesizes a script from the run's recorded steps and grid
// schema, scrubs any leftover template tokens, and persists the artifact.
func (s *Synthesizer) Generate(ctx context.Context, state *models.RunState) (*models.ScriptArtifact, error) {
	if len(state.RecordedSteps) == 0 {
		return nil, models.NewWorkflowError(models.ErrCodeGeneration, "no recorded steps to synthesize from", nil)
	}
	if state.Grid == nil {
		return nil, models.NewWorkflowError(models.ErrCodeGeneration, "no grid schema captured", nil)
	}

	user := BuildPrompt(state)
	code, err := s.llm.Generate(ctx, synthSystemPrompt, user)
	if err != nil {
		return nil, models.NewWorkflowError(models.ErrCodeGeneration, "script synthesis failed", err)
	}

	code = SubstitutePlaceholders(code)
	if strings.Contains(code, "{{") {
		return nil, models.NewWorkflowError(models.ErrCodeGeneration,
			"generated source still contains template tokens", nil)
	}

	artifact := &models.ScriptArtifact{
		Path:       s.artifactPath(state.TargetURL),
		SourceCode: code,
	}
	if err := s.Persist(artifact); err != nil {
		return nil, models.NewWorkflowError(models.ErrCodeGeneration, "persist generated script", err)
	}
	return artifact, nil
}

// Persist writes the artifact's source to its path, creating the output
// directory on first use.
func (s *Synthesizer) Persist(artifact *models.ScriptArtifact) error {
	if err := os.MkdirAll(filepath.Dir(artifact.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(artifact.Path, []byte(artifact.SourceCode), 0o644)
}

// artifactPath builds the site-and-timestamp script filename.
func (s *Synthesizer) artifactPath(targetURL string) string {
	name := fmt.Sprintf("%s_scraper_%s.py",
		registry.SiteName(targetURL), time.Now().Format("20060102_150405"))
	return filepath.Join(s.cfg.OutputDir, name)
}

// BuildPrompt renders the run's ground truth for the generation call:
// the step trace, the grid schema, and the combined-wait selector sets.
func BuildPrompt(state *models.RunState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Target URL: %s\n\n", state.TargetURL)

	b.WriteString("Recorded steps (GROUND TRUTH, replay in this order):\n")
	for i, step := range state.RecordedSteps {
		fmt.Fprintf(&b, "%d. action=%s", i+1, step.Action)
		if step.Selector != "" {
			fmt.Fprintf(&b, " selector=%s", step.Selector)
		}
		if step.Value != "" {
			fmt.Fprintf(&b, " value=%q", step.Value)
		}
		if step.Placeholder != "" {
			fmt.Fprintf(&b, " placeholder=%s", step.Placeholder)
		}
		for k, v := range step.Metadata {
			fmt.Fprintf(&b, " %s=%s", k, v)
		}
		b.WriteByte('\n')
	}

	g := state.Grid
	fmt.Fprintf(&b, "\nGrid schema:\n  grid selector: %s\n  row selector: %s\n  columns: %s\n  first data column index: %d\n",
		g.GridSelector, g.RowSelector, strings.Join(g.Columns, ", "), g.FirstDataColumnIndex)

	fmt.Fprintf(&b, "\nPlaceholder mapping:\n  %s -> sys.argv[1]\n  %s -> sys.argv[2]\n  %s -> sys.argv[3]\n",
		models.PlaceholderSearchTerm, models.PlaceholderStartDate, models.PlaceholderEndDate)

	fmt.Fprintf(&b, "\nPopup selectors to watch alongside the grid: %s\n",
		strings.Join(models.PopupSelectors, ", "))

	return b.String()
}

// SubstitutePlaceholders rewrites any template token the model left behind
// into the script's parameter variables, so no {{...}} token can survive
// into a persisted artifact.
func SubstitutePlaceholders(code string) string {
	replacer := strings.NewReplacer(
		`"`+models.PlaceholderSearchTerm+`"`, "search_term",
		`'`+models.PlaceholderSearchTerm+`'`, "search_term",
		models.PlaceholderSearchTerm, "search_term",
		`"`+models.PlaceholderStartDate+`"`, "start_date",
		`'`+models.PlaceholderStartDate+`'`, "start_date",
		models.PlaceholderStartDate, "start_date",
		`"`+models.PlaceholderEndDate+`"`, "end_date",
		`'`+models.PlaceholderEndDate+`'`, "end_date",
		models.PlaceholderEndDate, "end_date",
	)
	return replacer.Replace(code)
}
