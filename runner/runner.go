// Package runner executes synthesized scripts as isolated subprocesses,
// classifies their outcomes, and requests LLM repairs for failures.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/llm"
	"github.com/openrecords/gridscout/models"
)

// Runner tests and repairs script artifacts.
type Runner struct {
	llm *llm.Client
	cfg config.ScriptsConfig
}

// New creates a runner.
func New(c *llm.Client, cfg config.ScriptsConfig) *Runner {
	return &Runner{llm: c, cfg: cfg}
}

// ExecResult is the raw outcome of one subprocess run.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Exec runs one script as an isolated subprocess with a hard wall-clock
// timeout. On timeout the process is killed, never abandoned.
func Exec(ctx context.Context, bin, script string, args []string, timeout time.Duration) ExecResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, append([]string{script}, args...)...)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}

	switch {
	case err == nil:
		res.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			if res.Stderr == "" {
				res.Stderr = err.Error()
			}
		}
	}
	return res
}

var extractedRowsPattern = regexp.MustCompile(`SUCCESS: Extracted (\d+) rows`)

// noResultsMarker is the explicit empty-result acknowledgement a generated
// script prints when the search legitimately matched nothing.
const noResultsMarker = "No results found"

// failureKeywords in output mark a failed run even when the exit code is 0.
var failureKeywords = []string{
	"FAILED:",
	"Traceback (most recent call last)",
	"TimeoutError",
	"strict mode violation",
	"Exception",
}

// Classify decides pass/fail from exit code and output markers. A zero-row
// success line with no explicit no-results marker is a failure: it is the
// signature of a script that found the wrong grid.
func Classify(res ExecResult) models.TestOutcome {
	out := models.TestOutcome{
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}

	if res.TimedOut {
		out.Reason = "script timed out"
		return out
	}
	if res.ExitCode != 0 {
		out.Reason = fmt.Sprintf("exit code %d", res.ExitCode)
		return out
	}

	combined := res.Stdout + "\n" + res.Stderr
	rows, hasSuccess := parseRowCount(res.Stdout)
	out.RowCount = rows
	out.NoResults = strings.Contains(res.Stdout, noResultsMarker)

	for _, kw := range failureKeywords {
		if strings.Contains(combined, kw) {
			out.Reason = fmt.Sprintf("failure marker %q in output", kw)
			return out
		}
	}

	switch {
	case hasSuccess && rows > 0:
		out.Passed = true
	case out.NoResults:
		out.Passed = true
	case hasSuccess && rows == 0:
		out.Reason = "zero rows extracted with no explicit no-results marker"
	default:
		out.Reason = "no success marker in output"
	}
	return out
}

func parseRowCount(stdout string) (int, bool) {
	m := extractedRowsPattern.FindStringSubmatch(stdout)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Test runs the artifact once with the run's live parameters and classifies
// the outcome. A passing artifact is never modified here.
func (r *Runner) Test(ctx context.Context, artifact *models.ScriptArtifact, term, start, end string) models.TestOutcome {
	res := Exec(ctx, r.cfg.PythonBin, artifact.Path, []string{term, start, end}, r.cfg.TestTimeout)
	outcome := Classify(res)
	if !outcome.Passed {
		artifact.LastError = outcome.Reason
	}
	return outcome
}

const repairSystemPrompt = `You repair a broken Python Playwright extraction script.
You are given the current source, the output of its failed run, and the recorded browser steps that are GROUND TRUTH for this site.
Hard rules:
- The recorded steps are correct. If the script disagrees with them, fix the script, not the steps.
- Use ONLY selectors found in the recorded steps or in the current script. Never invent a selector.
- Keep the command line contract: sys.argv[1] search term, sys.argv[2] start date, sys.argv[3] end date.
- Keep the output contract: "SUCCESS: Extracted <N> rows", "No results found", or "FAILED: ...".
- If the error mentions a strict mode violation, the selector matched multiple elements: scope it to its container (for example prefix it with the popup or grid selector) instead of using .first.
Return the COMPLETE fixed Python source, no explanation.`

// Repair asks the LLM for a full-file rewrite based on the failure output
// and the recorded steps, then persists the new source over the artifact.
func (r *Runner) Repair(ctx context.Context, artifact *models.ScriptArtifact, outcome models.TestOutcome, steps []models.Step) error {
	var b strings.Builder

	b.WriteString("Current script source:\n```python\n")
	b.WriteString(artifact.SourceCode)
	b.WriteString("\n```\n\nFailed run output:\n")
	fmt.Fprintf(&b, "exit code: %d  timed out: %v\n", outcome.ExitCode, outcome.TimedOut)
	fmt.Fprintf(&b, "stdout:\n%s\n", truncate(outcome.Stdout, 8000))
	fmt.Fprintf(&b, "stderr:\n%s\n", truncate(outcome.Stderr, 8000))

	b.WriteString("\nRecorded steps (GROUND TRUTH):\n")
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. action=%s selector=%s value=%q placeholder=%s\n",
			i+1, step.Action, step.Selector, step.Value, step.Placeholder)
	}

	code, err := r.llm.Generate(ctx, repairSystemPrompt, b.String())
	if err != nil {
		return models.NewWorkflowError(models.ErrCodeGeneration, "script repair failed", err)
	}
	if strings.Contains(code, "{{") {
		return models.NewWorkflowError(models.ErrCodeGeneration,
			"repaired source contains template tokens", nil)
	}

	artifact.SourceCode = code
	return os.WriteFile(artifact.Path, []byte(code), 0o644)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... [TRUNCATED]"
}
