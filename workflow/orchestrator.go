// Package workflow implements the adaptive navigation/extraction state
// machine: page classification, interaction and recovery handlers, grid
// capture, and the script generation and repair cycle.
package workflow

import (
	"context"
	"time"

	"github.com/openrecords/gridscout/browser"
	"github.com/openrecords/gridscout/classify"
	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
	"github.com/openrecords/gridscout/registry"
	"github.com/openrecords/gridscout/runner"
	"github.com/openrecords/gridscout/synth"
)

const nodeOrchestrator = "Orchestrator"

// Orchestrator drives one run through the workflow state machine. All of
// its collaborators are constructed per run and passed in; nothing here is
// process-global.
type Orchestrator struct {
	adapter    *browser.Adapter
	classifier *classify.Classifier
	synth      *synth.Synthesizer
	runner     *runner.Runner
	registry   *registry.Registry
	cfg        config.WorkflowConfig
	scripts    config.ScriptsConfig

	log *RunLog

	// OnUpdate, when set, receives a state snapshot after every transition.
	OnUpdate func(*models.RunState)

	artifact    *models.ScriptArtifact
	lastOutcome models.TestOutcome
}

// New wires an orchestrator for a single run.
func New(adapter *browser.Adapter, classifier *classify.Classifier, s *synth.Synthesizer,
	r *runner.Runner, reg *registry.Registry, cfg config.WorkflowConfig, scripts config.ScriptsConfig) *Orchestrator {
	return &Orchestrator{
		adapter:    adapter,
		classifier: classifier,
		synth:      s,
		runner:     r,
		registry:   reg,
		cfg:        cfg,
		scripts:    scripts,
	}
}

// Run executes the state machine until a terminal state. The browser
// session is reset before the first navigation so no cookies or state leak
// in from a prior run, and a recording session brackets the whole run.
func (o *Orchestrator) Run(ctx context.Context, state *models.RunState) {
	o.log = NewRunLog(state)
	o.log.Info(nodeOrchestrator, "run started for %s", state.TargetURL)

	if o.registry != nil {
		if entry, ok := o.registry.Get(registry.SiteName(state.TargetURL)); ok {
			mergeSelectors(state, entry.Selectors)
			o.log.Info(nodeOrchestrator, "seeded selectors from registry")
		}
	}

	o.adapter.Reset(ctx)
	o.adapter.StartRecording(ctx, o.scripts.OutputDir, registry.SiteName(state.TargetURL))
	defer o.adapter.EndRecording(ctx)

	if err := o.adapter.Goto(ctx, state.TargetURL); err != nil {
		o.fail(state, "initial navigation failed: %v", err)
		return
	}
	state.RecordedSteps = append(state.RecordedSteps, models.GotoStep(state.TargetURL))

	for !state.Status.Terminal() {
		if ctx.Err() != nil {
			o.fail(state, "run canceled: %v", ctx.Err())
			break
		}

		// Circuit breakers, in priority order, before any routing.
		switch {
		case state.AttemptCount > models.MaxAttempts:
			o.escalate(state, "attempt ceiling exceeded (%d)", state.AttemptCount)
			continue
		case state.DisclaimerClickAttempts >= models.MaxDisclaimerClicks:
			o.escalate(state, "disclaimer click ceiling reached (%d)", state.DisclaimerClickAttempts)
			continue
		case state.HealingAttempts >= models.MaxHealingAttempts:
			o.escalate(state, "healing ceiling reached (%d)", state.HealingAttempts)
			continue
		}

		switch state.Status {
		case models.StatusNavigating:
			o.stepNavigate(ctx, state)
		case models.StatusSearchPageFound:
			o.stepSearch(ctx, state)
		case models.StatusResultsGridFound, models.StatusSearchExecuted:
			o.stepCapture(ctx, state)
		case models.StatusColumnsCaptured:
			o.stepSynthesize(ctx, state)
		case models.StatusScriptGenerated, models.StatusScriptFixed:
			o.stepTest(ctx, state)
		case models.StatusScriptFailed:
			o.stepRepair(ctx, state)
		default:
			o.fail(state, "unroutable status %s", state.Status)
		}

		o.emit(state)
	}

	o.log.Info(nodeOrchestrator, "run finished in state %s", state.Status)
	o.emit(state)
}

// stepNavigate classifies the current page and routes out of NAVIGATING.
func (o *Orchestrator) stepNavigate(ctx context.Context, state *models.RunState) {
	snapshot, err := o.adapter.CleanSnapshot(ctx, o.cfg.ClassifySnapshotCap)
	if err != nil {
		o.fail(state, "snapshot failed: %v", err)
		return
	}

	decision, err := o.classifier.Classify(ctx, snapshot)
	if err != nil {
		state.AttemptCount++
		o.log.Warn(nodeOrchestrator, "classification failed (attempt %d): %v", state.AttemptCount, err)
		return
	}

	switch {
	case decision.RequiresLogin:
		o.log.Error(nodeOrchestrator, "login or CAPTCHA required; stopping")
		state.Status = models.StatusLoginRequired

	case decision.IsResultsGrid:
		o.log.Info(nodeOrchestrator, "results grid already present")
		mergeSelectors(state, decision.Selectors)
		state.Status = models.StatusResultsGridFound

	case decision.IsSearchPage:
		if decision.HeuristicUpgraded {
			o.log.Info(nodeOrchestrator, "heuristic verified search page over negative classification")
		}
		mergeSelectors(state, decision.Selectors)
		o.rememberSite(state)
		state.Status = models.StatusSearchPageFound

	case decision.IsDisclaimer:
		if !o.dismissDisclaimer(ctx, state, decision.Selectors.AcceptButton) {
			state.AttemptCount++
		}

	default:
		state.AttemptCount++
		o.log.Warn(nodeOrchestrator, "page not recognized (attempt %d): %s",
			state.AttemptCount, decision.Reasoning)
	}
}

// stepSearch runs the search form. A grid means SEARCH_EXECUTED; anything
// else loops back to classification, bounded by the attempt breaker.
func (o *Orchestrator) stepSearch(ctx context.Context, state *models.RunState) {
	if o.executeSearch(ctx, state) {
		state.Status = models.StatusSearchExecuted
		return
	}
	state.AttemptCount++
	state.HealingAttempts++
	o.log.Warn(nodeOrchestrator, "search did not reach a grid; reclassifying (attempt %d)", state.AttemptCount)
	state.Status = models.StatusNavigating
}

// stepCapture parses the grid schema out of the results page.
func (o *Orchestrator) stepCapture(ctx context.Context, state *models.RunState) {
	if o.captureGrid(ctx, state) {
		o.rememberSite(state)
		state.Status = models.StatusColumnsCaptured
		return
	}
	state.AttemptCount++
	o.log.Warn(nodeOrchestrator, "grid capture failed; reclassifying (attempt %d)", state.AttemptCount)
	state.Status = models.StatusNavigating
}

// stepSynthesize generates the standalone script.
func (o *Orchestrator) stepSynthesize(ctx context.Context, state *models.RunState) {
	artifact, err := o.synth.Generate(ctx, state)
	if err != nil {
		o.fail(state, "script synthesis failed: %v", err)
		return
	}
	o.artifact = artifact
	state.GeneratedScriptPath = artifact.Path
	o.log.Info(nodeOrchestrator, "script generated at %s", artifact.Path)
	state.Status = models.StatusScriptGenerated
}

// stepTest runs the artifact once against the live site parameters.
func (o *Orchestrator) stepTest(ctx context.Context, state *models.RunState) {
	state.ScriptTestAttempts++
	o.artifact.TestAttempts = state.ScriptTestAttempts

	outcome := o.runner.Test(ctx, o.artifact,
		state.SearchQuery, state.DateRange.Start, state.DateRange.End)
	o.lastOutcome = outcome

	if outcome.Passed {
		state.ExtractedCount = outcome.RowCount
		o.log.Info(nodeOrchestrator, "script test passed with %d rows (attempt %d)",
			outcome.RowCount, state.ScriptTestAttempts)
		state.Status = models.StatusScriptTested
		return
	}

	o.log.Warn(nodeOrchestrator, "script test failed (attempt %d): %s",
		state.ScriptTestAttempts, outcome.Reason)
	state.LastError = outcome.Reason
	state.Status = models.StatusScriptFailed
}

// stepRepair requests one LLM rewrite, bounded by the fix-attempt ceiling.
func (o *Orchestrator) stepRepair(ctx context.Context, state *models.RunState) {
	if state.ScriptTestAttempts >= models.MaxFixAttempts {
		o.escalate(state, "script repair ceiling reached (%d attempts)", state.ScriptTestAttempts)
		return
	}

	if err := o.runner.Repair(ctx, o.artifact, o.lastOutcome, state.RecordedSteps); err != nil {
		o.fail(state, "script repair failed: %v", err)
		return
	}
	o.log.Info(nodeOrchestrator, "script rewritten (fix attempt %d)", state.ScriptTestAttempts)
	state.Status = models.StatusScriptFixed
}

// escalate is terminal: a human or the calling system decides what happens
// next, never an automatic retry.
func (o *Orchestrator) escalate(state *models.RunState, format string, args ...any) {
	state.NeedsHumanReview = true
	o.log.Error(nodeOrchestrator, "escalating to human review: "+format, args...)
	state.Status = models.StatusNeedsHumanReview
}

func (o *Orchestrator) fail(state *models.RunState, format string, args ...any) {
	o.log.Error(nodeOrchestrator, format, args...)
	state.Status = models.StatusFailed
}

func (o *Orchestrator) emit(state *models.RunState) {
	if o.OnUpdate != nil {
		o.OnUpdate(state)
	}
}

// rememberSite persists the run's selector knowledge for future runs.
func (o *Orchestrator) rememberSite(state *models.RunState) {
	if o.registry == nil {
		return
	}
	entry := registry.Entry{
		Selectors: state.SearchSelectors,
		Grid:      state.Grid,
		UpdatedAt: time.Now().Format(time.RFC3339),
	}
	if err := o.registry.Put(registry.SiteName(state.TargetURL), entry); err != nil {
		o.log.Warn(nodeOrchestrator, "selector registry write failed: %v", err)
	}
}

// mergeSelectors adopts newly discovered role selectors without discarding
// roles found on earlier pages.
func mergeSelectors(state *models.RunState, s models.SelectorSet) {
	cur := &state.SearchSelectors
	if s.Input != "" {
		cur.Input = s.Input
	}
	if s.Submit != "" {
		cur.Submit = s.Submit
	}
	if s.StartDate != "" {
		cur.StartDate = s.StartDate
	}
	if s.EndDate != "" {
		cur.EndDate = s.EndDate
	}
	if s.AcceptButton != "" {
		cur.AcceptButton = s.AcceptButton
	}
	if s.Grid != "" {
		cur.Grid = s.Grid
	}
}
