package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/openrecords/gridscout/browser"
	"github.com/openrecords/gridscout/models"
)

const nodeSearch = "Search"

// executeSearch fills the search form, submits it, and waits for either the
// results grid or a disambiguation popup. It returns true when a grid
// selector was observed; all failures are statuses for the orchestrator to
// route, never errors.
func (o *Orchestrator) executeSearch(ctx context.Context, state *models.RunState) bool {
	sel := state.SearchSelectors
	if sel.Input == "" || sel.Submit == "" {
		o.log.Warn(nodeSearch, "search selectors incomplete (input=%q submit=%q)", sel.Input, sel.Submit)
		return false
	}

	html, _, err := o.adapter.Snapshot(ctx)
	if err != nil {
		o.log.Error(nodeSearch, "snapshot before search failed: %v", err)
		return false
	}

	// Steps are staged locally and committed only once the grid is
	// observed: an attempt that dies on the submit click or the grid
	// wait must not leave stale fills for a later pass to duplicate.
	var staged []models.Step

	// Grid-vendor inputs that swallow scripted value assignment need real
	// keystrokes; everything else takes a plain fill.
	if needsKeystrokeFill(html) {
		o.log.Info(nodeSearch, "keystroke fill for %s", sel.Input)
		err = o.adapter.FillByTyping(ctx, sel.Input, state.SearchQuery)
	} else {
		err = o.adapter.Fill(ctx, sel.Input, state.SearchQuery)
	}
	if err != nil {
		o.log.Warn(nodeSearch, "filling %s failed: %v", sel.Input, err)
		return false
	}
	staged = append(staged,
		models.FillStep(sel.Input, state.SearchQuery, models.PlaceholderSearchTerm, nil))

	o.fillDateRange(ctx, state, html, &staged)

	if err := o.adapter.Click(ctx, sel.Submit); err != nil {
		o.log.Warn(nodeSearch, "submit click on %s failed: %v", sel.Submit, err)
		return false
	}
	staged = append(staged,
		models.ClickStep(sel.Submit, map[string]string{"purpose": "submit_search"}))

	return o.waitForGrid(ctx, state, &staged)
}

// fillDateRange fills the optional start/end date inputs. Calendar widgets
// validate on synthetic input/change events, so datepicker-decorated fields
// get a scripted fill instead of keystrokes.
func (o *Orchestrator) fillDateRange(ctx context.Context, state *models.RunState, html string, staged *[]models.Step) {
	sel := state.SearchSelectors
	usesDatepicker := strings.Contains(html, "datepicker") || strings.Contains(html, "hasDatepicker")

	fill := func(selector, value, placeholder string) {
		if selector == "" {
			return
		}
		var err error
		if usesDatepicker {
			err = o.adapter.FillWithEvents(ctx, selector, value)
		} else {
			err = o.adapter.Fill(ctx, selector, value)
		}
		if err != nil {
			o.log.Warn(nodeSearch, "date fill %s failed: %v", selector, err)
			return
		}
		meta := map[string]string{}
		if usesDatepicker {
			meta["fill_mode"] = "js_events"
		}
		*staged = append(*staged,
			models.FillStep(selector, value, placeholder, meta))
	}

	fill(sel.StartDate, state.DateRange.Start, models.PlaceholderStartDate)
	fill(sel.EndDate, state.DateRange.End, models.PlaceholderEndDate)
}

// waitForGrid performs the combined wait: results grid or disambiguation
// popup, whichever appears first. A popup is confirmed via a control scoped
// to its container, then the grid wait resumes. The staged steps are
// committed to the run only when a grid is actually observed.
func (o *Orchestrator) waitForGrid(ctx context.Context, state *models.RunState, staged *[]models.Step) bool {
	watch := o.gridWatchList(state)

	matched, err := o.adapter.WaitForAny(ctx, watch, o.cfg.GridWaitTimeout)
	if err != nil {
		o.log.Warn(nodeSearch, "neither grid nor popup appeared: %v", err)
		return false
	}

	if isPopupSelector(matched) {
		o.log.Info(nodeSearch, "disambiguation popup %s appeared", matched)
		if !o.confirmPopup(ctx, state, matched, staged) {
			return false
		}
		// Popup confirmed; the grid should render now.
		matched, err = o.adapter.WaitForAny(ctx, o.gridSelectors(state), o.cfg.GridWaitTimeout)
		if err != nil {
			o.log.Warn(nodeSearch, "grid did not appear after popup confirm: %v", err)
			return false
		}
	}

	state.SearchSelectors.Grid = matched
	state.RecordedSteps = append(state.RecordedSteps, *staged...)
	o.log.Info(nodeSearch, "results grid present at %s", matched)
	return true
}

// gridWatchList is the combined wait set: popups first so a popup arriving
// just before its grid renders gets confirmed, then every grid candidate.
func (o *Orchestrator) gridWatchList(state *models.RunState) []string {
	return append(append([]string{}, models.PopupSelectors...), o.gridSelectors(state)...)
}

func (o *Orchestrator) gridSelectors(state *models.RunState) []string {
	if g := state.SearchSelectors.Grid; g != "" {
		return append([]string{g}, ResultsGridSelectors...)
	}
	return ResultsGridSelectors
}

// confirmPopup clicks the popup's confirm control. The selector is always
// scoped to the popup container; a bare control selector could match other
// buttons on the page.
func (o *Orchestrator) confirmPopup(ctx context.Context, state *models.RunState, popupSel string, staged *[]models.Step) bool {
	candidates := popupConfirmCandidates
	if ab := state.SearchSelectors.AcceptButton; ab != "" {
		candidates = append([]string{ab}, candidates...)
	}

	for _, c := range candidates {
		confirm := ScopeToContainer(popupSel, c)
		if !browser.ValidSelector(confirm) {
			continue
		}
		ok, err := o.adapter.Exists(ctx, confirm)
		if err != nil || !ok {
			continue
		}
		if err := o.adapter.Click(ctx, confirm); err != nil {
			o.log.Warn(nodeSearch, "popup confirm click %s failed: %v", confirm, err)
			continue
		}
		*staged = append(*staged,
			models.ClickStep(confirm, map[string]string{"purpose": "confirm_popup"}))
		return true
	}

	o.log.Warn(nodeSearch, "no confirm control found inside popup %s", popupSel)
	return false
}

// ScopeToContainer prefixes a control selector with its container unless the
// control is already scoped to it or anchored to an id of its own.
func ScopeToContainer(container, control string) string {
	if strings.HasPrefix(control, container) {
		return control
	}
	if strings.HasPrefix(control, "#") {
		return control
	}
	return fmt.Sprintf("%s %s", container, control)
}

// isPopupSelector reports whether the matched selector is a popup container.
func isPopupSelector(sel string) bool {
	for _, p := range models.PopupSelectors {
		if sel == p {
			return true
		}
	}
	return false
}

// needsKeystrokeFill detects grid-vendor pages whose inputs ignore scripted
// value assignment.
func needsKeystrokeFill(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, "infragistics") || strings.Contains(lower, "iggrid") ||
		strings.Contains(lower, "igtexteditor")
}
