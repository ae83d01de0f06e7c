package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/openrecords/gridscout/browser"
	"github.com/openrecords/gridscout/models"
)

const nodeDisclaimer = "Disclaimer"

// dismissDisclaimer makes one bounded attempt at clicking through a
// disclaimer or portal page. Every clicked selector goes into the run's
// anti-cycling memory; a selector seen twice is abandoned in favor of
// alternative discovery, and after three total attempts the strategy
// escalates to a navigation-triggered reveal before the orchestrator's
// breaker gives up entirely.
//
// Returns true when the click produced a real page transition.
func (o *Orchestrator) dismissDisclaimer(ctx context.Context, state *models.RunState, acceptSelector string) bool {
	state.DisclaimerClickAttempts++

	_, beforeText, err := o.adapter.Snapshot(ctx)
	if err != nil {
		o.log.Warn(nodeDisclaimer, "snapshot before dismissal failed: %v", err)
		return false
	}
	before := pageFingerprint(beforeText)

	selector := acceptSelector
	if selector == "" || state.MarkClicked(selector) {
		// Primary control missing or already tried: discover an
		// alternative from visible markup text instead of repeating.
		alt := o.discoverAcceptControl(ctx, state)
		if alt == "" {
			o.log.Warn(nodeDisclaimer, "no untried accept control found (attempt %d)", state.DisclaimerClickAttempts)
			o.escalateDisclaimerStrategy(ctx, state)
			return false
		}
		selector = alt
		state.MarkClicked(selector)
	}

	o.log.Info(nodeDisclaimer, "clicking accept control %s (attempt %d)", selector, state.DisclaimerClickAttempts)

	visible, err := o.adapter.IsVisible(ctx, selector)
	if err != nil {
		o.log.Warn(nodeDisclaimer, "visibility probe failed for %s: %v", selector, err)
		visible = true
	}

	var clickErr error
	if visible {
		clickErr = o.adapter.Click(ctx, selector)
	} else {
		// Hidden accept controls still respond to scripted clicks.
		clickErr = o.adapter.ClickJS(ctx, selector)
	}
	if clickErr != nil {
		o.log.Warn(nodeDisclaimer, "click on %s failed: %v", selector, clickErr)
		return false
	}

	_, afterText, err := o.adapter.Snapshot(ctx)
	if err != nil {
		o.log.Warn(nodeDisclaimer, "snapshot after dismissal failed: %v", err)
		return false
	}

	if !pageChanged(before, pageFingerprint(afterText)) {
		o.log.Warn(nodeDisclaimer, "page unchanged after clicking %s", selector)
		if state.DisclaimerClickAttempts >= 3 {
			o.escalateDisclaimerStrategy(ctx, state)
		}
		return false
	}

	state.RecordedSteps = append(state.RecordedSteps,
		models.ClickStep(selector, map[string]string{"purpose": "dismiss_disclaimer"}))
	o.log.Info(nodeDisclaimer, "disclaimer dismissed via %s", selector)
	return true
}

// discoverAcceptControl scans the current markup for a clickable control
// whose visible text matches a known disclaimer phrase, returning a selector
// derived from attributes actually present in the markup.
func (o *Orchestrator) discoverAcceptControl(ctx context.Context, state *models.RunState) string {
	html, _, err := o.adapter.Snapshot(ctx)
	if err != nil {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var found string
	doc.Find("a, button, input[type=button], input[type=submit]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			if v, ok := s.Attr("value"); ok {
				text = strings.TrimSpace(v)
			}
		}
		for _, candidate := range disclaimerTextCandidates {
			if !strings.EqualFold(text, candidate) && !strings.Contains(strings.ToLower(text), strings.ToLower(candidate)) {
				continue
			}
			sel := selectorFor(s)
			if sel == "" || !browser.ValidSelector(sel) {
				continue
			}
			if _, seen := state.ClickedSelectors[sel]; seen {
				continue
			}
			found = sel
			return false
		}
		return true
	})
	return found
}

// selectorFor derives a selector from an element's own attributes. Elements
// with neither id, name, nor onclick-able href are skipped: a fabricated
// positional selector is worse than none.
func selectorFor(s *goquery.Selection) string {
	if id, ok := s.Attr("id"); ok && id != "" {
		return "#" + id
	}
	if name, ok := s.Attr("name"); ok && name != "" {
		return fmt.Sprintf(`[name="%s"]`, name)
	}
	if href, ok := s.Attr("href"); ok && href != "" && href != "#" {
		return fmt.Sprintf(`a[href="%s"]`, href)
	}
	if onclick, ok := s.Attr("onclick"); ok && onclick != "" {
		return fmt.Sprintf(`[onclick="%s"]`, onclick)
	}
	return ""
}

// escalateDisclaimerStrategy switches from selector rotation to a
// navigation-triggered reveal: reloading the target URL makes some portals
// re-render the real disclaimer control that scripted overlays swallow.
func (o *Orchestrator) escalateDisclaimerStrategy(ctx context.Context, state *models.RunState) {
	o.log.Info(nodeDisclaimer, "escalating strategy: re-navigating to %s", state.TargetURL)
	if err := o.adapter.Goto(ctx, state.TargetURL); err != nil {
		o.log.Warn(nodeDisclaimer, "re-navigation failed: %v", err)
	}
}
