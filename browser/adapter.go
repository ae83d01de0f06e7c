package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/openrecords/gridscout/cleaner"
	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
)

// Adapter layers the workflow's page operations over a Driver and owns the
// recording-session lifecycle for one run.
type Adapter struct {
	driver Driver
	cfg    config.WorkflowConfig

	recordingID string
}

// NewAdapter wraps a driver. One adapter serves exactly one run.
func NewAdapter(d Driver, cfg config.WorkflowConfig) *Adapter {
	return &Adapter{driver: d, cfg: cfg}
}

// Driver exposes the underlying driver for raw calls.
func (a *Adapter) Driver() Driver { return a.driver }

// Reset discards any existing browser session so the run starts with no
// leaked cookies or state. Drivers without session reset start fresh by
// construction, so a missing capability is not an error.
func (a *Adapter) Reset(ctx context.Context) {
	if r, ok := a.driver.(resetter); ok {
		if err := r.CloseBrowser(ctx); err != nil {
			slog.Debug("browser reset skipped", "error", err)
		}
	}
}

// StartRecording opens a recording session when the driver supports one.
func (a *Adapter) StartRecording(ctx context.Context, outputDir, prefix string) {
	r, ok := a.driver.(recorder)
	if !ok {
		return
	}
	id, err := r.StartRecording(ctx, outputDir, prefix)
	if err != nil {
		slog.Warn("recording session not started", "error", err)
		return
	}
	a.recordingID = id
}

// EndRecording closes the recording session if one is open.
func (a *Adapter) EndRecording(ctx context.Context) {
	r, ok := a.driver.(recorder)
	if !ok || a.recordingID == "" {
		return
	}
	if _, err := r.EndRecording(ctx, a.recordingID); err != nil {
		slog.Warn("recording session not closed", "id", a.recordingID, "error", err)
	}
	a.recordingID = ""
}

// Goto navigates and waits the settle delay so late-rendering pages have a
// DOM worth snapshotting.
func (a *Adapter) Goto(ctx context.Context, url string) error {
	if err := a.driver.Navigate(ctx, url); err != nil {
		return err
	}
	return a.settle(ctx)
}

// Click clicks a selector and settles.
func (a *Adapter) Click(ctx context.Context, selector string) error {
	if err := a.driver.Click(ctx, selector); err != nil {
		return err
	}
	return a.settle(ctx)
}

// ClickJS clicks through JavaScript, bypassing visibility and overlay
// checks that make a native click fail on decorated widgets.
func (a *Adapter) ClickJS(ctx context.Context, selector string) error {
	script := fmt.Sprintf(
		`(function(){var el=document.querySelector(%s);if(!el)return 'notfound';el.click();return 'ok';})()`,
		jsString(selector))
	out, err := a.driver.Evaluate(ctx, script)
	if err != nil {
		return err
	}
	if strings.Contains(out, "notfound") {
		return models.NewWorkflowError(models.ErrCodeInteraction,
			fmt.Sprintf("element not found for JS click: %s", selector), nil)
	}
	return a.settle(ctx)
}

// Fill types a value into a native input.
func (a *Adapter) Fill(ctx context.Context, selector, value string) error {
	return a.driver.Fill(ctx, selector, value)
}

// FillByTyping clears the field and sends the value one keystroke at a
// time. Some grid-vendor inputs ignore scripted value assignment entirely
// and only accept real key events.
func (a *Adapter) FillByTyping(ctx context.Context, selector, value string) error {
	if err := a.driver.Click(ctx, selector); err != nil {
		return err
	}
	clear := fmt.Sprintf(
		`(function(){var el=document.querySelector(%s);if(el){el.value='';}return 'ok';})()`,
		jsString(selector))
	if _, err := a.driver.Evaluate(ctx, clear); err != nil {
		return err
	}
	for _, r := range value {
		if err := a.driver.PressKey(ctx, string(r), selector); err != nil {
			return err
		}
	}
	return nil
}

// FillWithEvents assigns the value via JavaScript and dispatches synthetic
// input and change events. Calendar widgets validate on those events, so a
// plain fill leaves them in an invalid state.
func (a *Adapter) FillWithEvents(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		if (!el) return 'notfound';
		el.value = %s;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return 'ok';
	})()`, jsString(selector), jsString(value))

	out, err := a.driver.Evaluate(ctx, script)
	if err != nil {
		return err
	}
	if strings.Contains(out, "notfound") {
		return models.NewWorkflowError(models.ErrCodeInteraction,
			fmt.Sprintf("element not found for scripted fill: %s", selector), nil)
	}
	return nil
}

// Snapshot returns the raw DOM and visible text of the current page.
func (a *Adapter) Snapshot(ctx context.Context) (html, text string, err error) {
	html, err = a.driver.HTML(ctx)
	if err != nil {
		return "", "", err
	}
	text, err = a.driver.Text(ctx)
	if err != nil {
		return "", "", err
	}
	return html, text, nil
}

// CleanSnapshot returns the noise-stripped DOM capped at maxLen.
func (a *Adapter) CleanSnapshot(ctx context.Context, maxLen int) (string, error) {
	html, err := a.driver.HTML(ctx)
	if err != nil {
		return "", err
	}
	return cleaner.CleanForModel(html, maxLen), nil
}

// IsVisible probes whether the first match for selector is actually
// rendered (non-zero box, not display:none or visibility:hidden).
func (a *Adapter) IsVisible(ctx context.Context, selector string) (bool, error) {
	script := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		if (!el) return 'absent';
		var st = window.getComputedStyle(el);
		if (st.display === 'none' || st.visibility === 'hidden') return 'hidden';
		var r = el.getBoundingClientRect();
		return (r.width > 0 && r.height > 0) ? 'visible' : 'hidden';
	})()`, jsString(selector))

	out, err := a.driver.Evaluate(ctx, script)
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "visible"), nil
}

// Exists reports whether any element matches the selector, visible or not.
func (a *Adapter) Exists(ctx context.Context, selector string) (bool, error) {
	script := fmt.Sprintf(`document.querySelector(%s) ? 'yes' : 'no'`, jsString(selector))
	out, err := a.driver.Evaluate(ctx, script)
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "yes"), nil
}

// WaitForAny polls until one of the selectors matches an element or the
// timeout elapses, and returns the selector that matched first. Every wait
// is deadline-bounded; there is no unbounded variant.
func (a *Adapter) WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) (string, error) {
	if len(selectors) == 0 {
		return "", models.NewWorkflowError(models.ErrCodeInvalidInput, "no selectors to wait for", nil)
	}

	deadline := time.Now().Add(timeout)
	interval := a.cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	for {
		for _, sel := range selectors {
			ok, err := a.Exists(ctx, sel)
			if err != nil {
				return "", err
			}
			if ok {
				return sel, nil
			}
		}

		if time.Now().After(deadline) {
			return "", models.NewWorkflowError(models.ErrCodeTimeout,
				fmt.Sprintf("none of %d selectors appeared within %s", len(selectors), timeout), nil)
		}

		select {
		case <-ctx.Done():
			return "", models.NewWorkflowError(models.ErrCodeTimeout, "wait canceled", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// Screenshot captures the page under the given name.
func (a *Adapter) Screenshot(ctx context.Context, name string) {
	if _, err := a.driver.Screenshot(ctx, name); err != nil {
		slog.Debug("screenshot failed", "name", name, "error", err)
	}
}

func (a *Adapter) settle(ctx context.Context) error {
	delay := a.cfg.SettleDelay
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// jsString quotes a Go string as a JavaScript string literal. Go's quoting
// rules are a safe subset for embedding in evaluate scripts.
func jsString(s string) string {
	return strconv.Quote(s)
}
