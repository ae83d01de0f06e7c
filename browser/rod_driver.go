package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
)

// RodDriver is the in-process fallback Driver used when no remote
// automation service is configured. It owns a dedicated Chromium instance
// and a single page, matching the one-session-per-run ownership model.
type RodDriver struct {
	cfg     config.BrowserConfig
	browser *rod.Browser
	page    *rod.Page
}

// NewRodDriver launches a local browser and opens the run's page.
func NewRodDriver(cfg config.BrowserConfig) (*RodDriver, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewWorkflowError(models.ErrCodeServiceUnavailable, "failed to launch browser", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewWorkflowError(models.ErrCodeServiceUnavailable, "failed to connect to browser", err)
	}

	var page *rod.Page
	if cfg.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		browser.MustClose()
		return nil, models.NewWorkflowError(models.ErrCodeServiceUnavailable, "failed to open page", err)
	}

	slog.Info("local browser launched", "headless", cfg.Headless, "stealth", cfg.Stealth)
	return &RodDriver{cfg: cfg, browser: browser, page: page}, nil
}

// Navigate loads the URL and waits for the load event.
func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	p := d.page.Context(ctx).Timeout(d.cfg.NavigationTimeout)
	if err := p.Navigate(url); err != nil {
		return models.NewWorkflowError(models.ErrCodeInteraction, fmt.Sprintf("navigate to %s", url), err)
	}
	if err := p.WaitLoad(); err != nil {
		return models.NewWorkflowError(models.ErrCodeTimeout, fmt.Sprintf("load of %s", url), err)
	}
	return nil
}

// Click clicks the first element matching the selector.
func (d *RodDriver) Click(ctx context.Context, selector string) error {
	el, err := d.page.Context(ctx).Element(selector)
	if err != nil {
		return models.NewWorkflowError(models.ErrCodeInteraction, fmt.Sprintf("element not found: %s", selector), err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return models.NewWorkflowError(models.ErrCodeInteraction, fmt.Sprintf("click failed: %s", selector), err)
	}
	return nil
}

// Fill replaces the element's text with value.
func (d *RodDriver) Fill(ctx context.Context, selector, value string) error {
	el, err := d.page.Context(ctx).Element(selector)
	if err != nil {
		return models.NewWorkflowError(models.ErrCodeInteraction, fmt.Sprintf("element not found: %s", selector), err)
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(value); err != nil {
		return models.NewWorkflowError(models.ErrCodeInteraction, fmt.Sprintf("fill failed: %s", selector), err)
	}
	return nil
}

// Evaluate runs a JS expression and returns its result as a string.
func (d *RodDriver) Evaluate(ctx context.Context, script string) (string, error) {
	res, err := d.page.Context(ctx).Eval(script)
	if err != nil {
		return "", models.NewWorkflowError(models.ErrCodeInteraction, "evaluate failed", err)
	}
	return gsonString(res.Value), nil
}

// HTML returns the serialized DOM.
func (d *RodDriver) HTML(ctx context.Context) (string, error) {
	return d.Evaluate(ctx, "document.documentElement.outerHTML")
}

// Text returns the page's visible text.
func (d *RodDriver) Text(ctx context.Context) (string, error) {
	return d.Evaluate(ctx, "document.body ? document.body.innerText : ''")
}

// Screenshot writes a full-page capture next to the working directory.
func (d *RodDriver) Screenshot(ctx context.Context, name string) (string, error) {
	data, err := d.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return "", models.NewWorkflowError(models.ErrCodeInteraction, "screenshot failed", err)
	}
	path := filepath.Clean(name + ".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// PressKey sends one key. When a selector is given the element is focused
// first so the keystroke lands in the right field.
func (d *RodDriver) PressKey(ctx context.Context, key, selector string) error {
	p := d.page.Context(ctx)
	if selector != "" {
		el, err := p.Element(selector)
		if err != nil {
			return models.NewWorkflowError(models.ErrCodeInteraction, fmt.Sprintf("element not found: %s", selector), err)
		}
		if err := el.Focus(); err != nil {
			return models.NewWorkflowError(models.ErrCodeInteraction, fmt.Sprintf("focus failed: %s", selector), err)
		}
	}
	if len(key) == 1 {
		return p.InsertText(key)
	}
	if k, ok := namedKeys[key]; ok {
		return p.Keyboard.Type(k)
	}
	return p.InsertText(key)
}

// Close kills the browser process.
func (d *RodDriver) Close() error {
	if d.browser == nil {
		return nil
	}
	err := d.browser.Close()
	d.browser = nil
	return err
}

// namedKeys maps protocol key names to rod input keys.
var namedKeys = map[string]input.Key{
	"Enter":     input.Enter,
	"Tab":       input.Tab,
	"Escape":    input.Escape,
	"Backspace": input.Backspace,
	"ArrowDown": input.ArrowDown,
	"ArrowUp":   input.ArrowUp,
}

// gsonString renders an Eval result as text. Strings come back unquoted,
// everything else as its JSON form.
func gsonString(v gson.JSON) string {
	if v.Nil() {
		return ""
	}
	if s, ok := v.Val().(string); ok {
		return s
	}
	return v.JSON("", "")
}
