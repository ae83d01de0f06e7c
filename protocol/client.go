// Package protocol implements the RPC client for the remote
// browser-automation service (a Playwright MCP server reached over SSE).
package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
)

// Tool names exposed by the automation service.
const (
	toolNavigate       = "playwright_navigate"
	toolClick          = "playwright_click"
	toolFill           = "playwright_fill"
	toolEvaluate       = "playwright_evaluate"
	toolScreenshot     = "playwright_screenshot"
	toolPressKey       = "playwright_press_key"
	toolClose          = "playwright_close"
	toolStartRecording = "start_codegen_session"
	toolEndRecording   = "end_codegen_session"
)

// Client talks to the browser-automation service over a persistent SSE
// stream. One client owns one browser session; it is not safe for two
// concurrent navigation workflows.
type Client struct {
	cfg config.AutomationConfig
	mcp *client.Client
}

// NewClient creates an unconnected client. Callers must Probe and Connect
// before issuing tool calls.
func NewClient(cfg config.AutomationConfig) *Client {
	return &Client{cfg: cfg}
}

// Connect probes the service, establishes the SSE stream, and performs the
// protocol handshake. A probe or connect failure yields
// ERR_SERVICE_UNAVAILABLE rather than hanging.
func (c *Client) Connect(ctx context.Context) error {
	if err := Probe(ctx, c.cfg.ProbePort, c.cfg.ProbeTimeout); err != nil {
		return models.NewWorkflowError(models.ErrCodeServiceUnavailable,
			fmt.Sprintf("automation service not reachable on port %d", c.cfg.ProbePort), err)
	}

	mc, err := client.NewSSEMCPClient(c.cfg.Endpoint)
	if err != nil {
		return models.NewWorkflowError(models.ErrCodeServiceUnavailable, "create automation client", err)
	}

	if err := mc.Start(ctx); err != nil {
		return models.NewWorkflowError(models.ErrCodeServiceUnavailable, "open automation stream", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "gridscout", Version: "1.0.0"}

	if _, err := mc.Initialize(ctx, initReq); err != nil {
		_ = mc.Close()
		return models.NewWorkflowError(models.ErrCodeServiceUnavailable, "automation handshake failed", err)
	}

	c.mcp = mc
	slog.Debug("automation service connected", "endpoint", c.cfg.Endpoint)
	return nil
}

// Close tears down the SSE stream. Safe on an unconnected client.
func (c *Client) Close() error {
	if c.mcp == nil {
		return nil
	}
	err := c.mcp.Close()
	c.mcp = nil
	return err
}

// call invokes one tool with a per-call deadline and returns the joined
// text content of the result.
func (c *Client) call(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.mcp == nil {
		return "", models.NewWorkflowError(models.ErrCodeServiceUnavailable, "automation client not connected", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.mcp.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", models.NewWorkflowError(models.ErrCodeTimeout,
				fmt.Sprintf("automation call %s timed out after %s", name, c.cfg.CallTimeout), err)
		}
		return "", models.NewWorkflowError(models.ErrCodeInteraction,
			fmt.Sprintf("automation call %s failed", name), err)
	}

	text := joinTextContent(res.Content)
	if res.IsError {
		return "", models.NewWorkflowError(models.ErrCodeInteraction,
			fmt.Sprintf("automation call %s returned error: %s", name, firstLine(text)), nil)
	}
	return text, nil
}

// Navigate loads a URL in the remote browser.
func (c *Client) Navigate(ctx context.Context, url string) error {
	_, err := c.call(ctx, toolNavigate, map[string]any{"url": url})
	return err
}

// Click clicks the first element matching the selector.
func (c *Client) Click(ctx context.Context, selector string) error {
	_, err := c.call(ctx, toolClick, map[string]any{"selector": selector})
	return err
}

// Fill types value into the element matching the selector.
func (c *Client) Fill(ctx context.Context, selector, value string) error {
	_, err := c.call(ctx, toolFill, map[string]any{"selector": selector, "value": value})
	return err
}

// PressKey sends one keyboard key, optionally scoped to a selector.
func (c *Client) PressKey(ctx context.Context, key, selector string) error {
	args := map[string]any{"key": key}
	if selector != "" {
		args["selector"] = selector
	}
	_, err := c.call(ctx, toolPressKey, args)
	return err
}

// Evaluate runs JavaScript in the page and returns the result value as text.
// The service frames evaluate output as echo lines followed by a "Result:"
// line; only the value after that marker is returned.
func (c *Client) Evaluate(ctx context.Context, script string) (string, error) {
	out, err := c.call(ctx, toolEvaluate, map[string]any{"script": script})
	if err != nil {
		return "", err
	}
	return parseEvaluateResult(out), nil
}

// HTML returns the full serialized DOM of the current page.
func (c *Client) HTML(ctx context.Context) (string, error) {
	return c.Evaluate(ctx, "document.documentElement.outerHTML")
}

// Text returns the visible text of the current page body.
func (c *Client) Text(ctx context.Context) (string, error) {
	return c.Evaluate(ctx, "document.body ? document.body.innerText : ''")
}

// Screenshot captures the current page. The service stores the image under
// its own output directory and returns its acknowledgement text.
func (c *Client) Screenshot(ctx context.Context, name string) (string, error) {
	return c.call(ctx, toolScreenshot, map[string]any{"name": name, "fullPage": true})
}

// CloseBrowser closes the remote browser, discarding all session state.
// The SSE stream stays open so a fresh browser can be started by the next
// navigation.
func (c *Client) CloseBrowser(ctx context.Context) error {
	_, err := c.call(ctx, toolClose, map[string]any{})
	return err
}

// StartRecording opens a codegen session on the service. Every subsequent
// browser action is mirrored into the session until EndRecording.
func (c *Client) StartRecording(ctx context.Context, outputDir, prefix string) (string, error) {
	out, err := c.call(ctx, toolStartRecording, map[string]any{
		"options": map[string]any{
			"outputPath":      outputDir,
			"testNamePrefix":  prefix,
			"includeComments": false,
		},
	})
	if err != nil {
		return "", err
	}
	return parseSessionID(out), nil
}

// EndRecording closes a codegen session and returns the service's artifact
// acknowledgement. A missing or already-closed session is not an error worth
// failing a run over, so callers typically log and continue.
func (c *Client) EndRecording(ctx context.Context, sessionID string) (string, error) {
	return c.call(ctx, toolEndRecording, map[string]any{"sessionId": sessionID})
}

// joinTextContent concatenates all text content blocks with newlines.
func joinTextContent(contents []mcp.Content) string {
	var parts []string
	for _, content := range contents {
		if tc, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// parseEvaluateResult extracts the value after the "Result:" marker.
// Without the marker the whole output is the value.
func parseEvaluateResult(out string) string {
	if idx := strings.Index(out, "Result:"); idx >= 0 {
		return strings.TrimSpace(out[idx+len("Result:"):])
	}
	return strings.TrimSpace(out)
}

// parseSessionID pulls the session identifier out of the start-recording
// acknowledgement. The service replies with a line containing
// "session started with ID: <id>" or a bare id.
func parseSessionID(out string) string {
	const marker = "ID:"
	if idx := strings.Index(out, marker); idx >= 0 {
		rest := strings.TrimSpace(out[idx+len(marker):])
		if cut := strings.IndexAny(rest, " \n"); cut >= 0 {
			rest = rest[:cut]
		}
		return rest
	}
	return strings.TrimSpace(firstLine(out))
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
