// gridscout-mcp exposes the gridscout API as MCP tools over stdio so agent
// frontends can start workflow runs and execute generated scripts directly.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// runResponse mirrors the gridscout run creation response.
type runResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// runStatusResponse mirrors the gridscout run status response.
type runStatusResponse struct {
	RunID          string   `json:"run_id"`
	Status         string   `json:"status"`
	Logs           []string `json:"logs"`
	ScriptPath     string   `json:"script_path"`
	ExtractedCount int      `json:"extracted_count"`
	Error          *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// parallelResponse mirrors the gridscout parallel creation response.
type parallelResponse struct {
	RunID string `json:"run_id"`
	Total int    `json:"total"`
}

// terminalStatuses end the start_workflow polling loop.
var terminalStatuses = map[string]bool{
	"SCRIPT_TESTED":      true,
	"LOGIN_REQUIRED":     true,
	"NEEDS_HUMAN_REVIEW": true,
	"FAILED":             true,
}

func main() {
	apiURL := os.Getenv("GRIDSCOUT_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("GRIDSCOUT_API_KEY")

	s := server.NewMCPServer(
		"gridscout",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	startWorkflowTool := mcp.NewTool("start_workflow",
		mcp.WithDescription("Point gridscout at a public-records website. It finds the search form, runs a name search, captures the results grid, and generates a reusable extraction script. Blocks until the workflow finishes."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The records site URL to work against"),
		),
		mcp.WithString("search_query",
			mcp.Required(),
			mcp.Description("Search term, usually a last name"),
		),
		mcp.WithString("start_date",
			mcp.Description("Start of the date range, MM/DD/YYYY (default 01/01/1980)"),
		),
		mcp.WithString("end_date",
			mcp.Description("End of the date range, MM/DD/YYYY (default today)"),
		),
	)
	s.AddTool(startWorkflowTool, handleStartWorkflow(apiURL, apiKey))

	runStatusTool := mcp.NewTool("run_status",
		mcp.WithDescription("Fetch the current state and logs of a gridscout workflow run."),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("The run identifier returned by start_workflow"),
		),
	)
	s.AddTool(runStatusTool, handleRunStatus(apiURL, apiKey))

	listScriptsTool := mcp.NewTool("list_scripts",
		mcp.WithDescription("List the extraction scripts gridscout has generated so far."),
	)
	s.AddTool(listScriptsTool, handleListScripts(apiURL, apiKey))

	executeScriptTool := mcp.NewTool("execute_script",
		mcp.WithDescription("Execute one previously generated extraction script with a new search term and date range."),
		mcp.WithString("script",
			mcp.Required(),
			mcp.Description("Script file name as returned by list_scripts"),
		),
		mcp.WithString("search_query",
			mcp.Required(),
			mcp.Description("Search term, usually a last name"),
		),
		mcp.WithString("start_date",
			mcp.Description("Start of the date range, MM/DD/YYYY"),
		),
		mcp.WithString("end_date",
			mcp.Description("End of the date range, MM/DD/YYYY"),
		),
	)
	s.AddTool(executeScriptTool, handleExecuteScript(apiURL, apiKey))

	runParallelTool := mcp.NewTool("run_parallel",
		mcp.WithDescription("Execute many generated scripts at once under a concurrency ceiling and wait for the aggregate result."),
		mcp.WithArray("scripts",
			mcp.Required(),
			mcp.Description("Script file names to execute"),
		),
		mcp.WithString("search_query",
			mcp.Required(),
			mcp.Description("Search term applied to every script"),
		),
		mcp.WithNumber("concurrency_limit",
			mcp.Description("Max scripts running at once (default 3, 0 = all)"),
		),
	)
	s.AddTool(runParallelTool, handleRunParallel(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the gridscout API and returns the body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// apiGet sends a GET request to the gridscout API and returns the body.
func apiGet(ctx context.Context, client *http.Client, apiURL, apiKey, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleStartWorkflow(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Minute}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		query, err := request.RequireString("search_query")
		if err != nil {
			return mcp.NewToolResultError("search_query is required"), nil
		}

		payload := map[string]interface{}{
			"url":          url,
			"search_query": query,
		}
		start := request.GetString("start_date", "")
		end := request.GetString("end_date", "")
		if start != "" && end != "" {
			payload["date_range"] = map[string]string{"start": start, "end": end}
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/run", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run request failed: %v", err)), nil
		}

		var runResp runResponse
		if err := json.Unmarshal(respBody, &runResp); err != nil || runResp.RunID == "" {
			return mcp.NewToolResultError(fmt.Sprintf("run creation failed: %s", respBody)), nil
		}

		status, err := pollRun(ctx, client, apiURL, apiKey, runResp.RunID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling run failed: %v", err)), nil
		}

		return mcp.NewToolResultText(formatRunStatus(status)), nil
	}
}

func handleRunStatus(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := request.RequireString("run_id")
		if err != nil {
			return mcp.NewToolResultError("run_id is required"), nil
		}

		body, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/run/"+runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status request failed: %v", err)), nil
		}

		var status runStatusResponse
		if err := json.Unmarshal(body, &status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse status: %s", body)), nil
		}
		return mcp.NewToolResultText(formatRunStatus(&status)), nil
	}
}

func handleListScripts(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/scripts")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scripts request failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

func handleExecuteScript(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 10 * time.Minute}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		script, err := request.RequireString("script")
		if err != nil {
			return mcp.NewToolResultError("script is required"), nil
		}
		query, err := request.RequireString("search_query")
		if err != nil {
			return mcp.NewToolResultError("search_query is required"), nil
		}

		payload := map[string]interface{}{
			"script":       script,
			"search_query": query,
		}
		start := request.GetString("start_date", "")
		end := request.GetString("end_date", "")
		if start != "" && end != "" {
			payload["date_range"] = map[string]string{"start": start, "end": end}
		}

		body, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/execute-script", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("execute request failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

func handleRunParallel(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Minute}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scripts, err := request.RequireStringSlice("scripts")
		if err != nil {
			return mcp.NewToolResultError("scripts is required and must be an array of strings"), nil
		}
		query, err := request.RequireString("search_query")
		if err != nil {
			return mcp.NewToolResultError("search_query is required"), nil
		}

		payload := map[string]interface{}{
			"scripts":           scripts,
			"search_query":      query,
			"concurrency_limit": request.GetInt("concurrency_limit", 3),
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/parallel", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("parallel request failed: %v", err)), nil
		}

		var par parallelResponse
		if err := json.Unmarshal(respBody, &par); err != nil || par.RunID == "" {
			return mcp.NewToolResultError(fmt.Sprintf("parallel run creation failed: %s", respBody)), nil
		}

		// Poll for completion.
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return mcp.NewToolResultError("polling cancelled"), nil
			case <-ticker.C:
				body, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/parallel/"+par.RunID)
				if err != nil {
					return mcp.NewToolResultError(fmt.Sprintf("polling parallel run failed: %v", err)), nil
				}
				var status struct {
					Status string `json:"status"`
				}
				if err := json.Unmarshal(body, &status); err != nil {
					return mcp.NewToolResultError(fmt.Sprintf("failed to parse poll status: %s", body)), nil
				}
				if status.Status != "processing" {
					return mcp.NewToolResultText(string(body)), nil
				}
			}
		}
	}
}

// pollRun polls a run until it reaches a terminal state.
func pollRun(ctx context.Context, client *http.Client, apiURL, apiKey, runID string) (*runStatusResponse, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			body, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/run/"+runID)
			if err != nil {
				return nil, err
			}
			var status runStatusResponse
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse run status: %w", err)
			}
			if terminalStatuses[status.Status] {
				return &status, nil
			}
		}
	}
}

// formatRunStatus renders a run status as readable text for the tool result.
func formatRunStatus(s *runStatusResponse) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Run: %s\nState: %s\n", s.RunID, s.Status)
	if s.ScriptPath != "" {
		fmt.Fprintf(&buf, "Script: %s\n", s.ScriptPath)
	}
	if s.ExtractedCount > 0 {
		fmt.Fprintf(&buf, "Rows extracted: %d\n", s.ExtractedCount)
	}
	if s.Error != nil {
		fmt.Fprintf(&buf, "Error: [%s] %s\n", s.Error.Code, s.Error.Message)
	}
	if len(s.Logs) > 0 {
		buf.WriteString("\nLog:\n")
		tail := s.Logs
		if len(tail) > 30 {
			tail = tail[len(tail)-30:]
		}
		for _, line := range tail {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}
