// gridscoutctl is a thin command-line client for the gridscout API: start a
// workflow run and watch it, list or execute generated scripts, and fan a
// set of scripts out in parallel.
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

	"github.com/spf13/cobra"

	"github.com/openrecords/gridscout/models"
)

var (
	apiURL string
	apiKey string
)

func main() {
	root := &cobra.Command{
		Use:           "gridscoutctl",
		Short:         "Client for the gridscout workflow API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api", envOr("GRIDSCOUT_API_URL", "http://127.0.0.1:8080"), "gridscout API base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("GRIDSCOUT_API_KEY"), "API key (X-API-Key header)")

	root.AddCommand(runCmd(), statusCmd(), scriptsCmd(), execCmd(), parallelCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		query     string
		startDate string
		endDate   string
		watch     bool
	)
	cmd := &cobra.Command{
		Use:   "run <url>",
		Short: "Start a workflow run against a records site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.StartRunRequest{URL: args[0], SearchQuery: query}
			if startDate != "" && endDate != "" {
				req.DateRange = &models.DateRange{Start: startDate, End: endDate}
			}

			body, err := apiPost(cmd.Context(), "/api/v1/run", req)
			if err != nil {
				return err
			}
			var resp models.StartRunResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w (body: %s)", err, body)
			}
			fmt.Println("run id:", resp.RunID)

			if !watch {
				return nil
			}
			return watchRun(cmd.Context(), resp.RunID)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "search term, usually a last name (required)")
	cmd.Flags().StringVar(&startDate, "start", "", "start date MM/DD/YYYY")
	cmd.Flags().StringVar(&endDate, "end", "", "end date MM/DD/YYYY")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until the run reaches a terminal state")
	cmd.MarkFlagRequired("query")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the current state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := apiGet(cmd.Context(), "/api/v1/run/"+args[0])
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
}

func scriptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scripts",
		Short: "List generated scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := apiGet(cmd.Context(), "/api/v1/scripts")
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
}

func execCmd() *cobra.Command {
	var (
		query     string
		startDate string
		endDate   string
	)
	cmd := &cobra.Command{
		Use:   "exec <script>",
		Short: "Execute one generated script and print the classified outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.ExecuteScriptRequest{Script: args[0], SearchQuery: query}
			if startDate != "" && endDate != "" {
				req.DateRange = &models.DateRange{Start: startDate, End: endDate}
			}
			body, err := apiPost(cmd.Context(), "/api/v1/execute-script", req)
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "search term (required)")
	cmd.Flags().StringVar(&startDate, "start", "", "start date MM/DD/YYYY")
	cmd.Flags().StringVar(&endDate, "end", "", "end date MM/DD/YYYY")
	cmd.MarkFlagRequired("query")
	return cmd
}

func parallelCmd() *cobra.Command {
	var (
		query string
		limit int
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "parallel <script>...",
		Short: "Run many generated scripts under a concurrency ceiling",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.ParallelRequest{
				Scripts:          args,
				SearchQuery:      query,
				ConcurrencyLimit: limit,
			}
			body, err := apiPost(cmd.Context(), "/api/v1/parallel", req)
			if err != nil {
				return err
			}
			var resp models.ParallelResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w (body: %s)", err, body)
			}
			fmt.Printf("parallel run id: %s (%d scripts)\n", resp.RunID, resp.Total)

			if !watch {
				return nil
			}
			final, err := pollUntilDone(cmd.Context(), "/api/v1/parallel/"+resp.RunID,
				func(status string) bool { return status != "processing" })
			if err != nil {
				return err
			}
			return printJSON(final)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "search term (required)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 3, "max scripts running at once (0 = all)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until the run completes")
	cmd.MarkFlagRequired("query")
	return cmd
}

// watchRun polls the run endpoint, printing fresh log lines as they appear.
func watchRun(ctx context.Context, runID string) error {
	seen := 0
	for {
		body, err := apiGet(ctx, "/api/v1/run/"+runID)
		if err != nil {
			return err
		}
		var resp models.RunStatusResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("parsing run status: %w", err)
		}
		for ; seen < len(resp.Logs); seen++ {
			fmt.Println(resp.Logs[seen])
		}
		if resp.Status.Terminal() {
			fmt.Println("final state:", resp.Status)
			if resp.ScriptPath != "" {
				fmt.Println("script:", resp.ScriptPath)
			}
			if resp.Error != nil {
				return fmt.Errorf("[%s] %s", resp.Error.Code, resp.Error.Message)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// pollUntilDone polls a GET endpoint until its "status" field satisfies
// done, returning the final body.
func pollUntilDone(ctx context.Context, path string, done func(string) bool) ([]byte, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			body, err := apiGet(ctx, path)
			if err != nil {
				return nil, err
			}
			var status struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parsing poll status: %w", err)
			}
			if done(status.Status) {
				return body, nil
			}
		}
	}
}

func apiPost(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(req)
}

func apiGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return doRequest(req)
}

func doRequest(req *http.Request) ([]byte, error) {
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

func printJSON(body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
