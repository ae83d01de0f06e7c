// Benchmark harness for generated extraction scripts. It lists the scripts
// the API knows about, executes each one several times through
// /api/v1/execute-script, and prints a latency/row-count table plus a JSON
// report for tracking regressions across script regenerations.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL = flag.String("api-url", "http://localhost:8080", "Gridscout API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	query  = flag.String("query", "SMITH", "Search term passed to every script")
	runs   = flag.Int("runs", 3, "Number of runs per script for averaging")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// --- Request / Response types (mirrors models package) ---

type executeRequest struct {
	Script      string `json:"script"`
	SearchQuery string `json:"search_query"`
}

type executeResponse struct {
	Script    string `json:"script"`
	Success   bool   `json:"success"`
	RowCount  int    `json:"row_count"`
	NoResults bool   `json:"no_results"`
	TimedOut  bool   `json:"timed_out"`
	Reason    string `json:"reason"`
}

type scriptList struct {
	Scripts []struct {
		Name string `json:"name"`
	} `json:"scripts"`
}

// scriptReport aggregates the runs of one script.
type scriptReport struct {
	Script    string  `json:"script"`
	Runs      int     `json:"runs"`
	Successes int     `json:"successes"`
	AvgMs     int64   `json:"avg_ms"`
	MinMs     int64   `json:"min_ms"`
	MaxMs     int64   `json:"max_ms"`
	AvgRows   float64 `json:"avg_rows"`
	LastError string  `json:"last_error,omitempty"`
}

func main() {
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Minute}

	scripts, err := listScripts(client)
	if err != nil {
		fmt.Fprintln(os.Stderr, "listing scripts:", err)
		os.Exit(1)
	}
	if len(scripts) == 0 {
		fmt.Fprintln(os.Stderr, "no generated scripts to benchmark")
		os.Exit(1)
	}

	reports := make([]scriptReport, 0, len(scripts))
	for _, script := range scripts {
		fmt.Printf("benchmarking %s (%d runs)\n", script, *runs)
		reports = append(reports, benchmarkScript(client, script))
	}

	printTable(reports)

	data, err := json.MarshalIndent(reports, "", "  ")
	if err == nil {
		err = os.WriteFile(*output, data, 0o644)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "writing report:", err)
		os.Exit(1)
	}
	fmt.Println("report written to", *output)
}

func benchmarkScript(client *http.Client, script string) scriptReport {
	report := scriptReport{Script: script, Runs: *runs, MinMs: -1}
	var totalMs int64
	var totalRows int

	for i := 0; i < *runs; i++ {
		started := time.Now()
		resp, err := executeOnce(client, script)
		elapsed := time.Since(started).Milliseconds()

		totalMs += elapsed
		if report.MinMs < 0 || elapsed < report.MinMs {
			report.MinMs = elapsed
		}
		if elapsed > report.MaxMs {
			report.MaxMs = elapsed
		}

		switch {
		case err != nil:
			report.LastError = err.Error()
		case resp.Success:
			report.Successes++
			totalRows += resp.RowCount
		default:
			report.LastError = resp.Reason
		}
	}

	report.AvgMs = totalMs / int64(*runs)
	if report.Successes > 0 {
		report.AvgRows = float64(totalRows) / float64(report.Successes)
	}
	return report
}

func executeOnce(client *http.Client, script string) (*executeResponse, error) {
	body, err := json.Marshal(executeRequest{Script: script, SearchQuery: *query})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/execute-script", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("X-API-Key", *apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned %d: %s", resp.StatusCode, respBody)
	}

	var out executeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func listScripts(client *http.Client) ([]string, error) {
	req, err := http.NewRequest(http.MethodGet, *apiURL+"/api/v1/scripts", nil)
	if err != nil {
		return nil, err
	}
	if *apiKey != "" {
		req.Header.Set("X-API-Key", *apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var list scriptList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parsing script list: %w (body: %s)", err, body)
	}

	names := make([]string, 0, len(list.Scripts))
	for _, s := range list.Scripts {
		names = append(names, s.Name)
	}
	return names, nil
}

func printTable(reports []scriptReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCRIPT\tOK\tAVG MS\tMIN\tMAX\tAVG ROWS\tLAST ERROR")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%d/%d\t%d\t%d\t%d\t%.1f\t%s\n",
			r.Script, r.Successes, r.Runs, r.AvgMs, r.MinMs, r.MaxMs, r.AvgRows, r.LastError)
	}
	w.Flush()
}
