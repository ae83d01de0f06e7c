package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/llm"
	"github.com/openrecords/gridscout/models"
)

const searchWidgetHTML = `<html><body>
<form id="frmSchTarget">
  <input id="SearchOnName" type="text">
  <input id="btnSearch" type="submit" value="Search">
  <input id="RecordDateFrom" type="text">
  <input id="RecordDateTo" type="text">
</form>
</body></html>`

func TestHeuristicUpgradesNegativeDecision(t *testing.T) {
	d := Decision{IsSearchPage: false, Reasoning: "no search form visible"}

	HeuristicUpgrade(searchWidgetHTML, &d)

	if !d.IsSearchPage {
		t.Fatal("decision not upgraded despite verified search widget")
	}
	if !d.HeuristicUpgraded {
		t.Error("HeuristicUpgraded flag not set")
	}
	if d.Selectors.Input != "#SearchOnName" {
		t.Errorf("input = %q, want #SearchOnName", d.Selectors.Input)
	}
	if d.Selectors.Submit != "#btnSearch" {
		t.Errorf("submit = %q, want #btnSearch", d.Selectors.Submit)
	}
	if d.Selectors.StartDate != "#RecordDateFrom" || d.Selectors.EndDate != "#RecordDateTo" {
		t.Errorf("dates = %q/%q, want #RecordDateFrom/#RecordDateTo",
			d.Selectors.StartDate, d.Selectors.EndDate)
	}
}

func TestHeuristicNeverDowngrades(t *testing.T) {
	d := Decision{
		IsSearchPage: true,
		Selectors:    models.SelectorSet{Input: "#custom", Submit: "#go"},
	}

	HeuristicUpgrade("<html><body>nothing here</body></html>", &d)

	if !d.IsSearchPage {
		t.Error("positive decision was downgraded")
	}
	if d.Selectors.Input != "#custom" || d.Selectors.Submit != "#go" {
		t.Errorf("selectors overwritten: %+v", d.Selectors)
	}
}

func TestHeuristicRequiresInputElement(t *testing.T) {
	// Fingerprint text appears but there is no <input> tag at all.
	html := `<div id="SearchOnName">Search on name</div><div id="btnSearch">go</div>
<p>no form controls</p>`
	d := Decision{}

	HeuristicUpgrade(html, &d)

	if d.IsSearchPage {
		t.Error("upgraded without any <input> element present")
	}
}

func TestHeuristicRequiresBothRoles(t *testing.T) {
	// Input fingerprint only: no submit control derivable.
	html := `<form><input id="SearchOnName"></form>`
	d := Decision{}

	HeuristicUpgrade(html, &d)

	if d.IsSearchPage {
		t.Error("upgraded with input but no submit selector")
	}
}

func TestHeuristicSkipsLoginPages(t *testing.T) {
	d := Decision{RequiresLogin: true}

	HeuristicUpgrade(searchWidgetHTML, &d)

	if d.IsSearchPage {
		t.Error("login page must stay terminal, not become a search page")
	}
}

func TestHeuristicUsesNameAttribute(t *testing.T) {
	html := `<form><input name="searchTerm" type="text"><button id="btnSubmit">Go</button></form>`
	d := Decision{}

	HeuristicUpgrade(html, &d)

	if !d.IsSearchPage {
		t.Fatal("decision not upgraded")
	}
	if d.Selectors.Input != `[name="searchTerm"]` {
		t.Errorf("input = %q, want [name=\"searchTerm\"]", d.Selectors.Input)
	}
}

func TestClassifyMemoizesRepeatSnapshots(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		content, _ := json.Marshal(map[string]any{
			"is_results_grid": true,
			"selectors":       map[string]string{"grid": "#grid"},
		})
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": string(content)}}},
		})
	}))
	defer srv.Close()

	client := llm.NewClient(config.LLMConfig{
		BaseURL: srv.URL, APIKey: "k", Model: "m",
		RequestsPerSecond: 1000, Burst: 100, Timeout: 5 * time.Second,
	}, nil)
	c := New(client)

	first, err := c.Classify(context.Background(), searchWidgetHTML)
	if err != nil {
		t.Fatalf("first classify: %v", err)
	}
	second, err := c.Classify(context.Background(), searchWidgetHTML)
	if err != nil {
		t.Fatalf("second classify: %v", err)
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("LLM calls = %d, want 1 for identical snapshots", n)
	}
	if first.Selectors.Grid != second.Selectors.Grid || !second.IsResultsGrid {
		t.Errorf("memoized decision differs: %+v vs %+v", first, second)
	}
}

func TestDropInvalidSelectors(t *testing.T) {
	got := dropInvalidSelectors(models.SelectorSet{
		Input:  "#SearchOnName",
		Submit: "div[",
		Grid:   "table.grid",
	})
	if got.Input != "#SearchOnName" {
		t.Errorf("valid input selector dropped: %q", got.Input)
	}
	if got.Submit != "" {
		t.Errorf("invalid submit selector kept: %q", got.Submit)
	}
	if got.Grid != "table.grid" {
		t.Errorf("valid grid selector dropped: %q", got.Grid)
	}
}
