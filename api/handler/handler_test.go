package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGetRunNotFound(t *testing.T) {
	r := gin.New()
	r.GET("/run/:id", GetRun())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/run/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetRunReturnsSnapshot(t *testing.T) {
	entry := newRunEntry("run-abc")
	state := models.NewRunState("run-abc", "https://x.example", "SMITH", models.DateRange{})
	state.Status = models.StatusScriptTested
	state.ExtractedCount = 42
	state.GeneratedScriptPath = "generated_scripts/x.py"
	state.Logs = []string{"[00:00:00] [Orchestrator] INFO: run started"}
	entry.publish(state)
	runStore.Store("run-abc", entry)
	defer runStore.Delete("run-abc")

	r := gin.New()
	r.GET("/run/:id", GetRun())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/run/run-abc", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp models.RunStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != models.StatusScriptTested || resp.ExtractedCount != 42 {
		t.Errorf("snapshot = %+v, want SCRIPT_TESTED with 42 rows", resp)
	}
	if resp.LogCount != 1 || len(resp.Logs) != 1 {
		t.Errorf("logs = %d/%d, want 1/1", resp.LogCount, len(resp.Logs))
	}
}

func TestPostRunRejectsMissingFields(t *testing.T) {
	r := gin.New()
	r.POST("/run", PostRun(Deps{Cfg: &config.Config{}}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"url":"https://x.example"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing search_query", w.Code)
	}
}

func TestListScriptsEmptyDir(t *testing.T) {
	r := gin.New()
	r.GET("/scripts", ListScripts(config.ScriptsConfig{OutputDir: filepath.Join(t.TempDir(), "nope")}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scripts", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"scripts":[]`) {
		t.Errorf("body = %s, want empty scripts list", w.Body.String())
	}
}

func TestListScriptsOnlyPythonFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a_scraper.py", "b_scraper.py", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("pass"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	r := gin.New()
	r.GET("/scripts", ListScripts(config.ScriptsConfig{OutputDir: dir}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scripts", nil))

	var resp struct {
		Scripts []ScriptInfo `json:"scripts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Scripts) != 2 {
		t.Fatalf("scripts = %d, want 2 (txt excluded)", len(resp.Scripts))
	}
	for _, s := range resp.Scripts {
		if !strings.HasSuffix(s.Name, ".py") {
			t.Errorf("non-python artifact listed: %s", s.Name)
		}
	}
}

func TestResolveScriptRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ok.py"), []byte("pass"), 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		want bool
	}{
		{"ok.py", true},
		{"../ok.py", false},
		{"/etc/passwd", false},
		{"../../tmp/x.py", false},
		{"", false},
		{"missing.py", false},
	}
	for _, tc := range cases {
		if _, ok := resolveScript(dir, tc.name); ok != tc.want {
			t.Errorf("resolveScript(%q) ok = %v, want %v", tc.name, ok, tc.want)
		}
	}
}

func TestPostParallelRejectsUnknownScript(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scripts.OutputDir = t.TempDir()

	r := gin.New()
	r.POST("/parallel", PostParallel(cfg))

	w := httptest.NewRecorder()
	body := `{"scripts":["ghost.py"],"search_query":"SMITH"}`
	req := httptest.NewRequest(http.MethodPost, "/parallel", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown script", w.Code)
	}
}

func TestRunEntryPublishDeliversIncrementalLogs(t *testing.T) {
	entry := newRunEntry("run-logs")
	sub := entry.subscribe()
	defer entry.unsubscribe(sub)

	state := models.NewRunState("run-logs", "https://x.example", "SMITH", models.DateRange{})
	state.Logs = []string{"line 1", "line 2"}
	entry.publish(state)
	state.Logs = append(state.Logs, "line 3")
	entry.publish(state)

	first := <-sub
	second := <-sub
	if len(first.Logs) != 2 || len(second.Logs) != 1 {
		t.Errorf("incremental logs = %d then %d, want 2 then 1", len(first.Logs), len(second.Logs))
	}
	if second.Logs[0] != "line 3" {
		t.Errorf("second event log = %q, want line 3", second.Logs[0])
	}
	if second.LogCount != 3 {
		t.Errorf("log count = %d, want 3", second.LogCount)
	}
}
