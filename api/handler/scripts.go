package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
	"github.com/openrecords/gridscout/runner"
)

// ScriptInfo describes one generated script on disk.
type ScriptInfo struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	SizeBytes  int64  `json:"size_bytes"`
	ModifiedAt string `json:"modified_at"`
}

// ListScripts returns a handler for GET /api/v1/scripts.
// It lists the generated script artifacts, newest first.
func ListScripts(cfg config.ScriptsConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := os.ReadDir(cfg.OutputDir)
		if err != nil {
			if os.IsNotExist(err) {
				c.JSON(http.StatusOK, gin.H{"scripts": []ScriptInfo{}})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInternal,
					Message: "reading script directory: " + err.Error(),
				},
			})
			return
		}

		scripts := make([]ScriptInfo, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".py") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			scripts = append(scripts, ScriptInfo{
				Name:       entry.Name(),
				Path:       filepath.Join(cfg.OutputDir, entry.Name()),
				SizeBytes:  info.Size(),
				ModifiedAt: info.ModTime().Format(time.RFC3339),
			})
		}
		sort.Slice(scripts, func(i, j int) bool {
			return scripts[i].ModifiedAt > scripts[j].ModifiedAt
		})

		c.JSON(http.StatusOK, gin.H{"scripts": scripts})
	}
}

// ExecuteScript returns a handler for POST /api/v1/execute-script.
// It runs one existing script synchronously and reports the classified
// outcome; callers wanting fan-out use the parallel endpoint instead.
func ExecuteScript(cfg config.ScriptsConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ExecuteScriptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		script, ok := resolveScript(cfg.OutputDir, req.Script)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "script not found",
				},
			})
			return
		}

		dates := models.DefaultDateRange(time.Now())
		if req.DateRange != nil && req.DateRange.Start != "" && req.DateRange.End != "" {
			dates = *req.DateRange
		}

		res := runner.Exec(c.Request.Context(), cfg.PythonBin, script,
			[]string{req.SearchQuery, dates.Start, dates.End}, cfg.TestTimeout)
		outcome := runner.Classify(res)

		c.JSON(http.StatusOK, gin.H{
			"script":     script,
			"success":    outcome.Passed,
			"row_count":  outcome.RowCount,
			"no_results": outcome.NoResults,
			"timed_out":  outcome.TimedOut,
			"exit_code":  outcome.ExitCode,
			"reason":     outcome.Reason,
			"stdout":     outcome.Stdout,
			"stderr":     outcome.Stderr,
		})
	}
}

// resolveScript confines script lookup to the output directory. Absolute
// paths and traversal segments are rejected so the endpoint can only run
// artifacts this service generated.
func resolveScript(dir, name string) (string, bool) {
	if name == "" || filepath.IsAbs(name) {
		return "", false
	}
	cleaned := filepath.Clean(name)
	if strings.Contains(cleaned, "..") {
		return "", false
	}
	path := filepath.Join(dir, filepath.Base(cleaned))
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}
