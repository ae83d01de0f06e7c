package runner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/openrecords/gridscout/config"
	"github.com/openrecords/gridscout/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		res      ExecResult
		wantPass bool
		wantRows int
	}{
		{
			name:     "rows extracted",
			res:      ExecResult{ExitCode: 0, Stdout: "header\nSUCCESS: Extracted 42 rows\n"},
			wantPass: true,
			wantRows: 42,
		},
		{
			name:     "explicit no results",
			res:      ExecResult{ExitCode: 0, Stdout: "No results found\n"},
			wantPass: true,
		},
		{
			name:     "zero rows without marker is failure",
			res:      ExecResult{ExitCode: 0, Stdout: "SUCCESS: Extracted 0 rows\n"},
			wantPass: false,
		},
		{
			name:     "failure keyword overrides exit 0",
			res:      ExecResult{ExitCode: 0, Stdout: "SUCCESS: Extracted 5 rows", Stderr: "TimeoutError: waiting for #grid"},
			wantPass: false,
		},
		{
			name:     "strict mode violation",
			res:      ExecResult{ExitCode: 0, Stderr: "strict mode violation: input[type=button] resolved to 3 elements"},
			wantPass: false,
		},
		{
			name:     "nonzero exit",
			res:      ExecResult{ExitCode: 1, Stdout: "SUCCESS: Extracted 5 rows"},
			wantPass: false,
		},
		{
			name:     "timeout",
			res:      ExecResult{ExitCode: -1, TimedOut: true},
			wantPass: false,
		},
		{
			name:     "no marker at all",
			res:      ExecResult{ExitCode: 0, Stdout: "some,csv,rows"},
			wantPass: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.res)
			if got.Passed != tt.wantPass {
				t.Errorf("Passed = %v, want %v (reason %q)", got.Passed, tt.wantPass, got.Reason)
			}
			if tt.wantRows != 0 && got.RowCount != tt.wantRows {
				t.Errorf("RowCount = %d, want %d", got.RowCount, tt.wantRows)
			}
			if !got.Passed && got.Reason == "" {
				t.Error("failed outcome carries no reason")
			}
		})
	}
}

func TestExecCapturesOutputAndExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test shells out to sh")
	}

	res := Exec(context.Background(), "sh", "-c", []string{"echo out; echo err >&2; exit 3"}, 5*time.Second)

	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Stdout != "out\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.Stderr != "err\n" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if res.TimedOut {
		t.Error("TimedOut = true on fast process")
	}
}

func TestExecKillsOnTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test shells out to sh")
	}

	start := time.Now()
	res := Exec(context.Background(), "sh", "-c", []string{"sleep 30"}, 200*time.Millisecond)

	if !res.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Exec returned after %v, process not killed", elapsed)
	}
	if out := Classify(res); out.Passed {
		t.Error("timed-out run classified as pass")
	}
}

func TestExecMissingBinary(t *testing.T) {
	res := Exec(context.Background(), "definitely-not-a-real-binary", "x.py", nil, time.Second)
	if res.ExitCode == 0 {
		t.Error("missing binary reported exit 0")
	}
	if res.Stderr == "" {
		t.Error("missing binary left no error text")
	}
}

func TestTestDoesNotMutatePassingSource(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test shells out to sh")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "pass.sh")
	src := "#!/bin/sh\necho 'SUCCESS: Extracted 7 rows'\n"
	if err := os.WriteFile(script, []byte(src), 0o755); err != nil {
		t.Fatal(err)
	}

	r := New(nil, config.ScriptsConfig{PythonBin: "sh", TestTimeout: 5 * time.Second})
	artifact := &models.ScriptArtifact{Path: script, SourceCode: src}

	for i := 0; i < 3; i++ {
		outcome := r.Test(context.Background(), artifact, "SMITH", "01/01/1980", "12/31/2025")
		if !outcome.Passed {
			t.Fatalf("run %d failed: %s", i, outcome.Reason)
		}
	}

	if artifact.SourceCode != src {
		t.Error("passing artifact source was mutated")
	}
	onDisk, _ := os.ReadFile(script)
	if string(onDisk) != src {
		t.Error("passing artifact file was rewritten")
	}
}
