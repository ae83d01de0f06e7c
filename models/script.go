package models

// ScriptArtifact is a synthesized extraction program. Created by the
// synthesizer, mutated in place by the test/repair loop, persisted to disk
// on every successful synthesis or repair. The core never deletes artifacts.
type ScriptArtifact struct {
	Path         string `json:"path"`
	SourceCode   string `json:"-"`
	TestAttempts int    `json:"test_attempts"`
	LastError    string `json:"last_error,omitempty"`
}

// TestOutcome classifies one execution of a script artifact.
type TestOutcome struct {
	Passed    bool   `json:"passed"`
	RowCount  int    `json:"row_count"`
	NoResults bool   `json:"no_results"`
	ExitCode  int    `json:"exit_code"`
	TimedOut  bool   `json:"timed_out"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
