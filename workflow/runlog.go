package workflow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/openrecords/gridscout/models"
)

// RunLog writes one run's trace both to the process logger and to the
// RunState log buffer the control plane streams to clients.
type RunLog struct {
	state *models.RunState
}

// NewRunLog attaches a log helper to a run.
func NewRunLog(state *models.RunState) *RunLog {
	return &RunLog{state: state}
}

func (l *RunLog) append(node, level, msg string) {
	line := fmt.Sprintf("[%s] [%s] %s: %s", time.Now().Format("15:04:05"), node, level, msg)
	l.state.Logs = append(l.state.Logs, line)
}

// Info records a progress line.
func (l *RunLog) Info(node, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Info(msg, "run", l.state.ID, "node", node)
	l.append(node, "INFO", msg)
}

// Warn records a recoverable problem.
func (l *RunLog) Warn(node, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Warn(msg, "run", l.state.ID, "node", node)
	l.append(node, "WARNING", msg)
}

// Error records a failure and mirrors it into RunState.LastError.
func (l *RunLog) Error(node, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Error(msg, "run", l.state.ID, "node", node)
	l.append(node, "ERROR", msg)
	l.state.LastError = msg
}
