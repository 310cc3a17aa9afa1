package restore

import (
	"strings"

	"dbvault/internal/adapter"
	"dbvault/internal/execution"
)

// newRelay adapts engine tool output into execution log entries. Every
// line the tool prints lands in the execution log verbatim; only the
// level is inferred, so operators can filter without losing anything.
func newRelay(tracker *execution.Tracker) adapter.LogFunc {
	return func(line string) {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			return
		}
		tracker.Log(classifyLine(line), line)
	}
}

// classifyLine guesses a severity from tool output. Engine tools are
// inconsistent about prefixes, so this matches the common markers of
// pg_restore, psql, and the mysql client case-insensitively.
func classifyLine(line string) execution.Level {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error"),
		strings.Contains(lower, "fatal"),
		strings.Contains(lower, "fail"):
		return execution.LevelError
	case strings.Contains(lower, "warn"):
		return execution.LevelWarning
	default:
		return execution.LevelInfo
	}
}
