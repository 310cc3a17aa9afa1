// Package execution tracks long-running operations: one record per
// accepted restore, with a strictly forward status, append-only logs,
// and stage/progress metadata persisted in SQLite. A record is owned by
// exactly one background task until it reaches a terminal status, after
// which it never changes again.
package execution

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies what kind of operation an execution records
const TypeRestore = "restore"

// Status is the lifecycle state of an execution. It starts Running and
// moves exactly once to Success or Failed.
type Status string

const (
	StatusRunning Status = "Running"
	StatusSuccess Status = "Success"
	StatusFailed  Status = "Failed"
)

// Terminal reports whether the status is final
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Stage is the pipeline step an execution is currently in
type Stage string

const (
	StageInitializing      Stage = "Initializing"
	StageDownloading       Stage = "Downloading"
	StageDecrypting        Stage = "Decrypting"
	StageDecompressing     Stage = "Decompressing"
	StageRestoringDatabase Stage = "RestoringDatabase"
	StageCompleted         Stage = "Completed"
	StageFailed            Stage = "Failed"
)

// Level classifies a log entry
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// LogEntry is one line of an execution's log
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     Level     `json:"level"`
	Type      string    `json:"type"`
	Stage     Stage     `json:"stage"`
	Details   string    `json:"details,omitempty"`
}

// Metadata carries the mutable progress state of an execution
type Metadata struct {
	Stage    Stage   `json:"stage"`
	Progress float64 `json:"progress"` // percent, 0-100
}

// Execution is the persisted record of one operation
type Execution struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Status     Status     `json:"status"`
	Logs       []LogEntry `json:"logs"`
	Metadata   Metadata   `json:"metadata"`
	Path       string     `json:"path"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// New creates a Running execution for the given operation type and
// source path.
func New(opType, path string) *Execution {
	return &Execution{
		ID:        uuid.NewString(),
		Type:      opType,
		Status:    StatusRunning,
		Metadata:  Metadata{Stage: StageInitializing},
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}
}

// Append adds a log entry stamped with the execution's type and current
// stage. Logs only grow; nothing ever removes or rewrites an entry.
func (e *Execution) Append(level Level, message, details string) {
	e.Logs = append(e.Logs, LogEntry{
		Timestamp: time.Now().UTC(),
		Message:   message,
		Level:     level,
		Type:      e.Type,
		Stage:     e.Metadata.Stage,
		Details:   details,
	})
}

// Clone returns a deep copy safe to hand across goroutines
func (e *Execution) Clone() *Execution {
	out := *e
	out.Logs = make([]LogEntry, len(e.Logs))
	copy(out.Logs, e.Logs)
	if e.FinishedAt != nil {
		t := *e.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
