package execution

import (
	"context"
	"errors"
	"testing"

	"dbvault/internal/logger"
)

func newTestTracker(t *testing.T) (*Tracker, *Store, *Execution) {
	t.Helper()
	s := openTestStore(t)
	e := New(TypeRestore, "backups/x.sql.gz.enc")
	if err := s.Insert(context.Background(), e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	tr := NewTracker(s, e, logger.NewSilent())
	t.Cleanup(tr.Close)
	return tr, s, e
}

func TestTrackerTerminalExactlyOnce(t *testing.T) {
	tr, s, e := newTestTracker(t)

	tr.SetStage(StageDownloading)
	tr.Fail(errors.New("download blew up"))

	// Second transition must not override the first
	tr.Succeed("should be ignored")
	tr.SetStage(StageCompleted)
	tr.SetProgress(100)
	tr.Log(LevelInfo, "late log must be dropped")

	got, err := s.Get(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want Failed to stick", got.Status)
	}
	if got.Metadata.Stage != StageFailed {
		t.Errorf("stage = %q, want Failed", got.Metadata.Stage)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt missing after terminal transition")
	}
	for _, l := range got.Logs {
		if l.Message == "late log must be dropped" || l.Message == "should be ignored" {
			t.Errorf("post-terminal mutation persisted: %q", l.Message)
		}
	}
}

func TestTrackerErrorLogFlushesImmediately(t *testing.T) {
	tr, s, e := newTestTracker(t)

	tr.SetStage(StageRestoringDatabase)
	tr.LogDetails(LevelError, "pg_restore: fatal", "exit status 1")

	// No wait: the error level must have forced a synchronous flush
	got, err := s.Get(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Logs) == 0 || got.Logs[len(got.Logs)-1].Message != "pg_restore: fatal" {
		t.Errorf("error log not flushed synchronously: %+v", got.Logs)
	}
	if got.Logs[len(got.Logs)-1].Stage != StageRestoringDatabase {
		t.Errorf("log stage = %q", got.Logs[len(got.Logs)-1].Stage)
	}
}

func TestTrackerProgressMonotonic(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	tr.SetProgress(40)
	tr.SetProgress(25) // stale callback, must not regress
	tr.SetProgress(130)

	snap := tr.Snapshot()
	if snap.Metadata.Progress != 100 {
		t.Errorf("progress = %v, want clamp to 100", snap.Metadata.Progress)
	}
}

func TestTrackerLogsNonDecreasing(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	last := 0
	for i := 0; i < 10; i++ {
		tr.Log(LevelInfo, "line")
		n := len(tr.Snapshot().Logs)
		if n < last {
			t.Fatalf("log length decreased from %d to %d", last, n)
		}
		last = n
	}
}

func TestTrackerSucceedPersistsFinalState(t *testing.T) {
	tr, s, e := newTestTracker(t)

	tr.SetStage(StageRestoringDatabase)
	tr.SetProgress(80)
	tr.Succeed("restore finished")

	got, err := s.Get(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusSuccess {
		t.Errorf("status = %q", got.Status)
	}
	if got.Metadata.Stage != StageCompleted {
		t.Errorf("stage = %q", got.Metadata.Stage)
	}
	if got.Metadata.Progress != 100 {
		t.Errorf("progress = %v, want 100 on success", got.Metadata.Progress)
	}
}
