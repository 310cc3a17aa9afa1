package execution

import (
	"context"
	"sync"
	"time"

	"dbvault/internal/logger"
)

// flushInterval bounds write amplification: a restore streaming
// thousands of tool output lines still hits SQLite at most once a
// second. Terminal transitions and errors bypass the bucket and flush
// synchronously so the final state is never lost.
const flushInterval = time.Second

// Tracker mediates every mutation of one execution while its restore
// runs. Callers log and update progress freely from adapter callbacks;
// the tracker coalesces those into debounced writes. After Succeed or
// Fail the record is terminal and further mutations are dropped.
type Tracker struct {
	store *Store
	log   logger.Logger

	mu    sync.Mutex
	exec  *Execution
	dirty bool

	stop     chan struct{}
	flusherD chan struct{}
	once     sync.Once
}

// NewTracker starts tracking an already-inserted execution
func NewTracker(store *Store, exec *Execution, log logger.Logger) *Tracker {
	t := &Tracker{
		store:    store,
		log:      log,
		exec:     exec,
		stop:     make(chan struct{}),
		flusherD: make(chan struct{}),
	}
	go t.flusher()
	return t
}

// flusher drains dirty state once per interval. It never writes when
// nothing changed, so an idle wait (a long-running pg_restore with no
// output) costs nothing.
func (t *Tracker) flusher() {
	defer close(t.flusherD)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.flushIfDirty()
		case <-t.stop:
			t.flushIfDirty()
			return
		}
	}
}

func (t *Tracker) flushIfDirty() {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return
	}
	snapshot := t.exec.Clone()
	t.dirty = false
	t.mu.Unlock()

	t.persist(snapshot)
}

// flushNow persists the current state synchronously, holding nothing back
func (t *Tracker) flushNow() {
	t.mu.Lock()
	snapshot := t.exec.Clone()
	t.dirty = false
	t.mu.Unlock()

	t.persist(snapshot)
}

func (t *Tracker) persist(e *Execution) {
	if err := t.store.Update(context.Background(), e); err != nil {
		t.log.Error("failed to persist execution state",
			"execution", e.ID, "error", err)
	}
}

// SetStage moves the execution into a new pipeline stage
func (t *Tracker) SetStage(stage Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exec.Status.Terminal() {
		return
	}
	t.exec.Metadata.Stage = stage
	t.dirty = true
}

// SetProgress updates the overall percentage, clamped to [0,100].
// Progress never moves backwards; out-of-order adapter callbacks keep
// the high-water mark.
func (t *Tracker) SetProgress(pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exec.Status.Terminal() || pct <= t.exec.Metadata.Progress {
		return
	}
	t.exec.Metadata.Progress = pct
	t.dirty = true
}

// Log appends one entry at the current stage
func (t *Tracker) Log(level Level, message string) {
	t.LogDetails(level, message, "")
}

// LogDetails appends one entry with supplementary detail text. Errors
// force an immediate flush so a crash right after never loses them.
func (t *Tracker) LogDetails(level Level, message, details string) {
	t.mu.Lock()
	if t.exec.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.exec.Append(level, message, details)
	t.dirty = true
	t.mu.Unlock()

	if level == LevelError {
		t.flushNow()
	}
}

// Succeed marks the execution terminal-successful and flushes
func (t *Tracker) Succeed(message string) {
	t.finish(StatusSuccess, StageCompleted, LevelInfo, message)
}

// Fail marks the execution terminal-failed, recording the error text
func (t *Tracker) Fail(err error) {
	t.finish(StatusFailed, StageFailed, LevelError, err.Error())
}

// finish performs the single allowed terminal transition. A second call
// is a no-op: status moves strictly forward, exactly once.
func (t *Tracker) finish(status Status, stage Stage, level Level, message string) {
	t.mu.Lock()
	if t.exec.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.exec.Metadata.Stage = stage
	if status == StatusSuccess {
		t.exec.Metadata.Progress = 100
	}
	t.exec.Append(level, message, "")
	t.exec.Status = status
	now := time.Now().UTC()
	t.exec.FinishedAt = &now
	t.mu.Unlock()

	t.flushNow()
	t.Close()
}

// Snapshot returns a copy of the current execution state
func (t *Tracker) Snapshot() *Execution {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exec.Clone()
}

// Close stops the background flusher after one final drain. Safe to
// call more than once and after Succeed/Fail.
func (t *Tracker) Close() {
	t.once.Do(func() { close(t.stop) })
	<-t.flusherD
}
