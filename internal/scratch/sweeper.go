package scratch

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
)

// ActiveFunc reports whether the execution owning a scratch directory
// is still running. Unknown ids must report false so orphans from a
// crashed process get reclaimed.
type ActiveFunc func(executionID string) (bool, error)

// Sweeper periodically removes scratch directories left behind by
// finished or vanished executions. Directories younger than maxAge are
// always spared, which keeps the sweeper from racing a restore that was
// accepted a moment ago.
type Sweeper struct {
	m      *Manager
	active ActiveFunc
	maxAge time.Duration
	cron   *cron.Cron
}

// NewSweeper builds a sweeper over the manager's scratch root
func NewSweeper(m *Manager, active ActiveFunc, maxAge time.Duration) *Sweeper {
	return &Sweeper{m: m, active: active, maxAge: maxAge}
}

// Start schedules sweeps on the given cron spec ("0 * * * *" = hourly)
func (s *Sweeper) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		removed, err := s.Sweep()
		if err != nil {
			s.m.log.Warn("scratch sweep finished with errors", "error", err)
		}
		if removed > 0 {
			s.m.log.Info("scratch sweep reclaimed directories", "removed", removed)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts scheduled sweeps, waiting for a running sweep to finish
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep walks the scratch root once and removes every directory that is
// old enough and no longer owned by an active execution. It returns how
// many directories went away.
func (s *Sweeper) Sweep() (int, error) {
	entries, err := afero.ReadDir(s.m.fs, s.m.root)
	if err != nil {
		return 0, fmt.Errorf("reading scratch root %s: %w", s.m.root, err)
	}

	removed := 0
	var firstErr error
	cutoff := time.Now().Add(-s.maxAge)

	for _, entry := range entries {
		if !entry.IsDir() || entry.ModTime().After(cutoff) {
			continue
		}

		id := entry.Name()
		running, err := s.active(id)
		if err != nil {
			s.m.log.Warn("cannot determine execution state, sparing scratch dir",
				"execution", id, "error", err)
			continue
		}
		if running {
			continue
		}

		ws := &Workspace{fs: s.m.fs, dir: filepath.Join(s.m.root, id), log: s.m.log}
		if err := ws.Remove(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.m.log.Debug("swept orphaned scratch directory", "execution", id)
		removed++
	}
	return removed, firstErr
}
