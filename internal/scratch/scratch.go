// Package scratch manages the staging area where restore pipelines park
// artifacts between stages. Every execution gets its own directory under
// the scratch root, so concurrent restores of identically named
// artifacts never collide, and a sweeper reclaims directories whose
// execution is long gone. All removals treat "already gone" as success.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"dbvault/internal/logger"
)

// Manager owns the scratch root directory
type Manager struct {
	fs     afero.Fs
	root   string
	factor float64
	log    logger.Logger
}

// NewManager creates a scratch manager rooted at root. factor is the
// required free space as a multiple of artifact size (an encrypted
// compressed artifact briefly coexists with its decrypted and
// decompressed copies).
func NewManager(root string, factor float64, log logger.Logger) *Manager {
	if factor < 1 {
		factor = 1
	}
	return &Manager{
		fs:     afero.NewOsFs(),
		root:   root,
		factor: factor,
		log:    log,
	}
}

// Root returns the scratch root directory
func (m *Manager) Root() string {
	return m.root
}

// Workspace creates (or reopens) the scratch directory for one
// execution. artifactName seeds the staged artifact's basename.
func (m *Manager) Workspace(executionID, artifactName string) (*Workspace, error) {
	if executionID == "" {
		return nil, fmt.Errorf("scratch workspace needs an execution id")
	}
	dir := filepath.Join(m.root, executionID)
	if err := m.fs.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating scratch workspace %s: %w", dir, err)
	}
	return &Workspace{
		fs:   m.fs,
		dir:  dir,
		base: filepath.Base(artifactName),
		log:  m.log,
	}, nil
}

// Workspace is one execution's private corner of the scratch area
type Workspace struct {
	fs   afero.Fs
	dir  string
	base string
	log  logger.Logger
}

// Dir returns the workspace directory
func (w *Workspace) Dir() string {
	return w.dir
}

// ArtifactPath is where the downloaded artifact lands
func (w *Workspace) ArtifactPath() string {
	return filepath.Join(w.dir, w.base)
}

// Path resolves a file name inside the workspace
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(name))
}

// RemoveFile deletes one staged file; a missing file counts as success
func (w *Workspace) RemoveFile(path string) error {
	if err := w.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing scratch file %s: %w", path, err)
	}
	return nil
}

// Remove deletes the whole workspace. Individual failures are collected
// rather than aborting the sweep; the directory itself goes last.
func (w *Workspace) Remove() error {
	entries, err := afero.ReadDir(w.fs, w.dir)
	if os.IsNotExist(err) {
		return nil
	}

	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	for _, entry := range entries {
		p := filepath.Join(w.dir, entry.Name())
		if err := w.fs.RemoveAll(p); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, fmt.Errorf("removing %s: %w", p, err))
		}
	}
	if err := w.fs.RemoveAll(w.dir); err != nil && !os.IsNotExist(err) {
		result = multierror.Append(result, fmt.Errorf("removing %s: %w", w.dir, err))
	}
	return result.ErrorOrNil()
}
