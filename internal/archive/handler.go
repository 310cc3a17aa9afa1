package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/logger"
)

// Handler restores composite multi-database artifacts
type Handler struct {
	log logger.Logger
}

// NewHandler builds the composite restore handler
func NewHandler(log logger.Logger) *Handler {
	return &Handler{log: log}
}

// plan is one manifest entry with its selection resolved
type plan struct {
	entry    Entry
	target   string
	selected bool
}

// Restore extracts the composite artifact into scratchDir and restores
// every selected database under its mapped target name. Permission is
// probed for all selected targets before any data moves. Progress is
// fractional: processed entries over total entries. The extraction
// directory is removed on every exit path.
func (h *Handler) Restore(ctx context.Context, db adapter.Database, cfg adapter.Config,
	overrides adapter.Overrides, archivePath, scratchDir string,
	onLog adapter.LogFunc, onProgress adapter.ProgressFunc) error {

	extractDir := filepath.Join(scratchDir, "extracted")
	defer func() {
		if err := os.RemoveAll(extractDir); err != nil && !os.IsNotExist(err) {
			h.log.Warn("could not remove extraction directory",
				"dir", extractDir, "error", err)
		}
	}()

	emit(onLog, fmt.Sprintf("Extracting composite archive %s", filepath.Base(archivePath)))
	if err := ExtractTarGz(ctx, archivePath, extractDir, h.log); err != nil {
		return errors.NewCompressionError(errors.ErrCodeCorruptStream,
			fmt.Sprintf("Cannot extract composite archive %s", filepath.Base(archivePath)), err)
	}

	manifest, err := LoadManifest(extractDir)
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodeRestoreFailed,
			fmt.Sprintf("Composite archive is unusable: %v", err), err)
	}

	plans := make([]plan, 0, len(manifest.Databases))
	targets := make([]string, 0, len(manifest.Databases))
	for _, e := range manifest.Databases {
		target, selected := overrides.Resolve(e.Name)
		plans = append(plans, plan{entry: e, target: target, selected: selected})
		if selected {
			targets = append(targets, target)
		}
	}
	if len(targets) == 0 {
		return errors.NewRestoreError(errors.ErrCodeRestoreFailed,
			"Database mapping deselects every database in the archive", nil)
	}

	// Permission probe before any destructive work. A denied target
	// fails the whole restore here, with nothing touched yet.
	if preparer, ok := db.(adapter.RestorePreparer); ok {
		emit(onLog, fmt.Sprintf("Checking restore permission for %d database(s)", len(targets)))
		if err := preparer.PrepareRestore(ctx, cfg, targets); err != nil {
			return err
		}
	}

	total := int64(len(plans))
	var processed int64
	for _, p := range plans {
		if !p.selected {
			emit(onLog, fmt.Sprintf("Skipping database %q (deselected by mapping)", p.entry.Name))
			processed++
			progress(onProgress, processed, total)
			continue
		}

		source := filepath.Join(extractDir, p.entry.ArchiveFilename)
		if _, err := os.Stat(source); err != nil {
			return errors.NewRestoreError(errors.ErrCodeRestoreFailed,
				fmt.Sprintf("Archive for database %q missing from composite: %s",
					p.entry.Name, p.entry.ArchiveFilename), err)
		}

		if p.target != p.entry.Name {
			emit(onLog, fmt.Sprintf("Restoring database %q as %q", p.entry.Name, p.target))
		} else {
			emit(onLog, fmt.Sprintf("Restoring database %q", p.entry.Name))
		}

		// The source/target pair rides in the config so the adapter can
		// issue rename directives during load.
		entryCfg := cfg.WithParams(map[string]string{
			adapter.ParamSourceDatabase: p.entry.Name,
			adapter.ParamTargetDatabase: p.target,
		})
		if err := db.Restore(ctx, entryCfg, source, onLog, nil); err != nil {
			return err
		}

		processed++
		progress(onProgress, processed, total)
	}

	emit(onLog, fmt.Sprintf("Composite restore finished: %d of %d database(s) restored",
		len(targets), total))
	return nil
}

func emit(onLog adapter.LogFunc, line string) {
	if onLog != nil {
		onLog(line)
	}
}

func progress(onProgress adapter.ProgressFunc, done, total int64) {
	if onProgress != nil {
		onProgress(done, total)
	}
}
