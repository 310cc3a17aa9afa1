package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/logger"
)

// Local serves artifacts from a directory on the engine host. The
// configured "path" parameter is the base; remote paths are resolved
// relative to it and must not escape it.
type Local struct {
	log logger.Logger
}

// NewLocal creates the local filesystem backend
func NewLocal(log logger.Logger) *Local {
	return &Local{log: log}
}

func (l *Local) basePath(cfg adapter.Config) (string, error) {
	base := cfg.Param("path")
	if base == "" {
		return "", errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("Local storage %q has no path configured", cfg.ID),
			"Set the \"path\" parameter to the backup directory")
	}
	return base, nil
}

// resolve joins remotePath onto the base and rejects traversal outside it
func (l *Local) resolve(cfg adapter.Config, remotePath string) (string, error) {
	base, err := l.basePath(cfg)
	if err != nil {
		return "", err
	}
	full := filepath.Join(base, filepath.FromSlash(remotePath))
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return "", errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("Path %q escapes the configured base directory", remotePath),
			"Use a path relative to the storage root")
	}
	return full, nil
}

// List returns the entries directly under dir
func (l *Local) List(ctx context.Context, cfg adapter.Config, dir string) ([]adapter.FileInfo, error) {
	full, err := l.resolve(cfg, dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, errors.NewTransferError(errors.ErrCodeListFailed,
			fmt.Sprintf("Cannot list %s", full), err)
	}

	infos := make([]adapter.FileInfo, 0, len(entries))
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, adapter.FileInfo{
			Path:    filepath.ToSlash(filepath.Join(dir, entry.Name())),
			Name:    entry.Name(),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
			IsDir:   entry.IsDir(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Download copies a file out of the base directory
func (l *Local) Download(ctx context.Context, cfg adapter.Config, remotePath, localPath string, onProgress adapter.ProgressFunc) error {
	full, err := l.resolve(cfg, remotePath)
	if err != nil {
		return err
	}

	src, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.ArtifactNotFound(remotePath, cfg.ID)
		}
		return errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot open %s", full), err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot stat %s", full), err)
	}

	dst, err := os.Create(localPath)
	if err != nil {
		return errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot create %s", localPath), err)
	}
	defer dst.Close()

	reader := adapter.NewProgressReader(src, fi.Size(), onProgress)
	if _, err := copyWithContext(ctx, dst, reader); err != nil {
		os.Remove(localPath)
		return errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Copy from %s failed", full), err)
	}
	if err := dst.Sync(); err != nil {
		return errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Sync of %s failed", localPath), err)
	}
	return nil
}

// Upload copies a file into the base directory
func (l *Local) Upload(ctx context.Context, cfg adapter.Config, localPath, remotePath string, onProgress adapter.ProgressFunc) error {
	full, err := l.resolve(cfg, remotePath)
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Cannot open %s", localPath), err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Cannot stat %s", localPath), err)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Cannot create directory for %s", full), err)
	}

	dst, err := os.Create(full)
	if err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Cannot create %s", full), err)
	}
	defer dst.Close()

	reader := adapter.NewProgressReader(src, fi.Size(), onProgress)
	if _, err := copyWithContext(ctx, dst, reader); err != nil {
		os.Remove(full)
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Copy to %s failed", full), err)
	}
	if err := dst.Sync(); err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Sync of %s failed", full), err)
	}
	return nil
}

// Delete removes a file; a missing file counts as success
func (l *Local) Delete(ctx context.Context, cfg adapter.Config, remotePath string) error {
	full, err := l.resolve(cfg, remotePath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Cannot delete %s", full), err)
	}
	return nil
}

// Test verifies the base directory exists and is readable
func (l *Local) Test(ctx context.Context, cfg adapter.Config) adapter.TestResult {
	base, err := l.basePath(cfg)
	if err != nil {
		return adapter.TestResult{Success: false, Message: err.Error()}
	}

	fi, err := os.Stat(base)
	if err != nil {
		return adapter.TestResult{Success: false,
			Message: fmt.Sprintf("cannot access %s: %v", base, err)}
	}
	if !fi.IsDir() {
		return adapter.TestResult{Success: false,
			Message: fmt.Sprintf("%s is not a directory", base)}
	}
	if _, err := os.ReadDir(base); err != nil {
		return adapter.TestResult{Success: false,
			Message: fmt.Sprintf("cannot read %s: %v", base, err)}
	}
	return adapter.TestResult{Success: true,
		Message: fmt.Sprintf("directory %s is accessible", base)}
}

// ReadSidecar loads a small metadata file into memory
func (l *Local) ReadSidecar(ctx context.Context, cfg adapter.Config, remotePath string) ([]byte, error) {
	full, err := l.resolve(cfg, remotePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ArtifactNotFound(remotePath, cfg.ID)
		}
		return nil, errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot open %s", full), err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, sidecarMaxBytes))
	if err != nil {
		return nil, errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot read %s", full), err)
	}
	return data, nil
}
