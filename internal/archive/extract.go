package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"

	"dbvault/internal/logger"
)

// ExtractTarGz unpacks a composite artifact into destDir. Entries that
// would land outside destDir are skipped, not extracted: a backup from a
// hostile or corrupted source must not write anywhere it pleases.
// Symlinks and other special entries are dropped for the same reason;
// composite artifacts only legitimately contain files and directories.
func ExtractTarGz(ctx context.Context, archivePath, destDir string, log logger.Logger) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("archive %s is not gzip compressed: %w", archivePath, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0750); err != nil {
		return fmt.Errorf("creating extraction directory: %w", err)
	}

	tr := tar.NewReader(gz)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar header: %w", err)
		}

		if err := validateTarPath(header.Name, destDir); err != nil {
			log.Warn("blocked archive entry escaping extraction directory",
				"path", header.Name, "error", err)
			continue
		}
		target := filepath.Join(destDir, header.Name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0750); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return fmt.Errorf("creating parent directory for %s: %w", target, err)
			}
			if err := writeFile(target, tr, header.Mode); err != nil {
				return err
			}
		default:
			log.Debug("skipping special entry in composite artifact",
				"path", header.Name, "type", header.Typeflag)
		}
	}
}

func writeFile(target string, r io.Reader, mode int64) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(mode)&0755)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(target)
		return fmt.Errorf("writing file %s: %w", target, err)
	}
	return out.Close()
}

// validateTarPath rejects entries that escape the extraction base via
// absolute paths or ".." traversal.
func validateTarPath(headerName, baseDir string) error {
	if filepath.IsAbs(headerName) {
		return fmt.Errorf("illegal absolute path in archive: %s", headerName)
	}

	cleanPath := filepath.Clean(filepath.Join(baseDir, headerName))
	cleanBase := filepath.Clean(baseDir)
	if cleanPath != cleanBase && !strings.HasPrefix(cleanPath, cleanBase+string(os.PathSeparator)) {
		return fmt.Errorf("path escapes extraction directory: %s", headerName)
	}
	return nil
}
