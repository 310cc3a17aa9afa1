package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/logger"
)

// GDrive serves artifacts from a Google Drive folder. Config params:
// credentialsFile (service account JSON, required), folderId (required).
// Drive has no real paths; artifacts and their sidecars live flat in
// the configured folder and remotePath is treated as a file name.
type GDrive struct {
	log   logger.Logger
	retry *RetryConfig
}

// NewGDrive creates the Google Drive backend
func NewGDrive(log logger.Logger, retry *RetryConfig) *GDrive {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &GDrive{log: log, retry: retry}
}

// service builds a Drive client from the adapter config
func (g *GDrive) service(ctx context.Context, cfg adapter.Config) (*drive.Service, string, error) {
	credentialsFile := cfg.Param("credentialsFile")
	if credentialsFile == "" {
		return nil, "", errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("Google Drive storage %q has no credentials configured", cfg.ID),
			"Set the \"credentialsFile\" parameter to a service account JSON file")
	}
	folderID := cfg.Param("folderId")
	if folderID == "" {
		return nil, "", errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("Google Drive storage %q has no folder configured", cfg.ID),
			"Set the \"folderId\" parameter")
	}

	svc, err := drive.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, "", errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("Cannot create Drive service for storage %q: %v", cfg.ID, err),
			"Check the credentials file")
	}
	return svc, folderID, nil
}

// escapeQuery escapes a value for a Drive query expression
func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

// findFile looks a file up by name inside the folder. A nil result
// means the file does not exist.
func findFile(ctx context.Context, svc *drive.Service, folderID, name string) (*drive.File, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false",
		escapeQuery(folderID), escapeQuery(name))

	fileList, err := svc.Files.List().
		Q(query).
		Fields("files(id, name, size, modifiedTime)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("query for %s: %w", name, err)
	}
	if len(fileList.Files) == 0 {
		return nil, nil
	}
	return fileList.Files[0], nil
}

// List returns the files in the configured folder
func (g *GDrive) List(ctx context.Context, cfg adapter.Config, dir string) ([]adapter.FileInfo, error) {
	svc, folderID, err := g.service(ctx, cfg)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("'%s' in parents and trashed=false", escapeQuery(folderID))
	var infos []adapter.FileInfo
	pageToken := ""
	for {
		call := svc.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, size, modifiedTime, mimeType)").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		fileList, err := call.Do()
		if err != nil {
			return nil, errors.NewTransferError(errors.ErrCodeListFailed,
				fmt.Sprintf("Cannot list Drive folder on storage %q", cfg.ID), err)
		}
		for _, f := range fileList.Files {
			info := adapter.FileInfo{
				Path:  f.Name,
				Name:  f.Name,
				Size:  f.Size,
				IsDir: f.MimeType == "application/vnd.google-apps.folder",
			}
			if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
				info.ModTime = t
			}
			infos = append(infos, info)
		}
		pageToken = fileList.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return infos, nil
}

// Download fetches a file out of the folder
func (g *GDrive) Download(ctx context.Context, cfg adapter.Config, remotePath, localPath string, onProgress adapter.ProgressFunc) error {
	svc, folderID, err := g.service(ctx, cfg)
	if err != nil {
		return err
	}
	name := path.Base(remotePath)

	file, err := findFile(ctx, svc, folderID, name)
	if err != nil {
		return errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot look up %s on storage %q", name, cfg.ID), err)
	}
	if file == nil {
		return errors.ArtifactNotFound(remotePath, cfg.ID)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0750); err != nil {
		return errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot create directory for %s", localPath), err)
	}

	op := func() error {
		resp, err := svc.Files.Get(file.Id).Context(ctx).Download()
		if err != nil {
			return fmt.Errorf("download %s: %w", name, err)
		}
		defer resp.Body.Close()

		outFile, err := os.Create(localPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", localPath, err)
		}
		defer outFile.Close()

		reader, cleanup, err := limitRate(adapter.NewProgressReader(resp.Body, file.Size, onProgress), cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if _, err := copyWithContext(ctx, outFile, reader); err != nil {
			return fmt.Errorf("write %s: %w", localPath, err)
		}
		return outFile.Sync()
	}
	if err := retryOperation(ctx, g.retry, g.log, "gdrive download", op); err != nil {
		os.Remove(localPath)
		return errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Download of %s from storage %q failed", name, cfg.ID), err)
	}
	return nil
}

// Upload sends a local file into the folder
func (g *GDrive) Upload(ctx context.Context, cfg adapter.Config, localPath, remotePath string, onProgress adapter.ProgressFunc) error {
	svc, folderID, err := g.service(ctx, cfg)
	if err != nil {
		return err
	}
	name := path.Base(remotePath)

	file, err := os.Open(localPath)
	if err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Cannot open %s", localPath), err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Cannot stat %s", localPath), err)
	}

	op := func() error {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind %s: %w", localPath, err)
		}

		reader, cleanup, err := limitRate(adapter.NewProgressReader(file, stat.Size(), onProgress), cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		fileMetadata := &drive.File{
			Name:    name,
			Parents: []string{folderID},
		}
		_, err = svc.Files.Create(fileMetadata).
			Media(reader).
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("upload %s: %w", name, err)
		}
		return nil
	}
	if err := retryOperation(ctx, g.retry, g.log, "gdrive upload", op); err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Upload of %s to storage %q failed", name, cfg.ID), err)
	}
	return nil
}

// Delete removes a file; a missing file counts as success
func (g *GDrive) Delete(ctx context.Context, cfg adapter.Config, remotePath string) error {
	svc, folderID, err := g.service(ctx, cfg)
	if err != nil {
		return err
	}
	name := path.Base(remotePath)

	file, err := findFile(ctx, svc, folderID, name)
	if err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Cannot look up %s on storage %q", name, cfg.ID), err)
	}
	if file == nil {
		return nil
	}

	if err := svc.Files.Delete(file.Id).Context(ctx).Do(); err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Cannot delete %s on storage %q", name, cfg.ID), err)
	}
	return nil
}

// Test verifies the credentials can see the configured folder
func (g *GDrive) Test(ctx context.Context, cfg adapter.Config) adapter.TestResult {
	svc, folderID, err := g.service(ctx, cfg)
	if err != nil {
		return adapter.TestResult{Success: false, Message: err.Error()}
	}

	query := fmt.Sprintf("'%s' in parents and trashed=false", escapeQuery(folderID))
	_, err = svc.Files.List().Q(query).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return adapter.TestResult{Success: false,
			Message: fmt.Sprintf("folder %s not accessible: %v", folderID, err)}
	}
	return adapter.TestResult{Success: true,
		Message: fmt.Sprintf("folder %s is accessible", folderID)}
}

// ReadSidecar fetches a small file into memory
func (g *GDrive) ReadSidecar(ctx context.Context, cfg adapter.Config, remotePath string) ([]byte, error) {
	svc, folderID, err := g.service(ctx, cfg)
	if err != nil {
		return nil, err
	}
	name := path.Base(remotePath)

	file, err := findFile(ctx, svc, folderID, name)
	if err != nil {
		return nil, errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot look up %s on storage %q", name, cfg.ID), err)
	}
	if file == nil {
		return nil, errors.ArtifactNotFound(remotePath, cfg.ID)
	}

	resp, err := svc.Files.Get(file.Id).Context(ctx).Download()
	if err != nil {
		return nil, errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot fetch %s from storage %q", name, cfg.ID), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, sidecarMaxBytes))
	if err != nil {
		return nil, errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot read %s from storage %q", name, cfg.ID), err)
	}
	return data, nil
}
