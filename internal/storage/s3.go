package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/logger"
)

// multipartThreshold switches uploads to multipart above this size
const multipartThreshold = 100 * 1024 * 1024

// S3 talks to AWS S3 and compatible object stores (MinIO, Ceph, R2).
// Config params: bucket (required), region, endpoint, accessKey,
// secretKey, prefix, pathStyle, bandwidthLimit.
type S3 struct {
	log   logger.Logger
	retry *RetryConfig
}

// NewS3 creates the S3 backend
func NewS3(log logger.Logger, retry *RetryConfig) *S3 {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &S3{log: log, retry: retry}
}

// client builds an S3 client from the adapter config. Static credentials
// when the config carries them, the default chain (environment, IAM
// role) otherwise.
func (s *S3) client(ctx context.Context, cfg adapter.Config) (*s3.Client, string, error) {
	bucket := cfg.Param("bucket")
	if bucket == "" {
		return nil, "", errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("S3 storage %q has no bucket configured", cfg.ID),
			"Set the \"bucket\" parameter")
	}

	region := cfg.ParamOr("region", "us-east-1")
	accessKey := cfg.Param("accessKey")
	secretKey := cfg.Param("secretKey")

	var awsCfg aws.Config
	var err error
	if accessKey != "" && secretKey != "" {
		credsProvider := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithCredentialsProvider(credsProvider),
			awsconfig.WithRegion(region),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
		)
	}
	if err != nil {
		return nil, "", errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("Cannot build AWS config for storage %q: %v", cfg.ID, err),
			"Check the region and credential parameters")
	}

	endpoint := cfg.Param("endpoint")
	pathStyle := cfg.Param("pathStyle") == "true"
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if pathStyle {
			o.UsePathStyle = true
		}
	})
	return client, bucket, nil
}

// buildKey joins the configured prefix onto a remote path
func (s *S3) buildKey(cfg adapter.Config, remotePath string) string {
	prefix := cfg.Param("prefix")
	if prefix == "" {
		return strings.TrimPrefix(remotePath, "/")
	}
	return path.Join(prefix, remotePath)
}

// List returns the objects directly under dir
func (s *S3) List(ctx context.Context, cfg adapter.Config, dir string) ([]adapter.FileInfo, error) {
	client, bucket, err := s.client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	fullPrefix := s.buildKey(cfg, dir)
	if fullPrefix != "" && !strings.HasSuffix(fullPrefix, "/") {
		fullPrefix += "/"
	}

	var infos []adapter.FileInfo
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(fullPrefix),
		Delimiter: aws.String("/"),
	}
	paginator := s3.NewListObjectsV2Paginator(client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.NewTransferError(errors.ErrCodeListFailed,
				fmt.Sprintf("Cannot list s3://%s/%s", bucket, fullPrefix), err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			name := path.Base(*obj.Key)
			info := adapter.FileInfo{
				Path: path.Join(dir, name),
				Name: name,
			}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			}
			infos = append(infos, info)
		}
		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			name := path.Base(strings.TrimSuffix(*cp.Prefix, "/"))
			infos = append(infos, adapter.FileInfo{
				Path:  path.Join(dir, name),
				Name:  name,
				IsDir: true,
			})
		}
	}
	return infos, nil
}

// Download fetches an object, with retry around the whole GET
func (s *S3) Download(ctx context.Context, cfg adapter.Config, remotePath, localPath string, onProgress adapter.ProgressFunc) error {
	client, bucket, err := s.client(ctx, cfg)
	if err != nil {
		return err
	}
	key := s.buildKey(cfg, remotePath)

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return errors.ArtifactNotFound(remotePath, cfg.ID)
		}
		return errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot stat s3://%s/%s", bucket, key), err)
	}
	var size int64 = -1
	if head.ContentLength != nil {
		size = *head.ContentLength
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0750); err != nil {
		return errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot create directory for %s", localPath), err)
	}

	op := func() error {
		result, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
		}
		defer result.Body.Close()

		outFile, err := os.Create(localPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", localPath, err)
		}
		defer outFile.Close()

		reader, cleanup, err := limitRate(adapter.NewProgressReader(result.Body, size, onProgress), cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if _, err := copyWithContext(ctx, outFile, reader); err != nil {
			return fmt.Errorf("write %s: %w", localPath, err)
		}
		return outFile.Sync()
	}
	if err := retryOperation(ctx, s.retry, s.log, "s3 download", op); err != nil {
		os.Remove(localPath)
		return errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Download of s3://%s/%s failed", bucket, key), err)
	}
	return nil
}

// Upload sends a file, multipart above the threshold
func (s *S3) Upload(ctx context.Context, cfg adapter.Config, localPath, remotePath string, onProgress adapter.ProgressFunc) error {
	client, bucket, err := s.client(ctx, cfg)
	if err != nil {
		return err
	}
	key := s.buildKey(cfg, remotePath)

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
	fileSize := stat.Size()

	op := func() error {
		// Rewind for retry
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind %s: %w", localPath, err)
		}

		reader, cleanup, err := limitRate(adapter.NewProgressReader(file, fileSize, onProgress), cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		input := &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   reader,
		}

		if fileSize > multipartThreshold {
			uploader := manager.NewUploader(client, func(u *manager.Uploader) {
				u.PartSize = 10 * 1024 * 1024
				u.Concurrency = 10
				u.LeavePartsOnError = false
			})
			if _, err := uploader.Upload(ctx, input); err != nil {
				return fmt.Errorf("multipart upload to s3://%s/%s: %w", bucket, key, err)
			}
			return nil
		}

		if _, err := client.PutObject(ctx, input); err != nil {
			return fmt.Errorf("upload to s3://%s/%s: %w", bucket, key, err)
		}
		return nil
	}
	if err := retryOperation(ctx, s.retry, s.log, "s3 upload", op); err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Upload to s3://%s/%s failed", bucket, key), err)
	}
	return nil
}

// Delete removes an object. S3 treats deleting a missing key as success,
// which matches the contract.
func (s *S3) Delete(ctx context.Context, cfg adapter.Config, remotePath string) error {
	client, bucket, err := s.client(ctx, cfg)
	if err != nil {
		return err
	}
	key := s.buildKey(cfg, remotePath)

	if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Cannot delete s3://%s/%s", bucket, key), err)
	}
	return nil
}

// Test checks the bucket is reachable with the configured credentials
func (s *S3) Test(ctx context.Context, cfg adapter.Config) adapter.TestResult {
	client, bucket, err := s.client(ctx, cfg)
	if err != nil {
		return adapter.TestResult{Success: false, Message: err.Error()}
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	}); err != nil {
		return adapter.TestResult{Success: false,
			Message: fmt.Sprintf("bucket %s not accessible: %v", bucket, err)}
	}
	return adapter.TestResult{Success: true,
		Message: fmt.Sprintf("bucket %s is accessible", bucket)}
}

// ReadSidecar fetches a small object into memory without staging it
func (s *S3) ReadSidecar(ctx context.Context, cfg adapter.Config, remotePath string) ([]byte, error) {
	client, bucket, err := s.client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	key := s.buildKey(cfg, remotePath)

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.ArtifactNotFound(remotePath, cfg.ID)
		}
		return nil, errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot fetch s3://%s/%s", bucket, key), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, sidecarMaxBytes))
	if err != nil {
		return nil, errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot read s3://%s/%s", bucket, key), err)
	}
	return data, nil
}

// isNotFound spots the S3 missing-object responses
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NotFound") ||
		strings.Contains(msg, "NoSuchKey") ||
		strings.Contains(msg, "404")
}
