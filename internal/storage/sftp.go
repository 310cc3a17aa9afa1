package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/logger"
)

// SFTP serves artifacts from a remote host over SSH. Config params:
// endpoint (user@host:port, required), password, keyPath, keyPassphrase,
// knownHostsPath, insecure, prefix, bandwidthLimit. Connections are
// dialed per operation and closed when it finishes.
type SFTP struct {
	log   logger.Logger
	retry *RetryConfig
}

// NewSFTP creates the SFTP backend
func NewSFTP(log logger.Logger, retry *RetryConfig) *SFTP {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &SFTP{log: log, retry: retry}
}

// sftpSession carries everything needed to dial one configured server
type sftpSession struct {
	host      string
	sshConfig *ssh.ClientConfig
}

// session validates the config and builds the dial parameters. All
// config problems surface here, before any retry loop.
func (s *SFTP) session(cfg adapter.Config) (*sftpSession, error) {
	endpoint := cfg.Param("endpoint")
	if endpoint == "" {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("SFTP storage %q has no endpoint configured", cfg.ID),
			"Set the \"endpoint\" parameter to user@host:port")
	}

	user, host, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("Invalid SFTP endpoint on storage %q: %v", cfg.ID, err),
			"Use the form user@host:port")
	}

	methods, err := authMethods(cfg)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("SSH authentication for storage %q: %v", cfg.ID, err),
			"Set keyPath or password, or place a key under ~/.ssh")
	}

	callback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("Host key verification for storage %q: %v", cfg.ID, err), "")
	}

	return &sftpSession{
		host: host,
		sshConfig: &ssh.ClientConfig{
			User:            user,
			Auth:            methods,
			HostKeyCallback: callback,
			Timeout:         30 * time.Second,
		},
	}, nil
}

// run dials the server, hands fn the SFTP client, and tears the
// connection down afterwards
func (sess *sftpSession) run(fn func(client *sftp.Client) error) error {
	sshClient, err := ssh.Dial("tcp", sess.host, sess.sshConfig)
	if err != nil {
		return fmt.Errorf("SSH connection to %s failed: %w", sess.host, err)
	}
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("SFTP session on %s failed: %w", sess.host, err)
	}
	defer client.Close()

	return fn(client)
}

// parseEndpoint splits "user@host:port" into user and host:port,
// defaulting the port to 22
func parseEndpoint(endpoint string) (user, host string, err error) {
	parts := strings.SplitN(endpoint, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("endpoint %q must be user@host:port", endpoint)
	}
	user = parts[0]
	host = parts[1]

	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "22")
	}
	return user, host, nil
}

// authMethods builds the SSH auth chain: explicit key, then the default
// keys under ~/.ssh, then password
func authMethods(cfg adapter.Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	keyPath := cfg.Param("keyPath")
	if keyPath != "" {
		keyData, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read SSH key %s: %w", keyPath, err)
		}
		var signer ssh.Signer
		if passphrase := cfg.Param("keyPassphrase"); passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("parse SSH key %s: %w", keyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if keyPath == "" {
		home, err := os.UserHomeDir()
		if err == nil && home != "/" {
			for _, keyName := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
				keyData, err := os.ReadFile(filepath.Join(home, ".ssh", keyName))
				if err != nil {
					continue
				}
				signer, err := ssh.ParsePrivateKey(keyData)
				if err != nil {
					continue
				}
				methods = append(methods, ssh.PublicKeys(signer))
				break
			}
		}
	}

	if password := cfg.Param("password"); password != "" {
		methods = append(methods, ssh.Password(password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH key or password configured")
	}
	return methods, nil
}

// hostKeyCallback returns the host key verification for a config
func hostKeyCallback(cfg adapter.Config) (ssh.HostKeyCallback, error) {
	if cfg.Param("insecure") == "true" {
		return ssh.InsecureIgnoreHostKey(), nil // #nosec G106 - user-requested
	}

	knownHostsPath := cfg.Param("knownHostsPath")
	if knownHostsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "/" {
			home = "/root"
		}
		knownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}

	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("known_hosts file not found at %s (set knownHostsPath or insecure=true)", knownHostsPath)
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts %s: %w", knownHostsPath, err)
	}
	return callback, nil
}

// remotePath joins the configured prefix onto a path
func (s *SFTP) remotePath(cfg adapter.Config, p string) string {
	prefix := strings.TrimRight(cfg.Param("prefix"), "/")
	if prefix == "" {
		return p
	}
	return prefix + "/" + strings.TrimPrefix(p, "/")
}

// List returns the entries directly under dir
func (s *SFTP) List(ctx context.Context, cfg adapter.Config, dir string) ([]adapter.FileInfo, error) {
	sess, err := s.session(cfg)
	if err != nil {
		return nil, err
	}

	var infos []adapter.FileInfo
	err = sess.run(func(client *sftp.Client) error {
		listDir := s.remotePath(cfg, dir)
		if listDir == "" {
			listDir = "."
		}

		entries, err := client.ReadDir(listDir)
		if err != nil {
			return fmt.Errorf("list %s: %w", listDir, err)
		}
		for _, entry := range entries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			infos = append(infos, adapter.FileInfo{
				Path:    path.Join(dir, entry.Name()),
				Name:    entry.Name(),
				Size:    entry.Size(),
				ModTime: entry.ModTime(),
				IsDir:   entry.IsDir(),
			})
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
		return nil
	})
	if err != nil {
		return nil, errors.NewTransferError(errors.ErrCodeListFailed,
			fmt.Sprintf("Cannot list %s on storage %q", dir, cfg.ID), err)
	}
	return infos, nil
}

// Download fetches a remote file, redialing on retry
func (s *SFTP) Download(ctx context.Context, cfg adapter.Config, remotePath, localPath string, onProgress adapter.ProgressFunc) error {
	sess, err := s.session(cfg)
	if err != nil {
		return err
	}

	op := func() error {
		return sess.run(func(client *sftp.Client) error {
			filePath := s.remotePath(cfg, remotePath)

			remoteFile, err := client.Open(filePath)
			if err != nil {
				if os.IsNotExist(err) {
					return errors.ArtifactNotFound(remotePath, cfg.ID)
				}
				return fmt.Errorf("open remote %s: %w", filePath, err)
			}
			defer remoteFile.Close()

			stat, err := remoteFile.Stat()
			if err != nil {
				return fmt.Errorf("stat remote %s: %w", filePath, err)
			}

			if dir := filepath.Dir(localPath); dir != "." {
				if err := os.MkdirAll(dir, 0750); err != nil {
					return fmt.Errorf("create directory %s: %w", dir, err)
				}
			}
			outFile, err := os.Create(localPath)
			if err != nil {
				return fmt.Errorf("create %s: %w", localPath, err)
			}
			defer outFile.Close()

			reader, cleanup, err := limitRate(adapter.NewProgressReader(remoteFile, stat.Size(), onProgress), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := copyWithContext(ctx, outFile, reader); err != nil {
				return fmt.Errorf("copy %s: %w", filePath, err)
			}
			return outFile.Sync()
		})
	}
	if err := retryOperation(ctx, s.retry, s.log, "sftp download", op); err != nil {
		os.Remove(localPath)
		if re, ok := err.(*errors.RestoreError); ok {
			return re
		}
		return errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Download of %s from storage %q failed", remotePath, cfg.ID), err)
	}
	return nil
}

// Upload sends a local file, creating remote directories as needed
func (s *SFTP) Upload(ctx context.Context, cfg adapter.Config, localPath, remotePath string, onProgress adapter.ProgressFunc) error {
	sess, err := s.session(cfg)
	if err != nil {
		return err
	}

	op := func() error {
		return sess.run(func(client *sftp.Client) error {
			file, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("open %s: %w", localPath, err)
			}
			defer file.Close()

			stat, err := file.Stat()
			if err != nil {
				return fmt.Errorf("stat %s: %w", localPath, err)
			}

			filePath := s.remotePath(cfg, remotePath)
			if remoteDir := path.Dir(filePath); remoteDir != "." && remoteDir != "/" {
				if err := client.MkdirAll(remoteDir); err != nil {
					return fmt.Errorf("create remote directory %s: %w", remoteDir, err)
				}
			}

			remoteFile, err := client.Create(filePath)
			if err != nil {
				return fmt.Errorf("create remote %s: %w", filePath, err)
			}
			defer remoteFile.Close()

			reader, cleanup, err := limitRate(adapter.NewProgressReader(file, stat.Size(), onProgress), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := copyWithContext(ctx, remoteFile, reader); err != nil {
				return fmt.Errorf("copy to %s: %w", filePath, err)
			}
			return nil
		})
	}
	if err := retryOperation(ctx, s.retry, s.log, "sftp upload", op); err != nil {
		if re, ok := err.(*errors.RestoreError); ok {
			return re
		}
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Upload of %s to storage %q failed", remotePath, cfg.ID), err)
	}
	return nil
}

// Delete removes a remote file; a missing file counts as success
func (s *SFTP) Delete(ctx context.Context, cfg adapter.Config, remotePath string) error {
	sess, err := s.session(cfg)
	if err != nil {
		return err
	}

	err = sess.run(func(client *sftp.Client) error {
		filePath := s.remotePath(cfg, remotePath)
		if err := client.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", filePath, err)
		}
		return nil
	})
	if err != nil {
		return errors.NewTransferError(errors.ErrCodeUploadFailed,
			fmt.Sprintf("Cannot delete %s on storage %q", remotePath, cfg.ID), err)
	}
	return nil
}

// Test dials the server and lists the configured prefix
func (s *SFTP) Test(ctx context.Context, cfg adapter.Config) adapter.TestResult {
	sess, err := s.session(cfg)
	if err != nil {
		return adapter.TestResult{Success: false, Message: err.Error()}
	}

	err = sess.run(func(client *sftp.Client) error {
		dir := s.remotePath(cfg, "")
		if dir == "" {
			dir = "."
		}
		_, err := client.ReadDir(dir)
		return err
	})
	if err != nil {
		return adapter.TestResult{Success: false, Message: err.Error()}
	}
	return adapter.TestResult{Success: true,
		Message: fmt.Sprintf("connected to %s", cfg.Param("endpoint"))}
}

// ReadSidecar fetches a small remote file into memory
func (s *SFTP) ReadSidecar(ctx context.Context, cfg adapter.Config, remotePath string) ([]byte, error) {
	sess, err := s.session(cfg)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = sess.run(func(client *sftp.Client) error {
		filePath := s.remotePath(cfg, remotePath)
		remoteFile, err := client.Open(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return errors.ArtifactNotFound(remotePath, cfg.ID)
			}
			return fmt.Errorf("open remote %s: %w", filePath, err)
		}
		defer remoteFile.Close()

		data, err = io.ReadAll(io.LimitReader(remoteFile, sidecarMaxBytes))
		if err != nil {
			return fmt.Errorf("read remote %s: %w", filePath, err)
		}
		return nil
	})
	if err != nil {
		if re, ok := err.(*errors.RestoreError); ok {
			return nil, re
		}
		return nil, errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot fetch %s from storage %q", remotePath, cfg.ID), err)
	}
	return data, nil
}
