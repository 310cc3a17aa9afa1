// Package storage implements the storage backends artifacts are fetched
// from: local filesystem, S3-compatible object stores, SFTP servers, and
// Google Drive. Every backend is stateless; the adapter config travels
// with each call so one registry entry serves any number of configured
// instances.
package storage

import (
	"context"
	"fmt"
	"io"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/throttle"
)

// sidecarMaxBytes bounds in-memory sidecar fetches. Sidecars are small
// JSON documents; anything bigger is not a sidecar.
const sidecarMaxBytes = 1 << 20

// copyWithContext copies src to dst, checking for cancellation between
// chunks so a dead restore does not keep a transfer alive.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			w, writeErr := dst.Write(buf[:n])
			written += int64(w)
			if writeErr != nil {
				return written, writeErr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// limitRate wraps r with a token-bucket bandwidth limiter when the
// config carries a "bandwidthLimit" parameter ("10MB/s", "500KB/s").
// The returned cleanup must run after the transfer finishes.
func limitRate(r io.Reader, cfg adapter.Config) (io.Reader, func(), error) {
	spec := cfg.Param("bandwidthLimit")
	if spec == "" {
		return r, func() {}, nil
	}

	rate, err := throttle.ParseRate(spec)
	if err != nil {
		return nil, nil, errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("Invalid bandwidthLimit %q on storage %q", spec, cfg.ID),
			"Use a rate like \"10MB/s\" or \"500KB/s\"")
	}
	if rate <= 0 {
		return r, func() {}, nil
	}

	tr := throttle.NewReader(r, rate)
	return tr, func() { tr.Close() }, nil
}

// Interface conformance
var (
	_ adapter.Storage       = (*Local)(nil)
	_ adapter.Storage       = (*S3)(nil)
	_ adapter.Storage       = (*SFTP)(nil)
	_ adapter.Storage       = (*GDrive)(nil)
	_ adapter.SidecarReader = (*Local)(nil)
	_ adapter.SidecarReader = (*S3)(nil)
	_ adapter.SidecarReader = (*SFTP)(nil)
	_ adapter.SidecarReader = (*GDrive)(nil)
)
