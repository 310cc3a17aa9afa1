package restore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"dbvault/internal/compression"
	"dbvault/internal/crypto"
	"dbvault/internal/errors"
	"dbvault/internal/execution"
	"dbvault/internal/recovery"
	"dbvault/internal/scratch"
	"dbvault/internal/sidecar"
)

// Overall progress spans per stage. The restore itself dominates wall
// time on real artifacts, so it gets the widest band; the bands exist so
// the percentage keeps moving through every stage instead of sitting at
// zero until the engine starts loading.
const (
	spanDownloadEnd   = 40.0
	spanDecryptEnd    = 55.0
	spanDecompressEnd = 65.0
)

// run is the background pipeline for one accepted restore. It owns the
// execution record through its tracker from here to the terminal state;
// every failure path lands in tracker.Fail exactly once.
func (o *Orchestrator) run(ctx context.Context, exec *execution.Execution, in *pipelineInput) {
	tracker := execution.NewTracker(o.execs, exec, o.log)

	o.metrics.RestoreStarted()
	status := string(execution.StatusFailed)
	defer func() { o.metrics.RestoreFinished(status) }()

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("restore pipeline panicked",
				"execution", exec.ID, "panic", r, "stack", string(debug.Stack()))
			tracker.Fail(errors.NewInternalError(errors.ErrCodePanic,
				fmt.Sprintf("Restore pipeline panicked: %v", r), nil))
		}
	}()

	ws, err := o.scratch.Workspace(exec.ID, in.file)
	if err != nil {
		tracker.Fail(errors.NewInternalError(errors.ErrCodeInvalidState,
			"Cannot create scratch workspace", err))
		return
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			o.log.Warn("scratch workspace not fully removed",
				"execution", exec.ID, "error", err)
		}
	}()

	current, err := o.download(ctx, tracker, ws, in)
	if err != nil {
		tracker.Fail(err)
		return
	}

	if in.meta.Encrypted() {
		current, err = o.decrypt(ctx, tracker, ws, in, current)
		if err != nil {
			tracker.Fail(err)
			return
		}
	}

	composite := len(in.meta.Databases) > 1
	if !composite {
		current, err = o.decompress(ctx, tracker, ws, in, current)
		if err != nil {
			tracker.Fail(err)
			return
		}
	}

	if err := o.restoreDatabase(ctx, tracker, ws, in, current, composite); err != nil {
		tracker.Fail(err)
		return
	}

	status = string(execution.StatusSuccess)
	tracker.Succeed(fmt.Sprintf("Restore of %s completed", filepath.Base(in.file)))
	o.log.Info("restore completed", "execution", exec.ID, "file", in.file)
}

// download stages the artifact into the workspace
func (o *Orchestrator) download(ctx context.Context, tracker *execution.Tracker, ws *scratch.Workspace, in *pipelineInput) (string, error) {
	tracker.SetStage(execution.StageDownloading)
	tracker.Log(execution.LevelInfo, fmt.Sprintf("Downloading %s from storage", in.file))
	started := time.Now()

	dest := ws.ArtifactPath()
	onProgress := spanProgress(tracker, 0, spanDownloadEnd)
	if err := in.storage.Download(ctx, in.storageCfg, in.file, dest, onProgress); err != nil {
		return "", errors.NewTransferError(errors.ErrCodeDownloadFailed,
			fmt.Sprintf("Cannot download %s", in.file), err)
	}

	o.metrics.ObserveStage(string(execution.StageDownloading), time.Since(started))
	tracker.SetProgress(spanDownloadEnd)
	tracker.Log(execution.LevelInfo, "Download complete")
	return dest, nil
}

// decrypt resolves the key and streams the artifact through the
// authenticated decryptor. The ciphertext is deleted once the plaintext
// exists so scratch holds at most two copies at a time.
func (o *Orchestrator) decrypt(ctx context.Context, tracker *execution.Tracker, ws *scratch.Workspace, in *pipelineInput, current string) (string, error) {
	tracker.SetStage(execution.StageDecrypting)
	started := time.Now()

	// Parameter check comes first: without the IV and tag no key on
	// earth decrypts this artifact, so nothing else should even start.
	iv, tag, err := in.meta.DecryptionParams()
	if err != nil {
		return "", errors.MissingCryptoParams(in.file, err.Error())
	}

	algo, err := in.meta.CompressionAlgorithm()
	if err != nil {
		return "", errors.NewCompressionError(errors.ErrCodeUnsupportedCodec,
			fmt.Sprintf("Sidecar declares unsupported compression %q", in.meta.Compression), err)
	}

	key, err := o.resolveKey(tracker, current, iv, algo, in.meta.Encryption.ProfileID)
	if err != nil {
		return "", err
	}

	tracker.Log(execution.LevelInfo, "Decrypting artifact")
	plainPath := decryptedPath(ws, current)
	if err := o.decryptFile(ctx, current, plainPath, key, iv, tag); err != nil {
		return "", err
	}

	if err := ws.RemoveFile(current); err != nil {
		o.log.Warn("could not remove ciphertext after decryption",
			"path", current, "error", err)
	}

	o.metrics.ObserveStage(string(execution.StageDecrypting), time.Since(started))
	tracker.SetProgress(spanDecryptEnd)
	tracker.Log(execution.LevelInfo, "Decryption complete")
	return plainPath, nil
}

// resolveKey finds the decryption key by probing encryption profiles
// against the artifact's first kilobyte. The sidecar's declared profile
// is tried first; a stale or wrong declaration just means the search
// continues through the remaining profiles.
func (o *Orchestrator) resolveKey(tracker *execution.Tracker, artifactPath string, iv []byte, algo compression.Algorithm, declaredProfileID string) ([]byte, error) {
	prefix, err := recovery.ReadPrefix(artifactPath)
	if err != nil {
		return nil, errors.NewCryptoError(errors.ErrCodeDecryptFailed,
			fmt.Sprintf("Cannot read artifact prefix for key probing: %v", err), "")
	}

	stored := o.store.Profiles()
	profiles := make([]recovery.Profile, 0, len(stored))
	for _, p := range stored {
		material, err := o.keeper.Open(p.Material)
		if err != nil {
			o.log.Warn("encryption profile material unreadable, skipping",
				"profile", p.Name, "error", err)
			tracker.Log(execution.LevelWarning,
				fmt.Sprintf("Encryption profile %q skipped: key material unreadable", p.Name))
			continue
		}
		profiles = append(profiles, recovery.Profile{
			ID: p.ID, Name: p.Name, Material: []byte(material),
		})
	}

	if declaredProfileID != "" {
		tracker.Log(execution.LevelInfo,
			fmt.Sprintf("Trying declared encryption profile %s first", declaredProfileID))
	} else {
		tracker.Log(execution.LevelInfo,
			fmt.Sprintf("Sidecar names no encryption profile, probing %d candidate(s)", len(profiles)))
	}

	candidate, attempts, err := o.rec.Recover(prefix, iv, algo, profiles, declaredProfileID)
	for _, a := range attempts {
		if a.Accepted {
			tracker.Log(execution.LevelInfo,
				fmt.Sprintf("Encryption profile %q accepted: %s", a.ProfileName, a.Reason))
		} else {
			tracker.Log(execution.LevelInfo,
				fmt.Sprintf("Encryption profile %q rejected: %s", a.ProfileName, a.Reason))
		}
	}
	if err != nil {
		o.metrics.KeyRecovery("miss")
		return nil, err
	}

	o.metrics.KeyRecovery("hit")
	return candidate.Key, nil
}

func (o *Orchestrator) decryptFile(ctx context.Context, src, dst string, key, iv, tag []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return errors.NewCryptoError(errors.ErrCodeDecryptFailed,
			fmt.Sprintf("Cannot open ciphertext: %v", err), "")
	}
	defer func() { _ = f.Close() }()

	dec, err := crypto.NewDecryptor(f, key, iv, tag)
	if err != nil {
		return errors.NewCryptoError(errors.ErrCodeDecryptFailed,
			fmt.Sprintf("Cannot initialize decryption: %v", err), "")
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.NewCryptoError(errors.ErrCodeDecryptFailed,
			fmt.Sprintf("Cannot create plaintext file: %v", err), "")
	}

	if _, err := io.Copy(out, dec); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return errors.NewCryptoError(errors.ErrCodeDecryptFailed,
			fmt.Sprintf("Decryption failed: %v", err),
			"The artifact may be corrupt or was encrypted with different parameters than the sidecar records.")
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return errors.NewCryptoError(errors.ErrCodeDecryptFailed,
			fmt.Sprintf("Writing plaintext failed: %v", err), "")
	}
	return nil
}

// decryptedPath strips the .enc marker; an artifact without one gets a
// .dec suffix so source and destination never collide.
func decryptedPath(ws *scratch.Workspace, current string) string {
	base := filepath.Base(current)
	lower := strings.ToLower(base)
	if strings.HasSuffix(lower, sidecar.EncryptedSuffix) {
		return ws.Path(base[:len(base)-len(sidecar.EncryptedSuffix)])
	}
	return ws.Path(base + ".dec")
}

// decompress unwraps single-database artifacts. Composite archives skip
// this stage: their tar.gz wrapper is opened by the archive handler
// during the restore stage instead.
func (o *Orchestrator) decompress(ctx context.Context, tracker *execution.Tracker, ws *scratch.Workspace, in *pipelineInput, current string) (string, error) {
	algo, err := in.meta.CompressionAlgorithm()
	if err != nil {
		return "", errors.NewCompressionError(errors.ErrCodeUnsupportedCodec,
			fmt.Sprintf("Sidecar declares unsupported compression %q", in.meta.Compression), err)
	}
	if in.meta.Derived {
		// Without a sidecar the codec comes from the filename chain
		algo = compression.DetectAlgorithm(current)
	}
	if algo == compression.AlgorithmNone {
		return current, nil
	}

	tracker.SetStage(execution.StageDecompressing)
	tracker.Log(execution.LevelInfo, fmt.Sprintf("Decompressing artifact (%s)", algo))
	started := time.Now()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.Open(current)
	if err != nil {
		return "", errors.NewCompressionError(errors.ErrCodeCorruptStream,
			"Cannot open compressed artifact", err)
	}
	defer func() { _ = f.Close() }()

	dec, err := compression.NewDecompressorWithAlgorithm(f, algo)
	if err != nil {
		return "", errors.NewCompressionError(errors.ErrCodeCorruptStream,
			fmt.Sprintf("Cannot open %s stream", algo), err)
	}
	defer func() { _ = dec.Close() }()

	plainPath := ws.Path(compression.StripExtension(filepath.Base(current)))
	if plainPath == current {
		plainPath = current + ".raw"
	}
	out, err := os.OpenFile(plainPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", errors.NewCompressionError(errors.ErrCodeCorruptStream,
			"Cannot create decompressed file", err)
	}
	if _, err := io.Copy(out, dec.Reader); err != nil {
		_ = out.Close()
		_ = os.Remove(plainPath)
		return "", errors.NewCompressionError(errors.ErrCodeCorruptStream,
			fmt.Sprintf("Decompression failed: %v", err), err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(plainPath)
		return "", errors.NewCompressionError(errors.ErrCodeCorruptStream,
			"Writing decompressed file failed", err)
	}

	if err := ws.RemoveFile(current); err != nil {
		o.log.Warn("could not remove compressed artifact after decompression",
			"path", current, "error", err)
	}

	o.metrics.ObserveStage(string(execution.StageDecompressing), time.Since(started))
	tracker.SetProgress(spanDecompressEnd)
	tracker.Log(execution.LevelInfo, "Decompression complete")
	return plainPath, nil
}

// restoreDatabase hands the prepared artifact to the database adapter,
// or to the archive handler for composite multi-database artifacts.
func (o *Orchestrator) restoreDatabase(ctx context.Context, tracker *execution.Tracker, ws *scratch.Workspace, in *pipelineInput, current string, composite bool) error {
	tracker.SetStage(execution.StageRestoringDatabase)
	tracker.SetProgress(spanDecompressEnd)
	started := time.Now()

	cfg := in.overrides.Apply(in.dbCfg)
	onLog := newRelay(tracker)
	onProgress := spanProgress(tracker, spanDecompressEnd, 100)

	var err error
	if composite {
		tracker.Log(execution.LevelInfo,
			fmt.Sprintf("Restoring composite artifact with %d database(s)", len(in.meta.Databases)))
		err = o.arch.Restore(ctx, in.db, cfg, in.overrides, current, ws.Dir(), onLog, onProgress)
	} else {
		tracker.Log(execution.LevelInfo, "Restoring database from artifact")
		err = in.db.Restore(ctx, cfg, current, onLog, onProgress)
	}
	if err != nil {
		return err
	}

	o.metrics.ObserveStage(string(execution.StageRestoringDatabase), time.Since(started))
	return nil
}

// spanProgress maps an adapter's done/total callback onto one band of
// the overall percentage. Backends that cannot report a total leave the
// percentage parked at the band's start.
func spanProgress(tracker *execution.Tracker, lo, hi float64) func(done, total int64) {
	return func(done, total int64) {
		if pct, ok := bandProgress(done, total, lo, hi); ok {
			tracker.SetProgress(pct)
		}
	}
}

func bandProgress(done, total int64, lo, hi float64) (float64, bool) {
	if total <= 0 {
		return 0, false
	}
	frac := float64(done) / float64(total)
	if frac > 1 {
		frac = 1
	}
	return lo + frac*(hi-lo), true
}
