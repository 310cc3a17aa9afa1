package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/logger"
)

func localConfig(base string) adapter.Config {
	return adapter.Config{
		ID:      "disk-main",
		Kind:    adapter.KindStorage,
		Adapter: "local",
		Params:  map[string]string{"path": base},
	}
}

// ---
// Round trip

func TestLocalUploadDownloadRoundTrip(t *testing.T) {
	base := t.TempDir()
	work := t.TempDir()
	backend := NewLocal(logger.NewNullLogger())
	cfg := localConfig(base)
	ctx := context.Background()

	content := []byte("-- PostgreSQL database dump\nCREATE TABLE users (id serial);\n")
	src := filepath.Join(work, "db.sql")
	if err := os.WriteFile(src, content, 0644); err != nil {
		t.Fatal(err)
	}

	if err := backend.Upload(ctx, cfg, src, "backups/db.sql", nil); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "backups", "db.sql")); err != nil {
		t.Fatalf("uploaded file not on disk: %v", err)
	}

	var lastDone, lastTotal int64
	dst := filepath.Join(work, "restored.sql")
	if err := backend.Download(ctx, cfg, "backups/db.sql", dst, func(done, total int64) {
		lastDone, lastTotal = done, total
	}); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Error("downloaded content does not match uploaded content")
	}
	if lastDone != int64(len(content)) || lastTotal != int64(len(content)) {
		t.Errorf("progress = %d/%d, want %d/%d", lastDone, lastTotal, len(content), len(content))
	}
}

// ---
// Listing

func TestLocalList(t *testing.T) {
	base := t.TempDir()
	for _, name := range []string{"b.dump", "a.dump"} {
		if err := os.WriteFile(filepath.Join(base, name), []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(base, "archive"), 0755); err != nil {
		t.Fatal(err)
	}

	backend := NewLocal(logger.NewNullLogger())
	infos, err := backend.List(context.Background(), localConfig(base), "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(infos) != 3 {
		t.Fatalf("len(infos) = %d, want 3", len(infos))
	}
	wantNames := []string{"a.dump", "archive", "b.dump"}
	for i, want := range wantNames {
		if infos[i].Name != want {
			t.Errorf("infos[%d].Name = %q, want %q", i, infos[i].Name, want)
		}
	}
	if !infos[1].IsDir {
		t.Error("archive should be reported as a directory")
	}
	if infos[0].Size != 4 {
		t.Errorf("a.dump size = %d, want 4", infos[0].Size)
	}
}

func TestLocalListMissingDir(t *testing.T) {
	backend := NewLocal(logger.NewNullLogger())
	cfg := localConfig(filepath.Join(t.TempDir(), "gone"))

	_, err := backend.List(context.Background(), cfg, "")
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
	if errors.GetCode(err) != errors.ErrCodeListFailed {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.ErrCodeListFailed)
	}
}

// ---
// Error paths

func TestLocalDownloadMissingArtifact(t *testing.T) {
	backend := NewLocal(logger.NewNullLogger())
	cfg := localConfig(t.TempDir())

	err := backend.Download(context.Background(), cfg, "nope.dump", filepath.Join(t.TempDir(), "out"), nil)
	if err == nil {
		t.Fatal("expected error for missing artifact")
	}
	if errors.GetCode(err) != errors.ErrCodeArtifactNotFound {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.ErrCodeArtifactNotFound)
	}
}

func TestLocalMissingPathParam(t *testing.T) {
	backend := NewLocal(logger.NewNullLogger())
	cfg := adapter.Config{ID: "disk-main", Params: map[string]string{}}

	_, err := backend.List(context.Background(), cfg, "")
	if err == nil {
		t.Fatal("expected error for missing path param")
	}
	if errors.GetCode(err) != errors.ErrCodeInvalidConfig {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.ErrCodeInvalidConfig)
	}
}

func TestLocalPathTraversalRejected(t *testing.T) {
	backend := NewLocal(logger.NewNullLogger())
	cfg := localConfig(t.TempDir())
	ctx := context.Background()

	for _, remote := range []string{"../outside.txt", "a/../../outside.txt"} {
		t.Run(remote, func(t *testing.T) {
			err := backend.Download(ctx, cfg, remote, filepath.Join(t.TempDir(), "out"), nil)
			if err == nil {
				t.Fatal("expected traversal to be rejected")
			}
			if errors.GetCode(err) != errors.ErrCodeInvalidConfig {
				t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.ErrCodeInvalidConfig)
			}
		})
	}
}

// ---
// Delete

func TestLocalDeleteIdempotent(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "old.dump")
	if err := os.WriteFile(target, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	backend := NewLocal(logger.NewNullLogger())
	cfg := localConfig(base)
	ctx := context.Background()

	if err := backend.Delete(ctx, cfg, "old.dump"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("file still exists after delete")
	}

	// Second delete of the same path must succeed
	if err := backend.Delete(ctx, cfg, "old.dump"); err != nil {
		t.Errorf("repeat Delete failed: %v", err)
	}
}

// ---
// Connectivity probe

func TestLocalTest(t *testing.T) {
	backend := NewLocal(logger.NewNullLogger())

	result := backend.Test(context.Background(), localConfig(t.TempDir()))
	if !result.Success {
		t.Errorf("Test on existing dir failed: %s", result.Message)
	}

	result = backend.Test(context.Background(), localConfig(filepath.Join(t.TempDir(), "gone")))
	if result.Success {
		t.Error("Test on missing dir should fail")
	}

	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	result = backend.Test(context.Background(), localConfig(file))
	if result.Success {
		t.Error("Test on a regular file should fail")
	}
}

// ---
// Sidecar capability

func TestLocalReadSidecar(t *testing.T) {
	base := t.TempDir()
	sidecarData := []byte(`{"sourceType":"postgres","databases":["app"]}`)
	if err := os.WriteFile(filepath.Join(base, "db.dump.meta.json"), sidecarData, 0644); err != nil {
		t.Fatal(err)
	}

	backend := NewLocal(logger.NewNullLogger())
	cfg := localConfig(base)

	got, err := backend.ReadSidecar(context.Background(), cfg, "db.dump.meta.json")
	if err != nil {
		t.Fatalf("ReadSidecar failed: %v", err)
	}
	if string(got) != string(sidecarData) {
		t.Error("sidecar content does not match")
	}

	_, err = backend.ReadSidecar(context.Background(), cfg, "missing.meta.json")
	if errors.GetCode(err) != errors.ErrCodeArtifactNotFound {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.ErrCodeArtifactNotFound)
	}
}

// ---
// Interface conformance

func TestLocalSatisfiesCapabilities(t *testing.T) {
	var st adapter.Storage = NewLocal(logger.NewNullLogger())
	if _, ok := st.(adapter.SidecarReader); !ok {
		t.Error("Local should implement SidecarReader")
	}
}
