package archive

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"

	"dbvault/internal/logger"
)

func writeTarGz(t *testing.T, path string, headers []tar.Header, contents map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	gz := pgzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for i := range headers {
		h := headers[i]
		body := contents[h.Name]
		h.Size = int64(len(body))
		if err := tw.WriteHeader(&h); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if len(body) > 0 {
			if _, err := tw.Write(body); err != nil {
				t.Fatalf("Write: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "x.tar.gz")
	writeTarGz(t, archivePath,
		[]tar.Header{
			{Name: "sub/", Typeflag: tar.TypeDir, Mode: 0755},
			{Name: "sub/a.sql", Typeflag: tar.TypeReg, Mode: 0644},
			{Name: "b.sql", Typeflag: tar.TypeReg, Mode: 0644},
		},
		map[string][]byte{
			"sub/a.sql": []byte("select 1;"),
			"b.sql":     []byte("select 2;"),
		})

	dest := filepath.Join(dir, "out")
	if err := ExtractTarGz(context.Background(), archivePath, dest, logger.NewSilent()); err != nil {
		t.Fatalf("ExtractTarGz: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "sub", "a.sql"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "select 1;" {
		t.Errorf("extracted content = %q", got)
	}
}

func TestExtractBlocksTraversal(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.tar.gz")
	writeTarGz(t, archivePath,
		[]tar.Header{
			{Name: "../escape.sql", Typeflag: tar.TypeReg, Mode: 0644},
			{Name: "ok.sql", Typeflag: tar.TypeReg, Mode: 0644},
		},
		map[string][]byte{
			"../escape.sql": []byte("evil"),
			"ok.sql":        []byte("fine"),
		})

	dest := filepath.Join(dir, "out")
	if err := ExtractTarGz(context.Background(), archivePath, dest, logger.NewSilent()); err != nil {
		t.Fatalf("ExtractTarGz: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "escape.sql")); !os.IsNotExist(err) {
		t.Error("traversal entry escaped the extraction directory")
	}
	if _, err := os.Stat(filepath.Join(dest, "ok.sql")); err != nil {
		t.Errorf("benign entry missing after extraction: %v", err)
	}
}

func TestValidateTarPath(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		wantErr bool
	}{
		{"plain file", "a.sql", false},
		{"nested file", "sub/dir/a.sql", false},
		{"dot segment collapsing inside", "sub/../a.sql", false},
		{"parent escape", "../a.sql", true},
		{"deep escape", "sub/../../a.sql", true},
		{"absolute path", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTarPath(tt.entry, "/scratch/extract")
			if (err != nil) != tt.wantErr {
				t.Errorf("validateTarPath(%q) error = %v, wantErr %v", tt.entry, err, tt.wantErr)
			}
		})
	}
}
