package dbms

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"dbvault/internal/logger"
)

// --- helpers ---

func testRunner() toolRunner {
	return toolRunner{log: logger.NewNullLogger()}
}

// lineCollector gathers relayed output lines. The runner relays stdout
// and stderr from separate goroutines, so collection must lock.
type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *lineCollector) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

func requireSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
}

// ---
// Tool runner

func TestRunToolRelaysBothStreams(t *testing.T) {
	requireSh(t)

	var got lineCollector
	err := testRunner().run(context.Background(), toolCmd{
		name: "sh",
		args: []string{"-c", "echo from-stdout; echo from-stderr 1>&2"},
	}, got.add)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	out := got.joined()
	if !strings.Contains(out, "from-stdout") {
		t.Errorf("stdout line not relayed, got %q", out)
	}
	if !strings.Contains(out, "from-stderr") {
		t.Errorf("stderr line not relayed, got %q", out)
	}
}

func TestRunToolNonZeroExitCarriesLastError(t *testing.T) {
	requireSh(t)

	err := testRunner().run(context.Background(), toolCmd{
		name: "sh",
		args: []string{"-c", `echo "ERROR: out of disk" 1>&2; exit 3`},
	}, nil)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "code 3") {
		t.Errorf("error should carry the exit code, got %q", err)
	}
	if !strings.Contains(err.Error(), "ERROR: out of disk") {
		t.Errorf("error should carry the tool's last error line, got %q", err)
	}
}

func TestRunToolStdinAndStdoutCapture(t *testing.T) {
	requireSh(t)

	var out bytes.Buffer
	err := testRunner().run(context.Background(), toolCmd{
		name:   "cat",
		stdin:  strings.NewReader("piped payload"),
		stdout: &out,
	}, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.String() != "piped payload" {
		t.Errorf("captured stdout = %q, want %q", out.String(), "piped payload")
	}
}

func TestRunToolMissingBinary(t *testing.T) {
	err := testRunner().run(context.Background(), toolCmd{
		name: "no-such-engine-tool-xyz",
	}, nil)
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestRunToolCanceledContext(t *testing.T) {
	requireSh(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := testRunner().run(ctx, toolCmd{
		name: "sh",
		args: []string{"-c", "sleep 30"},
	}, nil)
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if !strings.Contains(err.Error(), "interrupted") {
		t.Errorf("error should report the interruption, got %q", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v, process was not killed", elapsed)
	}
}

// ---
// Error line detection

func TestIsErrorLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"ERROR:  relation \"users\" already exists", true},
		{"FATAL:  password authentication failed for user \"app\"", true},
		{"pg_restore: error: could not execute query", true},
		{"psql: error: connection to server failed", true},
		{"ERROR 1045 (28000): Access denied for user 'root'@'localhost'", true},
		{"  ERROR 1049 (42000) at line 22: Unknown database", true},
		{"mysqldump: Got error: 1044: Access denied", true},
		{"SET", false},
		{"COPY 4242", false},
		{"NOTICE:  table \"users\" does not exist, skipping", false},
		{"Warning: Using a password on the command line", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isErrorLine(tt.line); got != tt.want {
			t.Errorf("isErrorLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

// ---
// Format detection

func TestDetectFormat(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, content []byte) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, content, 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	tests := []struct {
		name    string
		content []byte
		want    archiveFormat
	}{
		{"custom archive", append([]byte("PGDMP"), 0x01, 0x0e, 0x00), formatPGCustom},
		{"plain sql", []byte("--\n-- PostgreSQL database dump\nCREATE TABLE t ();\n"), formatPlainSQL},
		{"mysql script", []byte("-- MySQL dump 10.13\nCREATE TABLE t (id int);\n"), formatPlainSQL},
		{"shorter than magic", []byte("hi"), formatPlainSQL},
		{"empty file", nil, formatPlainSQL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := write(strings.ReplaceAll(tt.name, " ", "_"), tt.content)
			got, err := detectFormat(path)
			if err != nil {
				t.Fatalf("detectFormat failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("format = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectFormatMissingFile(t *testing.T) {
	if _, err := detectFormat(filepath.Join(t.TempDir(), "absent.dump")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
