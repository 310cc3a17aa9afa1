package adapter

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestProgressReaderReports(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)

	var lastDone, lastTotal int64
	var calls int
	reader := NewProgressReader(bytes.NewReader(data), int64(len(data)), func(done, total int64) {
		lastDone = done
		lastTotal = total
		calls++
	})

	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("data corrupted through progress reader")
	}
	if calls == 0 {
		t.Fatal("progress callback never invoked")
	}
	if lastDone != int64(len(data)) {
		t.Errorf("final done = %d, want %d", lastDone, len(data))
	}
	if lastTotal != int64(len(data)) {
		t.Errorf("total = %d, want %d", lastTotal, len(data))
	}
}

func TestProgressReaderNilCallback(t *testing.T) {
	src := strings.NewReader("payload")
	if got := NewProgressReader(src, 7, nil); got != src {
		t.Error("nil callback should return the source reader unwrapped")
	}
}

func TestProgressWriterReports(t *testing.T) {
	var dst bytes.Buffer

	var lastDone, lastTotal int64
	w := NewProgressWriter(&dst, -1, func(done, total int64) {
		lastDone = done
		lastTotal = total
	})

	if _, err := w.Write([]byte("hello ")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := w.Write([]byte("world")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if dst.String() != "hello world" {
		t.Errorf("written = %q, want %q", dst.String(), "hello world")
	}
	if lastDone != 11 {
		t.Errorf("final done = %d, want 11", lastDone)
	}
	if lastTotal != -1 {
		t.Errorf("total = %d, want -1", lastTotal)
	}
}

func TestProgressWriterNilCallback(t *testing.T) {
	var dst bytes.Buffer
	if got := NewProgressWriter(&dst, 0, nil); got != &dst {
		t.Error("nil callback should return the destination writer unwrapped")
	}
}
