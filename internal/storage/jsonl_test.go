package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJSONLWriterFlushesOnClose(t *testing.T) {
	base := t.TempDir()
	w := NewJSONLWriter(quietLogger(), base, "events", "run-1", 64, 1)
	w.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }

	for i := 1; i <= 10; i++ {
		if err := w.Write(map[string]int{"frame": i}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	path := filepath.Join(base, "2024-03-09", "events", "run-1.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = f.Close() }()

	var frames []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]int
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("json.Unmarshal() error = %v", err)
		}
		frames = append(frames, rec["frame"])
	}
	if len(frames) != 10 || frames[0] != 1 || frames[9] != 10 {
		t.Fatalf("frames = %v; want 1..10 in order", frames)
	}
	if w.Path() != path {
		t.Fatalf("Path() = %q; want %q", w.Path(), path)
	}
}

func TestJSONLWriterRejectsAfterClose(t *testing.T) {
	w := NewJSONLWriter(quietLogger(), t.TempDir(), "events", "", 1, 1)
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := w.Write("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write() error = %v; want ErrClosed", err)
	}
	if w.Path() != "" {
		t.Fatalf("Path() = %q; want empty without records", w.Path())
	}
}
