package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLineHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		runID   string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			runID:   "run-20240615T143045Z",
			level:   slog.LevelInfo,
			message: "artifact stored",
			want:    "2024-06-15T14:30:45Z\tINFO\trun-20240615T143045Z\tartifact stored\n",
		},
		{
			name:    "debug level",
			runID:   "evict-1",
			level:   slog.LevelDebug,
			message: "measuring backup dir",
			want:    "2024-06-15T14:30:45Z\tDEBUG\tevict-1\tmeasuring backup dir\n",
		},
		{
			name:    "with record attrs",
			runID:   "store-1",
			level:   slog.LevelWarn,
			message: "evicted",
			attrs:   []slog.Attr{slog.String("path", "/backup/photo.png"), slog.Int("size", 42)},
			want:    "2024-06-15T14:30:45Z\tWARN\tstore-1\tevicted\tpath=/backup/photo.png\tsize=42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newLineHandler(&buf, tt.runID, slog.LevelDebug)

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLineHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newLineHandler(&buf, "run-1", slog.LevelDebug)

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "relay")}).(*lineHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "delivered", 0)
	r.AddAttrs(slog.String("event", "history_update"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=relay") {
		t.Errorf("expected pre-set attr component=relay, got: %q", got)
	}
	if !strings.Contains(got, "event=history_update") {
		t.Errorf("expected record attr event=history_update, got: %q", got)
	}
}

func TestLineHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := newLineHandler(&buf, "run-1", slog.LevelDebug)
	h.attrs = []slog.Attr{slog.String("a", "1")}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*lineHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
	if h2.mu != h.mu {
		t.Error("derived handler must share the write lock")
	}
}

func TestLineHandler_Enabled(t *testing.T) {
	tests := []struct {
		name  string
		min   slog.Level
		level slog.Level
		want  bool
	}{
		{"debug hidden at info", slog.LevelInfo, slog.LevelDebug, false},
		{"info shown at info", slog.LevelInfo, slog.LevelInfo, true},
		{"error shown at info", slog.LevelInfo, slog.LevelError, true},
		{"debug shown at debug", slog.LevelDebug, slog.LevelDebug, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newLineHandler(&bytes.Buffer{}, "run", tt.min)
			if got := h.Enabled(context.Background(), tt.level); got != tt.want {
				t.Errorf("Enabled(%v) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestLineHandler_ConcurrentLines(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newLineHandler(&buf, "run", slog.LevelInfo))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("tick", "n", i)
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines, want 20", len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, "\tINFO\trun\ttick\tn=") {
			t.Errorf("interleaved line: %q", line)
		}
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-run", slog.LevelInfo)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	if logger == nil {
		t.Fatal("newLogger() returned nil logger")
	}
	logger.Info("hello")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "\ttest-run\thello") {
		t.Errorf("log file = %q, want the logged line", data)
	}
}
