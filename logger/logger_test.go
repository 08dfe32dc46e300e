package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewWithWriterEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter("info", &buf)
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}
	l.Logger.Debug("hidden")
	l.Logger.Info("photo saved", zap.Int64("id", 42))
	Flush(l.Logger)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["level"] != "INFO" {
		t.Errorf("level: got %v, want INFO", entry["level"])
	}
	if entry["msg"] != "photo saved" {
		t.Errorf("msg: got %v", entry["msg"])
	}
	if entry["id"] != float64(42) {
		t.Errorf("id: got %v, want 42", entry["id"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("missing ts key")
	}
}

func TestContextRoundTrip(t *testing.T) {
	fallback := zap.NewNop()
	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Error("empty context should return fallback")
	}

	l := WithRequestID(zap.NewExample(), "abc")
	ctx := WithContext(context.Background(), l)
	if got := FromContext(ctx, fallback); got != l {
		t.Error("expected stored logger")
	}
}

func TestNewFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autocapture.log")
	for i := 0; i < 2; i++ {
		l, closeFn, err := NewFile("info", path)
		if err != nil {
			t.Fatalf("NewFile: %v", err)
		}
		l.Infow("camera started", "run", i)
		if err := closeFn(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %s", len(lines), data)
	}
	if !strings.Contains(lines[1], `"run":1`) {
		t.Errorf("second line %s", lines[1])
	}
}

func TestNewFileBadPath(t *testing.T) {
	if _, _, err := NewFile("info", filepath.Join(t.TempDir(), "missing", "x.log")); err == nil {
		t.Fatal("expected error for a missing directory")
	}
}
