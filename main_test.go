package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"autocapture/capture"
	"autocapture/config"
	"autocapture/export"
	"autocapture/session"
	"autocapture/storage"
)

func TestNewSource(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{"synthetic", "*capture.Synthetic"},
		{"http", "*capture.HTTPSnapshot"},
		{"command", "*capture.Command"},
	}
	for _, tt := range tests {
		cfg := &config.Config{Source: config.SourceConfig{Kind: tt.kind, Width: 4, Height: 4, URL: "http://cam", Command: "cat"}}
		src, err := newSource(cfg, zap.NewNop())
		if err != nil {
			t.Fatalf("%s: %v", tt.kind, err)
		}
		if got := fmt.Sprintf("%T", src); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.kind, got, tt.want)
		}
	}

	if _, err := newSource(&config.Config{Source: config.SourceConfig{Kind: "v4l"}}, zap.NewNop()); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestExportTargets(t *testing.T) {
	if got := exportTargets(&config.Config{}); len(got) != 0 {
		t.Errorf("got %d targets with nothing configured", len(got))
	}
	cfg := &config.Config{
		Export: config.ExportConfig{Dir: "/tmp/exports"},
		SFTP:   config.SFTPConfig{Addr: "nas:22", User: "cam", KeyPath: "/k", RemoteDir: "/photos"},
	}
	got := exportTargets(cfg)
	if len(got) != 2 {
		t.Fatalf("got %d targets, want 2", len(got))
	}
	if d, ok := got[0].(export.Dir); !ok || d.Path != "/tmp/exports" {
		t.Errorf("first target %#v", got[0])
	}
	if s, ok := got[1].(*export.SFTP); !ok || s.RemoteDir != "/photos" {
		t.Errorf("second target %#v", got[1])
	}
}

func TestStartSessionCameraDeniedLogsOnce(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	store, err := storage.Open(ctx, storage.MemoryPath, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	sess := session.New(store, &capture.Synthetic{Width: 8, Height: 8, Deny: true},
		session.Config{Interval: 5 * time.Millisecond}, zap.New(core))
	if err := startSession(ctx, sess); err != nil {
		t.Fatalf("startSession: %v", err)
	}
	if sess.State() != session.Failed {
		t.Errorf("state %s, want failed", sess.State())
	}

	time.Sleep(20 * time.Millisecond)
	if got := logs.Len(); got != 1 {
		t.Fatalf("got %d log entries, want exactly 1: %v", got, logs.All())
	}
	entry := logs.All()[0]
	if entry.Level != zapcore.ErrorLevel || entry.Message != "camera access failed" {
		t.Errorf("entry %s %q", entry.Level, entry.Message)
	}
}

func TestStartSessionAfterStop(t *testing.T) {
	store, err := storage.Open(context.Background(), storage.MemoryPath, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	sess := session.New(store, capture.NewSynthetic(4, 4, nil), session.Config{}, zap.NewNop())
	sess.Stop()
	if err := startSession(context.Background(), sess); !errors.Is(err, session.ErrStopped) {
		t.Errorf("got %v, want ErrStopped", err)
	}
}

func TestNewLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autocapture.log")
	log, closeLog, err := newLogger(&config.Config{LogLevel: "info", LogFile: path})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Logger.Info("photo saved", zap.Int64("id", 1))
	if err := closeLog(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"photo saved"`) {
		t.Errorf("log file %s", data)
	}
}
