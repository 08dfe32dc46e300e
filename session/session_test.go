package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"autocapture/capture"
	"autocapture/storage"
)

func memStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.MemoryPath, zap.NewNop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitForCount(t *testing.T, store storage.Store, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.Count(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("store did not reach %d photos", n)
}

func TestStartWritesOnePhotoPerInterval(t *testing.T) {
	ctx := context.Background()
	store := memStore(t)
	s := New(store, capture.NewSynthetic(8, 8, nil), Config{
		Constraints: capture.DefaultConstraints(),
		Interval:    200 * time.Millisecond,
	}, zap.NewNop())

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != Active {
		t.Fatalf("state %s, want active", s.State())
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Fatalf("%d photos before the first interval elapsed", n)
	}

	waitForCount(t, store, 1)
	s.Stop()

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("got %d photos after one interval, want 1", n)
	}
}

func TestStartCameraDenied(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	store := memStore(t)
	s := New(store, &capture.Synthetic{Width: 8, Height: 8, Deny: true}, Config{
		Interval: 5 * time.Millisecond,
	}, zap.New(core))

	err := s.Start(ctx)
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Start: got %v, want ErrPermissionDenied", err)
	}
	if s.State() != Failed {
		t.Errorf("state %s, want failed", s.State())
	}
	if s.Stream() != nil {
		t.Error("failed session holds a stream")
	}

	time.Sleep(30 * time.Millisecond)
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("store unreachable: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d photos without a camera", n)
	}
	if got := logs.Len(); got != 1 {
		t.Errorf("got %d log entries, want 1: %v", got, logs.All())
	}
	if got := logs.FilterLevelExact(zapcore.ErrorLevel).Len(); got != 1 {
		t.Errorf("got %d error log entries, want 1", got)
	}
}

func TestStopHaltsCaptureAndEndsTracks(t *testing.T) {
	ctx := context.Background()
	store := memStore(t)
	s := New(store, capture.NewSynthetic(8, 8, nil), Config{Interval: 5 * time.Millisecond}, zap.NewNop())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	stream := s.Stream()
	waitForCount(t, store, 2)

	s.Stop()
	if s.State() != Stopped {
		t.Errorf("state %s, want stopped", s.State())
	}
	for _, tr := range stream.Tracks() {
		if tr.State() != capture.TrackEnded {
			t.Errorf("track %s still %s", tr.ID, tr.State())
		}
	}

	before, _ := store.Count(ctx)
	time.Sleep(30 * time.Millisecond)
	after, _ := store.Count(ctx)
	if after != before {
		t.Errorf("photos written after Stop: %d -> %d", before, after)
	}

	s.Stop()
	if err := s.Start(ctx); !errors.Is(err, ErrStopped) {
		t.Errorf("restart: got %v, want ErrStopped", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := New(memStore(t), capture.NewSynthetic(4, 4, nil), Config{}, zap.NewNop())
	s.Stop()
	if s.State() != Stopped {
		t.Errorf("state %s, want stopped", s.State())
	}
}

func TestDoubleStart(t *testing.T) {
	s := New(memStore(t), capture.NewSynthetic(4, 4, nil), Config{Interval: time.Hour}, zap.NewNop())
	defer s.Stop()
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrStarted) {
		t.Errorf("second Start: got %v, want ErrStarted", err)
	}
}

func TestCloseReleasesStore(t *testing.T) {
	ctx := context.Background()
	inner := memStore(t)
	h := storage.Ready(inner)
	s := New(h, capture.NewSynthetic(4, 4, nil), Config{Interval: time.Hour}, zap.NewNop())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	stream := s.Stream()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !capture.Ended(stream) {
		t.Error("stream still live after Close")
	}
	if _, err := h.Count(ctx); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("store after Close: got %v, want ErrClosed", err)
	}
}

func TestSamplerBeforeStoreOpen(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	release := make(chan struct{})
	h := storage.OpenAsyncWith(func() (storage.Store, error) {
		<-release
		return storage.Open(ctx, storage.MemoryPath, zap.NewNop())
	}, zap.NewNop())
	defer h.Close()

	s := New(h, capture.NewSynthetic(4, 4, nil), Config{Interval: 5 * time.Millisecond}, zap.New(core))
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessage("capture failed").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no failed capture logged while the store was opening")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, failed := s.Stats(); failed == 0 {
		t.Error("expected failed ticks while the store was opening")
	}

	close(release)
	if _, err := h.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	waitForCount(t, h, 1)
	s.Stop()
}

func TestStreamEndMarksSessionFailed(t *testing.T) {
	s := New(memStore(t), capture.NewSynthetic(4, 4, nil), Config{Interval: 5 * time.Millisecond}, zap.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	capture.StopAll(s.Stream())

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != Failed {
		if time.Now().After(deadline) {
			t.Fatalf("state %s after the stream ended, want failed", s.State())
		}
		time.Sleep(2 * time.Millisecond)
	}

	s.Stop()
	if s.State() != Stopped {
		t.Errorf("state %s after Stop, want stopped", s.State())
	}
}
