// Package session owns one capture session: the store handle, the camera
// stream and the sampler goroutine, and the order they are torn down in.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"autocapture/capture"
	"autocapture/sampler"
	"autocapture/storage"
)

// ErrStopped is returned by Start once the session has been stopped.
// A stopped session cannot be restarted.
var ErrStopped = errors.New("session: stopped")

// ErrStarted is returned by a second Start on an active session.
var ErrStarted = errors.New("session: already started")

// State is the session lifecycle state.
type State int

const (
	Idle State = iota
	Starting
	Active
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config holds what a session needs besides its collaborators.
type Config struct {
	Constraints capture.Constraints
	Interval    time.Duration
	Quality     int
	Clock       func() time.Time // nil means time.Now
}

// Session is the explicit replacement for the page-global db/stream/timer.
type Session struct {
	store  storage.Store
	source capture.Source
	cfg    Config
	log    *zap.Logger

	mu      sync.Mutex
	state   State
	stream  capture.Stream
	sampler *sampler.Sampler
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds an idle session.
func New(store storage.Store, source capture.Source, cfg Config, log *zap.Logger) *Session {
	if cfg.Interval <= 0 {
		cfg.Interval = sampler.DefaultInterval
	}
	return &Session{store: store, source: source, cfg: cfg, log: log}
}

// Start acquires the camera and arms the sampler. On failure the error is
// logged once, the session moves to Failed and no timer is armed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Stopped:
		s.mu.Unlock()
		return ErrStopped
	case Starting, Active:
		s.mu.Unlock()
		return ErrStarted
	}
	s.state = Starting
	s.mu.Unlock()

	stream, err := s.source.Open(ctx, s.cfg.Constraints)
	if err != nil {
		s.log.Error("camera access failed", zap.Error(err))
		s.mu.Lock()
		s.state = Failed
		s.mu.Unlock()
		return fmt.Errorf("open camera: %w", err)
	}

	opts := []sampler.Option{sampler.WithQuality(s.cfg.Quality)}
	if s.cfg.Clock != nil {
		opts = append(opts, sampler.WithClock(s.cfg.Clock))
	}
	smp := sampler.New(stream, s.store, s.log, opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		// Stop arrived while the camera was being acquired
		capture.StopAll(stream)
		return ErrStopped
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		smp.Run(runCtx, s.cfg.Interval)
		if runCtx.Err() == nil {
			// the stream ended underneath the sampler; the sampler logged it
			s.mu.Lock()
			if s.state == Active {
				s.state = Failed
			}
			s.mu.Unlock()
		}
	}()

	s.stream, s.sampler, s.cancel, s.done = stream, smp, cancel, done
	s.state = Active
	s.log.Info("camera started", zap.Duration("interval", s.cfg.Interval), zap.Int("tracks", len(stream.Tracks())))
	return nil
}

// Stop cancels the sampler, waits for an in-flight capture to finish and
// stops every track. A session whose stream ended on its own is Failed
// until Stop is called. When Stop returns no further photos are written.
// Calling Stop on an idle or already stopped session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	cancel, done, stream := s.cancel, s.done, s.stream
	s.cancel, s.done, s.stream = nil, nil, nil
	s.state = Stopped
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	capture.StopAll(stream)
	s.log.Info("camera stopped")
}

// Close stops the session and closes the store.
func (s *Session) Close() error {
	s.Stop()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stream returns the active stream, or nil.
func (s *Session) Stream() capture.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Stats returns the sampler's (written, failed) counts.
func (s *Session) Stats() (uint64, uint64) {
	s.mu.Lock()
	smp := s.sampler
	s.mu.Unlock()
	if smp == nil {
		return 0, 0
	}
	return smp.Stats()
}
