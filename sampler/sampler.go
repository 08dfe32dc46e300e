// Package sampler turns a live stream into stored photos on a fixed period.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"autocapture/capture"
	"autocapture/photo"
	"autocapture/storage"
)

// DefaultInterval is the capture period.
const DefaultInterval = 2 * time.Second

// Sampler snapshots a stream and writes one photo per tick.
type Sampler struct {
	stream  capture.Stream
	store   storage.Store
	log     *zap.Logger
	now     func() time.Time
	quality int

	mu     sync.Mutex // serialises ticks and guards lastID
	lastID int64

	written atomic.Uint64
	failed  atomic.Uint64
}

// Option customises a Sampler.
type Option func(*Sampler)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option { return func(s *Sampler) { s.now = now } }

// WithQuality sets the JPEG quality (1..100).
func WithQuality(q int) Option { return func(s *Sampler) { s.quality = q } }

// New builds a sampler over an open stream and a store.
func New(stream capture.Stream, store storage.Store, log *zap.Logger, opts ...Option) *Sampler {
	s := &Sampler{
		stream:  stream,
		store:   store,
		log:     log,
		now:     time.Now,
		quality: photo.DefaultQuality,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Tick captures the current frame and persists it. The photo id is the
// capture time in milliseconds, bumped when needed so that ids issued by
// one sampler strictly increase.
func (s *Sampler) Tick(ctx context.Context) (photo.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.tick(ctx)
	if err != nil {
		s.failed.Add(1)
		return photo.Photo{}, err
	}
	s.written.Add(1)
	s.log.Info("photo saved", zap.Int64("id", p.ID))
	return p, nil
}

func (s *Sampler) tick(ctx context.Context) (photo.Photo, error) {
	frame, err := s.stream.Snapshot(ctx)
	if err != nil {
		return photo.Photo{}, fmt.Errorf("snapshot: %w", err)
	}
	data, err := photo.EncodeJPEG(frame, s.quality)
	if err != nil {
		return photo.Photo{}, err
	}

	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	p := photo.Photo{ID: id, Data: data}
	if err := s.store.Add(ctx, p); err != nil {
		return photo.Photo{}, fmt.Errorf("store photo %d: %w", id, err)
	}
	s.lastID = id
	return p, nil
}

// Run ticks every interval until ctx is cancelled. The first capture happens
// one interval after Run starts. A failing tick is logged and does not stop
// the loop, except when the stream has ended.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			written, failed := s.Stats()
			s.log.Info("sampler stopped", zap.Uint64("written", written), zap.Uint64("failed", failed))
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			_, err := s.Tick(ctx)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				// cancelled mid-tick; the loop exits on the next select
			case errors.Is(err, capture.ErrStreamEnded):
				s.log.Warn("stream ended, sampler exiting", zap.Error(err))
				return
			default:
				s.log.Error("capture failed", zap.Error(err))
			}
		}
	}
}

// Stats returns (written, failed) counts.
func (s *Sampler) Stats() (uint64, uint64) {
	return s.written.Load(), s.failed.Load()
}
