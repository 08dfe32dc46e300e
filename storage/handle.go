package storage

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"autocapture/photo"
)

// Handle is a Store whose open runs in the background. Until the open
// completes every call fails with ErrNotOpen; after a failed open every
// call returns the open error. Wait blocks for the outcome.
type Handle struct {
	done chan struct{}

	mu     sync.RWMutex
	store  Store
	err    error
	closed bool
}

// OpenAsync starts opening the store at path and returns immediately.
func OpenAsync(ctx context.Context, path string, log *zap.Logger) *Handle {
	return OpenAsyncWith(func() (Store, error) {
		return Open(ctx, path, log)
	}, log)
}

// OpenAsyncWith runs an arbitrary opener in the background.
func OpenAsyncWith(open func() (Store, error), log *zap.Logger) *Handle {
	h := &Handle{done: make(chan struct{})}
	go func() {
		s, err := open()
		if err != nil {
			log.Error("photo store open failed", zap.Error(err))
		}
		h.resolve(s, err)
	}()
	return h
}

// Ready wraps an already open store.
func Ready(s Store) *Handle {
	h := &Handle{done: make(chan struct{})}
	h.resolve(s, nil)
	return h
}

func (h *Handle) resolve(s Store, err error) {
	h.mu.Lock()
	h.store, h.err = s, err
	closed := h.closed
	h.mu.Unlock()
	close(h.done)

	// Close raced the open; the store has no owner left
	if closed && s != nil {
		_ = s.Close()
	}
}

// Done is closed once the open has completed, successfully or not.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the open completes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Store, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return h.current()
}

func (h *Handle) current() (Store, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch {
	case h.closed:
		return nil, ErrClosed
	case h.err != nil:
		return nil, fmt.Errorf("%w: %v", ErrNotOpen, h.err)
	case h.store == nil:
		return nil, ErrNotOpen
	}
	return h.store, nil
}

func (h *Handle) Add(ctx context.Context, p photo.Photo) error {
	s, err := h.current()
	if err != nil {
		return err
	}
	return s.Add(ctx, p)
}

func (h *Handle) All(ctx context.Context) ([]photo.Photo, error) {
	s, err := h.current()
	if err != nil {
		return nil, err
	}
	return s.All(ctx)
}

func (h *Handle) Get(ctx context.Context, id int64) (photo.Photo, error) {
	s, err := h.current()
	if err != nil {
		return photo.Photo{}, err
	}
	return s.Get(ctx, id)
}

func (h *Handle) Count(ctx context.Context) (int, error) {
	s, err := h.current()
	if err != nil {
		return 0, err
	}
	return s.Count(ctx)
}

// Close closes the underlying store. If the open is still running the
// store is closed as soon as it arrives.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	s := h.store
	h.mu.Unlock()

	if s != nil {
		return s.Close()
	}
	return nil
}
