// Package capture acquires camera streams and reads frames from them.
//
// A Source grants a Stream for a set of Constraints; a Stream hands out the
// current frame on demand and owns one or more Tracks. Stopping every track
// releases the device.
package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
)

var (
	// ErrPermissionDenied is returned when the device refuses access.
	ErrPermissionDenied = errors.New("capture: permission denied")
	// ErrNoDevice is returned when no camera is reachable.
	ErrNoDevice = errors.New("capture: no camera device")
	// ErrOverconstrained is returned when a hard constraint cannot be met.
	ErrOverconstrained = errors.New("capture: constraints cannot be satisfied")
	// ErrStreamEnded is returned by Snapshot after the stream's tracks stopped.
	ErrStreamEnded = errors.New("capture: stream ended")
)

// Facing modes understood by the sources.
const (
	FacingEnvironment = "environment"
	FacingUser        = "user"
)

// Constraints describe the stream the caller would like. FacingMode and
// Zoom are hints: a source that cannot honour them ignores them.
type Constraints struct {
	FacingMode string
	Zoom       float64
	Width      int
	Height     int
}

// DefaultConstraints prefers the rear camera at 2x zoom.
func DefaultConstraints() Constraints {
	return Constraints{FacingMode: FacingEnvironment, Zoom: 2}
}

// Source is the public contract any camera back-end must satisfy.
type Source interface {
	// Open acquires the device and returns a live stream.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live camera stream.
type Stream interface {
	// Snapshot returns the frame that is current at the time of the call.
	Snapshot(ctx context.Context) (image.Image, error)
	// Tracks lists the stream's tracks.
	Tracks() []*Track
}

// StopAll stops every track of s. A nil stream is a no-op.
func StopAll(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Ended reports whether every track of s has stopped.
func Ended(s Stream) bool {
	for _, t := range s.Tracks() {
		if t.State() != TrackEnded {
			return false
		}
	}
	return true
}

// TrackState is the lifecycle state of a Track.
type TrackState int32

const (
	TrackLive TrackState = iota
	TrackEnded
)

func (s TrackState) String() string {
	if s == TrackEnded {
		return "ended"
	}
	return "live"
}

// Track is one media track of a stream. Stop is idempotent and runs the
// release callback exactly once.
type Track struct {
	ID    string
	Kind  string
	Label string

	state   atomic.Int32
	once    sync.Once
	release func()
}

// NewTrack builds a live video track. release may be nil.
func NewTrack(id, label string, release func()) *Track {
	return &Track{ID: id, Kind: "video", Label: label, release: release}
}

// Stop ends the track and releases its device.
func (t *Track) Stop() {
	t.once.Do(func() {
		t.state.Store(int32(TrackEnded))
		if t.release != nil {
			t.release()
		}
	})
}

// State returns the current track state.
func (t *Track) State() TrackState {
	return TrackState(t.state.Load())
}

// live is the shared check sources make before producing a frame.
func live(tracks []*Track) error {
	for _, t := range tracks {
		if t.State() == TrackLive {
			return nil
		}
	}
	return ErrStreamEnded
}
