package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// Synthetic produces a moving test pattern. It stands in for a camera in
// development and tests.
type Synthetic struct {
	Width  int
	Height int
	Facing string // the facing this fake camera claims; empty means environment
	Deny   bool   // refuse access as a user would
	Log    *zap.Logger
}

// NewSynthetic returns a synthetic rear camera of the given size.
func NewSynthetic(width, height int, log *zap.Logger) *Synthetic {
	return &Synthetic{Width: width, Height: height, Facing: FacingEnvironment, Log: log}
}

// Open implements Source.
func (s *Synthetic) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Deny {
		return nil, ErrPermissionDenied
	}
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("%w: synthetic size %dx%d", ErrNoDevice, s.Width, s.Height)
	}
	facing := s.Facing
	if facing == "" {
		facing = FacingEnvironment
	}
	if c.FacingMode != "" && c.FacingMode != facing {
		s.logger().Debug("facing mode hint ignored", zap.String("want", c.FacingMode), zap.String("have", facing))
	}

	w, h := s.Width, s.Height
	if c.Width > 0 && c.Height > 0 {
		w, h = c.Width, c.Height
	}
	st := &syntheticStream{w: w, h: h, zoom: c.Zoom}
	st.tracks = []*Track{NewTrack("synthetic-0", "Synthetic camera ("+facing+")", nil)}
	return st, nil
}

func (s *Synthetic) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

type syntheticStream struct {
	w, h   int
	zoom   float64
	seq    atomic.Uint64
	tracks []*Track
}

func (s *syntheticStream) Tracks() []*Track { return s.tracks }

func (s *syntheticStream) Snapshot(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := live(s.tracks); err != nil {
		return nil, err
	}
	frame := pattern(s.w, s.h, int(s.seq.Add(1)))
	return applyZoom(frame, s.zoom), nil
}

// pattern draws diagonal colour bands shifted by seq.
func pattern(w, h, seq int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x + y + seq*8) % 256)
			img.SetRGBA(x, y, color.RGBA{R: v, G: uint8(x * 255 / w), B: uint8(y * 255 / h), A: 255})
		}
	}
	return img
}

// applyZoom crops the centre 1/zoom of the frame and scales it back up to
// the original size. Zoom values <= 1 leave the frame untouched.
func applyZoom(src image.Image, zoom float64) image.Image {
	if zoom <= 1 {
		return src
	}
	b := src.Bounds()
	cw, ch := int(float64(b.Dx())/zoom), int(float64(b.Dy())/zoom)
	if cw < 1 || ch < 1 {
		return src
	}
	x0 := b.Min.X + (b.Dx()-cw)/2
	y0 := b.Min.Y + (b.Dy()-ch)/2
	crop := image.Rect(x0, y0, x0+cw, y0+ch)

	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}
