// Package photo defines the single persisted entity: one captured frame,
// keyed by its capture time and carried as a JPEG data URL.
package photo

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid photo")

// DefaultQuality matches what browsers use for canvas JPEG export.
const DefaultQuality = 92

// Photo is a single persisted capture.
type Photo struct {
	ID   int64  `json:"id"`        // Unix milliseconds of the capture
	Data string `json:"photoData"` // data:image/jpeg;base64,...
}

// CapturedAt converts the id back to the capture time.
func (p Photo) CapturedAt() time.Time {
	return time.UnixMilli(p.ID)
}

// Validate checks the record shape. Storage calls it on every write and read.
func (p Photo) Validate() error {
	if p.ID <= 0 {
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalid, p.ID)
	}
	mediaType, _, err := DecodeDataURL(p.Data)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("%w: media type %q is not an image", ErrInvalid, mediaType)
	}
	return nil
}

// Decode returns the image behind the payload.
func (p Photo) Decode() (image.Image, error) {
	_, body, err := DecodeDataURL(p.Data)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode photo %d: %w", p.ID, err)
	}
	return img, nil
}

// Rasterize copies the frame into an RGBA bitmap with exactly the frame's
// dimensions, anchored at the origin.
func Rasterize(frame image.Image) *image.RGBA {
	b := frame.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, b.Min, draw.Src)
	return dst
}

// EncodeJPEG rasterizes the frame and returns it as a JPEG data URL.
func EncodeJPEG(frame image.Image, quality int) (string, error) {
	if frame == nil {
		return "", fmt.Errorf("%w: nil frame", ErrInvalid)
	}
	if b := frame.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return "", fmt.Errorf("%w: empty frame %dx%d", ErrInvalid, b.Dx(), b.Dy())
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Rasterize(frame), &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return EncodeDataURL("image/jpeg", buf.Bytes()), nil
}

// EncodeDataURL builds a base64 data URL.
func EncodeDataURL(mediaType string, body []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(body)
}

// DecodeDataURL splits a base64 data URL into media type and body.
// Only the base64 form is accepted; that is the only form the sampler writes.
func DecodeDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: not a data URL", ErrInvalid)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: data URL has no payload separator", ErrInvalid)
	}
	mediaType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: data URL is not base64", ErrInvalid)
	}
	if mediaType == "" {
		return "", nil, fmt.Errorf("%w: data URL has no media type", ErrInvalid)
	}
	body, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return mediaType, body, nil
}
