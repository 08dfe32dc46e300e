// Package export turns a stored photo payload into a downloadable .jpg file
// and delivers it to one or more targets.
package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"autocapture/photo"
)

// Download is one exported file. The name is derived from the export time,
// not from the photo id.
type Download struct {
	Filename    string
	Payload     string // the data URL as stored
	ContentType string
}

// Filename returns "photo_<unix ms>.jpg" for t.
func Filename(t time.Time) string {
	return "photo_" + strconv.FormatInt(t.UnixMilli(), 10) + ".jpg"
}

// New validates payload and builds the download named after now.
func New(payload string, now time.Time) (Download, error) {
	mediaType, _, err := photo.DecodeDataURL(payload)
	if err != nil {
		return Download{}, err
	}
	return Download{Filename: Filename(now), Payload: payload, ContentType: mediaType}, nil
}

// Bytes returns the decoded file content.
func (d Download) Bytes() ([]byte, error) {
	_, body, err := photo.DecodeDataURL(d.Payload)
	return body, err
}

// Target receives downloads.
type Target interface {
	Name() string
	Save(ctx context.Context, d Download) error
}

// All delivers d to every target and joins the failures. A failing target
// does not stop the others.
func All(ctx context.Context, d Download, targets []Target, log *zap.Logger) error {
	var errs []error
	for _, t := range targets {
		if err := t.Save(ctx, d); err != nil {
			log.Error("export failed", zap.String("target", t.Name()), zap.String("file", d.Filename), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		log.Info("photo exported", zap.String("target", t.Name()), zap.String("file", d.Filename))
	}
	return errors.Join(errs...)
}

// WriteHTTP sends d as an attachment, the server-side equivalent of a
// synthetic download link.
func WriteHTTP(w http.ResponseWriter, d Download) error {
	body, err := d.Bytes()
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, err = w.Write(body)
	return err
}
