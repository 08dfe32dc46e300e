package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// HTTPSnapshot reads frames from an IP camera that serves a still image per
// GET (the usual /snapshot.jpg endpoint). Zoom and facing hints are sent as
// query parameters; cameras that do not know them ignore them.
type HTTPSnapshot struct {
	URL       string       // e.g. "http://192.168.1.20/snapshot.jpg"
	HTTP      *http.Client // injected for testability (may be nil -> 10s client)
	Log       *zap.Logger
	UserAgent string
}

// NewHTTPSnapshot returns a ready-to-use source.
func NewHTTPSnapshot(rawURL string, timeout time.Duration, log *zap.Logger) *HTTPSnapshot {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSnapshot{
		URL:       rawURL,
		HTTP:      &http.Client{Timeout: timeout},
		Log:       log,
		UserAgent: "autocapture/0.1",
	}
}

// Open implements Source. It fetches one frame to make sure the camera
// answers before handing out a stream.
func (h *HTTPSnapshot) Open(ctx context.Context, c Constraints) (Stream, error) {
	u, err := h.frameURL(c)
	if err != nil {
		return nil, err
	}
	st := &httpStream{src: h, url: u}
	if _, err := h.fetch(ctx, u); err != nil {
		return nil, err
	}
	st.tracks = []*Track{NewTrack("http-0", "HTTP camera "+h.URL, func() {
		if t, ok := h.client().Transport.(interface{ CloseIdleConnections() }); ok {
			t.CloseIdleConnections()
		}
	})}
	if h.Log != nil {
		h.Log.Debug("http camera opened", zap.String("url", u))
	}
	return st, nil
}

func (h *HTTPSnapshot) frameURL(c Constraints) (string, error) {
	u, err := url.Parse(h.URL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid camera url: %v", ErrNoDevice, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrNoDevice, u.Scheme)
	}
	q := u.Query()
	if c.FacingMode != "" {
		q.Set("facing", c.FacingMode)
	}
	if c.Zoom > 0 {
		q.Set("zoom", strconv.FormatFloat(c.Zoom, 'f', -1, 64))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (h *HTTPSnapshot) client() *http.Client {
	if h.HTTP == nil {
		return &http.Client{Timeout: 10 * time.Second}
	}
	return h.HTTP
}

func (h *HTTPSnapshot) fetch(ctx context.Context, u string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	resp, err := h.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: camera returned %s", ErrPermissionDenied, resp.Status)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: camera returned %s", ErrNoDevice, resp.Status)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("camera returned %d: %s", resp.StatusCode, string(b))
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode camera frame: %w", err)
	}
	return img, nil
}

type httpStream struct {
	src    *HTTPSnapshot
	url    string
	tracks []*Track
}

func (s *httpStream) Tracks() []*Track { return s.tracks }

func (s *httpStream) Snapshot(ctx context.Context) (image.Image, error) {
	if err := live(s.tracks); err != nil {
		return nil, err
	}
	return s.src.fetch(ctx, s.url)
}
