// Package server exposes the gallery, the export action and the stop control
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"autocapture/export"
	"autocapture/gallery"
	"autocapture/logger"
	"autocapture/session"
	"autocapture/storage"
)

// Controller is the part of a session the server drives.
type Controller interface {
	Stop()
	State() session.State
	Stats() (written, failed uint64)
}

// Server wires the HTTP surface to the store and the session.
type Server struct {
	store   storage.Store
	session Controller
	targets []export.Target
	width   int
	log     *zap.Logger
	now     func() time.Time

	http *http.Server
}

// Option customises a Server.
type Option func(*Server)

// WithTargets adds export targets used by POST /photos/{id}/export.
func WithTargets(t ...export.Target) Option {
	return func(s *Server) { s.targets = append(s.targets, t...) }
}

// WithDisplayWidth sets the gallery image width.
func WithDisplayWidth(w int) Option { return func(s *Server) { s.width = w } }

// WithClock replaces time.Now for export file names.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// New builds a server. Call Handler for tests or ListenAndServe to run it.
func New(store storage.Store, sess Controller, log *zap.Logger, opts ...Option) *Server {
	s := &Server{
		store:   store,
		session: sess,
		width:   gallery.DefaultWidth,
		log:     log,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/", s.handlePage)
	r.Get("/healthz", s.handleHealth)
	r.Get("/photos", s.handleGallery)
	r.Get("/photos.json", s.handleList)
	r.Route("/photos/{id}", func(r chi.Router) {
		r.Get("/", s.handlePhoto)
		r.Get("/thumb", s.handleThumb)
		r.Get("/download", s.handleDownload)
		r.Post("/export", s.handleExport)
	})
	r.Post("/session/stop", s.handleStop)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		l := logger.WithRequestID(s.log, id).With(zap.String("method", r.Method), zap.String("path", r.URL.Path))
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), l)))
		l.Debug("request served", zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) reqLog(r *http.Request) *zap.Logger {
	return logger.FromContext(r.Context(), s.log)
}

type message struct {
	Msg string `json:"msg"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// loggedError marks an error that was already logged where it happened.
type loggedError struct{ error }

func (e loggedError) Unwrap() error { return e.error }

// writeError maps store errors to status codes. Internal errors are logged
// unless they carry loggedError.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrNotOpen), errors.Is(err, storage.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	var logged loggedError
	if status == http.StatusInternalServerError && !errors.As(err, &logged) {
		s.reqLog(r).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, message{Msg: http.StatusText(status)})
}

func photoID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := gallery.Page(w, gallery.PageData{
		State:      s.session.State().String(),
		GalleryURL: "/photos",
		StopURL:    "/session/stop",
	})
	if err != nil {
		s.reqLog(r).Error("render page", zap.Error(err))
	}
}

type health struct {
	Status  string `json:"status"`
	Session string `json:"session"`
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	written, failed := s.session.Stats()
	writeJSON(w, http.StatusOK, health{
		Status:  "ok",
		Session: s.session.State().String(),
		Written: written,
		Failed:  failed,
	})
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	items, err := gallery.Load(r.Context(), s.store, gallery.Options{Width: s.width}, s.reqLog(r))
	if err != nil {
		s.writeError(w, r, loggedError{err})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := gallery.Render(w, items); err != nil {
		s.reqLog(r).Error("render gallery", zap.Error(err))
	}
}

type photoSummary struct {
	ID         int64     `json:"id"`
	CapturedAt time.Time `json:"capturedAt"`
	URL        string    `json:"url"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	photos, err := s.store.All(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]photoSummary, 0, len(photos))
	for _, p := range photos {
		out = append(out, photoSummary{
			ID:         p.ID,
			CapturedAt: p.CapturedAt().UTC(),
			URL:        "/photos/" + strconv.FormatInt(p.ID, 10),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	id, err := photoID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, message{Msg: "invalid photo id"})
		return
	}
	p, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// inline view: same bytes as the export, without the attachment header
	d, err := export.New(p.Data, p.CapturedAt())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := d.Bytes()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", d.ContentType)
	w.Write(body)
}

func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	id, err := photoID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, message{Msg: "invalid photo id"})
		return
	}
	p, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	thumb, err := gallery.Thumbnail(p, s.width)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(thumb)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := photoID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, message{Msg: "invalid photo id"})
		return
	}
	p, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := export.New(p.Data, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := export.WriteHTTP(w, d); err != nil {
		s.reqLog(r).Error("write download", zap.Error(err))
		return
	}
	s.reqLog(r).Info("photo downloaded", zap.Int64("id", id), zap.String("file", d.Filename))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := photoID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, message{Msg: "invalid photo id"})
		return
	}
	if len(s.targets) == 0 {
		writeJSON(w, http.StatusNotImplemented, message{Msg: "no export targets configured"})
		return
	}
	p, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := export.New(p.Data, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// target failures are logged per target by export.All
	if err := export.All(r.Context(), d, s.targets, s.reqLog(r)); err != nil {
		writeJSON(w, http.StatusBadGateway, message{Msg: http.StatusText(http.StatusBadGateway)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": d.Filename})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.session.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"session": s.session.State().String()})
}
