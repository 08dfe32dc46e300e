package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"autocapture/capture"
	"autocapture/config"
	"autocapture/export"
	"autocapture/logger"
	"autocapture/server"
	"autocapture/session"
	"autocapture/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "autocapture:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("set up logger: %w", err)
	}
	defer closeLog()
	log.Infow("autocapture starting", "source", cfg.Source.Kind, "addr", cfg.ListenAddr, "interval", cfg.Interval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// storage open and camera start race each other, as on page load
	store := storage.OpenAsync(ctx, cfg.DBPath, log.Logger)

	source, err := newSource(cfg, log.Logger)
	if err != nil {
		store.Close()
		return err
	}
	sess := session.New(store, source, session.Config{
		Constraints: capture.Constraints{
			FacingMode: cfg.Constraints.FacingMode,
			Zoom:       cfg.Constraints.Zoom,
		},
		Interval: cfg.Interval,
		Quality:  cfg.JPEGQuality,
	}, log.Logger)
	defer func() {
		if err := sess.Close(); err != nil {
			log.Logger.Error("teardown failed", zap.Error(err))
		}
	}()

	if err := startSession(ctx, sess); err != nil {
		return err
	}

	srv := server.New(store, sess, log.Logger,
		server.WithDisplayWidth(cfg.DisplayWidth),
		server.WithTargets(exportTargets(cfg)...),
	)
	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}

func newLogger(cfg *config.Config) (*logger.Logger, func() error, error) {
	if cfg.LogFile != "" {
		return logger.NewFile(cfg.LogLevel, cfg.LogFile)
	}
	l, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return l, func() error { logger.Flush(l.Logger); return nil }, nil
}

// startSession starts capture. A camera that cannot be opened leaves the
// gallery usable; the session has already logged why, so only lifecycle
// misuse is returned.
func startSession(ctx context.Context, sess *session.Session) error {
	err := sess.Start(ctx)
	if errors.Is(err, session.ErrStopped) || errors.Is(err, session.ErrStarted) {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

func newSource(cfg *config.Config, log *zap.Logger) (capture.Source, error) {
	switch cfg.Source.Kind {
	case "synthetic":
		return capture.NewSynthetic(cfg.Source.Width, cfg.Source.Height, log), nil
	case "http":
		return capture.NewHTTPSnapshot(cfg.Source.URL, cfg.Source.Timeout, log), nil
	case "command":
		return capture.NewCommand(cfg.Source.Command, cfg.Source.Args, log), nil
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

func exportTargets(cfg *config.Config) []export.Target {
	var targets []export.Target
	if cfg.Export.Dir != "" {
		targets = append(targets, export.Dir{Path: cfg.Export.Dir})
	}
	if cfg.SFTP.Addr != "" {
		targets = append(targets, &export.SFTP{
			Addr:      cfg.SFTP.Addr,
			User:      cfg.SFTP.User,
			KeyPath:   cfg.SFTP.KeyPath,
			RemoteDir: cfg.SFTP.RemoteDir,
		})
	}
	return targets
}
