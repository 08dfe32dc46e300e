package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin wrapper that holds both the raw zap.Logger and its
// "Sugared" counterpart for convenience.
type Logger struct {
	*zap.Logger
	*zap.SugaredLogger
}

// New creates a logger writing JSON to stdout at the given level.
// Accepted levels (case-insensitive): "debug", "info", "warn", "error".
func New(level string) (*Logger, error) {
	return NewWithWriter(level, os.Stdout)
}

// NewFile is New appending to the file at path. The returned func flushes
// the logger and closes the file.
func NewFile(level, path string) (*Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	l, err := NewWithWriter(level, f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	closeFn := func() error {
		Flush(l.Logger)
		return f.Close()
	}
	return l, closeFn, nil
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(level string, w io.Writer) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	// JSON, ISO-8601 timestamps, capital level
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		zapLevel,
	)

	zapLogger := zap.New(core, zap.AddCaller())

	return &Logger{
		Logger:        zapLogger,
		SugaredLogger: zapLogger.Sugar(),
	}, nil
}

// FromContext extracts a *zap.Logger that may have been stored in the context.
// If none is present, the fallback logger is returned.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// WithContext returns a new context that carries the supplied logger.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

type loggerKey struct{}

// WithRequestID returns a copy of the logger with a request-id field attached.
func WithRequestID(l *zap.Logger, reqID string) *zap.Logger {
	return l.With(zap.String("req_id", reqID))
}

// Flush forces any buffered log entries to be written.
// Call this from `main` just before the program exits.
func Flush(l *zap.Logger) {
	// Sync on stdout returns "invalid argument" on some platforms; nothing
	// useful can be done with it at exit.
	_ = l.Sync()
}
