// Package logging provides the process-wide zap logger used by the mount,
// the catalog and the storage backends.
package logging

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey struct{}

var (
	global      atomic.Pointer[zap.Logger]
	globalLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// Init builds the global logger from cfg. An unknown level falls back to info.
func Init(cfg Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	globalLevel.SetLevel(level)
	zc.Level = globalLevel
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zc.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return err
	}

	global.Store(logger)
	return nil
}

// Replace swaps the global logger and returns a function restoring the
// previous one. Tests use it with zaptest/observer.
func Replace(logger *zap.Logger) (restore func()) {
	prev := global.Swap(logger)
	return func() {
		if prev == nil {
			global.Store(nil)
			return
		}
		global.Store(prev)
	}
}

// Sync flushes any buffered log entries.
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}

// SetLevel changes the global log level at runtime.
func SetLevel(level string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return
	}
	globalLevel.SetLevel(l)
}

// L returns the global logger, creating a production logger on first use.
func L() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l, err := zap.NewProduction(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewNop()
	}
	if global.CompareAndSwap(nil, l) {
		return l
	}
	return global.Load()
}

// WithContext returns the logger stored in ctx, or the global logger.
func WithContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*zap.Logger); ok {
		return logger
	}
	// The global logger skips one frame for the package-level helpers.
	return L().WithOptions(zap.AddCallerSkip(-1))
}

// NewContext returns a copy of ctx carrying a logger with the given fields
// added to any already stored there.
func NewContext(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, contextKey{}, WithContext(ctx).With(fields...))
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Fatal logs a fatal message and exits.
func Fatal(msg string, fields ...zap.Field) {
	L().Fatal(msg, fields...)
}

// Path tags an entry with the mount-relative path it concerns.
func Path(p string) zap.Field {
	return zap.String("path", p)
}

// Archive tags an entry with the physical archive location.
func Archive(p string) zap.Field {
	return zap.String("archive", p)
}
