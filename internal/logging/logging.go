package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a structured logger. Every method takes a message followed by
// alternating keys and values.
type Logger struct {
	log logr.Logger
	zl  *zap.Logger
}

// NewLogger creates a production logger at info level.
func NewLogger() *Logger {
	l, err := New("info", false)
	if err != nil {
		return NewNop()
	}
	return l
}

// New creates a logger at the given level (debug, info, warn or error).
// Development mode switches to human-readable console output.
func New(level string, development bool) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	zl, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return FromZap(zl), nil
}

// FromZap wraps an existing zap logger.
func FromZap(zl *zap.Logger) *Logger {
	return &Logger{log: zapr.NewLogger(zl), zl: zl}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return FromZap(zap.NewNop())
}

// Logr exposes the logger to libraries that accept a logr.Logger.
func (l *Logger) Logr() logr.Logger {
	return l.log
}

// With returns a logger that adds keysAndValues to every entry.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{log: l.log.WithValues(keysAndValues...), zl: l.zl.Sugar().With(keysAndValues...).Desugar()}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.log.V(1).Info(msg, keysAndValues...)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.log.Info(msg, keysAndValues...)
}

// Warn logs a warning. logr has no warn level, so this goes straight to zap.
func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.zl.Sugar().Warnw(msg, keysAndValues...)
}

// Error logs an error message. Pass the error itself as an "error" value.
func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.log.Error(nil, msg, keysAndValues...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}
