package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger provides structured logging for the pipeline internals.
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Warn(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
	WithFields(fields map[string]any) Logger
	Enable()
	Disable()
}

type LogFormat string
type LogLevel = slog.Level

const (
	TextFormat LogFormat = "text"
	JSONFormat LogFormat = "json"
)

type loggerConfig struct {
	format LogFormat
	level  LogLevel
	output io.Writer
}

// LogOption defines functional options for logger configuration
type LogOption func(*loggerConfig)

// WithFormat sets the log format
func WithFormat(format LogFormat) LogOption {
	return func(cfg *loggerConfig) {
		cfg.format = format
	}
}

// WithOutput sets a custom output writer (defaults to os.Stdout)
func WithOutput(output io.Writer) LogOption {
	return func(cfg *loggerConfig) {
		cfg.output = output
	}
}

// defaultLogger implements Logger with slog
type defaultLogger struct {
	logger  *slog.Logger
	enabled atomic.Bool
}

// NewLogger creates a new logger with the given options
func NewLogger(level LogLevel, opts ...LogOption) Logger {
	cfg := &loggerConfig{
		format: TextFormat,
		level:  level,
		output: os.Stdout,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{
		Level: cfg.level,
	}

	var handler slog.Handler
	switch cfg.format {
	case JSONFormat:
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	default:
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	}

	l := &defaultLogger{
		logger: slog.New(handler),
	}
	l.enabled.Store(true)
	return l
}

// NewDisabledLogger returns a logger that drops everything until Enable is
// called. It is the default for pipelines built without WithLogger.
func NewDisabledLogger() Logger {
	l := &defaultLogger{
		logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
	l.enabled.Store(false)
	return l
}

func (l *defaultLogger) Debug(ctx context.Context, msg string, keysAndValues ...any) {
	if !l.enabled.Load() {
		return
	}
	l.logger.DebugContext(ctx, msg, keysAndValues...)
}

func (l *defaultLogger) Info(ctx context.Context, msg string, keysAndValues ...any) {
	if !l.enabled.Load() {
		return
	}
	l.logger.InfoContext(ctx, msg, keysAndValues...)
}

func (l *defaultLogger) Warn(ctx context.Context, msg string, keysAndValues ...any) {
	if !l.enabled.Load() {
		return
	}
	l.logger.WarnContext(ctx, msg, keysAndValues...)
}

func (l *defaultLogger) Error(ctx context.Context, msg string, keysAndValues ...any) {
	if !l.enabled.Load() {
		return
	}
	l.logger.ErrorContext(ctx, msg, keysAndValues...)
}

func (l *defaultLogger) WithFields(fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}

	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}

	next := &defaultLogger{
		logger: l.logger.With(args...),
	}
	next.enabled.Store(l.enabled.Load())
	return next
}

// Enable enables logging
func (l *defaultLogger) Enable() {
	l.enabled.Store(true)
}

// Disable disables logging
func (l *defaultLogger) Disable() {
	l.enabled.Store(false)
}
