package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Logger defines the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// LoggingConfig contains configuration for logging
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Error creates an error field
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Component tags every entry of a logger with the subsystem that produced it.
func Component(name string) Field {
	return String("component", name)
}

// StructuredLogger implements Logger on top of slog.
type StructuredLogger struct {
	logger *slog.Logger
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(config LoggingConfig) *StructuredLogger {
	return NewStructuredLoggerTo(outputFor(config.Output), config)
}

// NewStructuredLoggerTo creates a structured logger writing to w.
func NewStructuredLoggerTo(w io.Writer, config LoggingConfig) *StructuredLogger {
	level := ParseLevel(config.Level)

	var handler slog.Handler
	switch strings.ToLower(config.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: "2006-01-02 15:04:05.000",
			NoColor:    w != os.Stdout && w != os.Stderr,
		})
	}

	return &StructuredLogger{logger: slog.New(handler)}
}

func outputFor(output string) io.Writer {
	switch output {
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// ParseLevel converts a string log level to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether level is one ParseLevel understands.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func (l *StructuredLogger) Debug(msg string, fields ...Field) {
	l.logger.Debug(msg, attrs(fields)...)
}

func (l *StructuredLogger) Info(msg string, fields ...Field) {
	l.logger.Info(msg, attrs(fields)...)
}

func (l *StructuredLogger) Warn(msg string, fields ...Field) {
	l.logger.Warn(msg, attrs(fields)...)
}

func (l *StructuredLogger) Error(msg string, fields ...Field) {
	l.logger.Error(msg, attrs(fields)...)
}

// With creates a new logger with additional fields
func (l *StructuredLogger) With(fields ...Field) Logger {
	return &StructuredLogger{logger: l.logger.With(attrs(fields)...)}
}

// Slog exposes the underlying slog logger, e.g. for slog.SetDefault.
func (l *StructuredLogger) Slog() *slog.Logger {
	return l.logger
}

func attrs(fields []Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

// DefaultLogger creates a text logger at info level on stdout.
func DefaultLogger() Logger {
	return NewStructuredLogger(LoggingConfig{Level: "info", Format: "text"})
}

// NullLogger creates a logger that discards all output (useful for testing)
func NullLogger() Logger {
	return &StructuredLogger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// StdLogAdapter routes the standard log package through a Logger.
// discordgo and net/http write there.
type StdLogAdapter struct {
	logger Logger
}

// NewStdLogAdapter creates a new adapter for the standard log package
func NewStdLogAdapter(logger Logger) *StdLogAdapter {
	return &StdLogAdapter{logger: logger}
}

// Write implements io.Writer to capture standard log output
func (a *StdLogAdapter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		a.logger.Info(msg)
	}
	return len(p), nil
}

// SetAsStdLogger sets this adapter as the output for the standard log package
func (a *StdLogAdapter) SetAsStdLogger() {
	log.SetOutput(a)
	log.SetFlags(0)
}
