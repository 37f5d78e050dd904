// Package logging provides structured logging for meetnotes.
// It wraps zerolog behind a small interface so components never depend on
// zerolog directly. JSON output is used in production, console output otherwise.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey type for context values to avoid collisions.
type ContextKey string

// Context keys picked up by WithContext.
const (
	RequestIDKey ContextKey = "request_id"
	MeetingIDKey ContextKey = "meeting_id"
)

// Level represents logging severity levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level Level

	// ServiceName is included in all log entries.
	ServiceName string

	// JSONFormat enables JSON output when true, human-readable when false.
	JSONFormat bool

	// Output sets the writer for logs (defaults to os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a Config suitable for local use.
func DefaultConfig() *Config {
	return &Config{
		Level:       LevelInfo,
		ServiceName: "meetnotes",
		Output:      os.Stderr,
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a new Logger with the given fields attached to all subsequent logs.
	With(fields ...Field) Logger

	// WithContext returns a new Logger carrying request and meeting ids found in ctx.
	WithContext(ctx context.Context) Logger
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new Field with the given key and value.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates a Field for an error.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

type logger struct {
	zl zerolog.Logger
}

// NewLogger creates a new Logger with the given configuration.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service_name", cfg.ServiceName).
		Logger()

	return &logger{zl: zl}
}

// ParseLevel converts a Level to the zerolog level, defaulting to info.
func ParseLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *logger) Debug(msg string, fields ...Field) {
	appendFields(l.zl.Debug(), fields).Msg(msg)
}

func (l *logger) Info(msg string, fields ...Field) {
	appendFields(l.zl.Info(), fields).Msg(msg)
}

func (l *logger) Warn(msg string, fields ...Field) {
	appendFields(l.zl.Warn(), fields).Msg(msg)
}

func (l *logger) Error(msg string, fields ...Field) {
	appendFields(l.zl.Error(), fields).Msg(msg)
}

func (l *logger) With(fields ...Field) Logger {
	return &logger{zl: appendFields(l.zl.With(), fields).Logger()}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	var fields []Field
	for _, key := range []ContextKey{RequestIDKey, MeetingIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, F(string(key), v))
		}
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// redacted replaces the value of any field whose key names a secret.
const redacted = "[REDACTED]"

var secretKeys = map[string]bool{
	"api_key":        true,
	"llm_api_key":    true,
	"authorization":  true,
	"token":          true,
	"access_token":   true,
	"calendar_token": true,
	"password":       true,
}

// fieldSink is satisfied by both *zerolog.Event and zerolog.Context.
type fieldSink[T any] interface {
	Str(key, val string) T
	Int(key string, i int) T
	Int64(key string, i int64) T
	Float64(key string, f float64) T
	Bool(key string, b bool) T
	AnErr(key string, err error) T
	Dur(key string, d time.Duration) T
	Time(key string, t time.Time) T
	Interface(key string, i interface{}) T
}

func appendFields[T fieldSink[T]](sink T, fields []Field) T {
	for _, f := range fields {
		if secretKeys[strings.ToLower(f.Key)] {
			sink = sink.Str(f.Key, redacted)
			continue
		}
		switch v := f.Value.(type) {
		case string:
			sink = sink.Str(f.Key, v)
		case int:
			sink = sink.Int(f.Key, v)
		case int64:
			sink = sink.Int64(f.Key, v)
		case float64:
			sink = sink.Float64(f.Key, v)
		case bool:
			sink = sink.Bool(f.Key, v)
		case error:
			sink = sink.AnErr(f.Key, v)
		case time.Duration:
			sink = sink.Dur(f.Key, v)
		case time.Time:
			sink = sink.Time(f.Key, v)
		default:
			sink = sink.Interface(f.Key, v)
		}
	}
	return sink
}

// ContextWithMeetingID returns a copy of ctx carrying the meeting id for log correlation.
func ContextWithMeetingID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, MeetingIDKey, id)
}

// ContextWithRequestID returns a copy of ctx carrying the request id for log correlation.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

var global Logger

// SetGlobal sets the process-wide logger.
func SetGlobal(l Logger) {
	global = l
}

// MustGlobal returns the global logger, initializing with defaults if not set.
func MustGlobal() Logger {
	if global == nil {
		global = NewLogger(DefaultConfig())
	}
	return global
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string, fields ...Field)      {}
func (n *nopLogger) Info(msg string, fields ...Field)       {}
func (n *nopLogger) Warn(msg string, fields ...Field)       {}
func (n *nopLogger) Error(msg string, fields ...Field)      {}
func (n *nopLogger) With(fields ...Field) Logger            { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger { return n }

// NewNopLogger returns a logger that discards all output.
func NewNopLogger() Logger {
	return &nopLogger{}
}
