// Package logging is the structured logger every terrainview component
// writes through. Records go to log/slog; the request id stored on the
// context is stamped onto every record logged with that context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Field is one structured attribute. It is a slog.Attr so fields reach the
// handler without conversion.
type Field = slog.Attr

func String(key, value string) Field                 { return slog.String(key, value) }
func Int(key string, value int) Field                { return slog.Int(key, value) }
func Float64(key string, value float64) Field        { return slog.Float64(key, value) }
func Bool(key string, value bool) Field              { return slog.Bool(key, value) }
func Duration(key string, value time.Duration) Field { return slog.Duration(key, value) }
func Any(key string, value any) Field                { return slog.Any(key, value) }

// Err records err under "error"; nil becomes "".
func Err(err error) Field {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

// Logger is what components depend on. Every call takes the context so
// request-scoped attributes follow the work.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config selects level, format and destination. It is read from
// TERRAINVIEW_LOG_* by internal/config.
type Config struct {
	Level     string `envconfig:"LEVEL" default:"info"` // debug | info | warn | error
	Format    string `envconfig:"FORMAT" default:"text"`
	AddSource bool   `envconfig:"SOURCE" default:"false"`

	// Output defaults to os.Stderr; stdout is reserved for command output.
	Output io.Writer `ignored:"true"`
}

// New builds a slog-backed Logger.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: levelOf(cfg.Level), AddSource: cfg.AddSource}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, FormatJSON) {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return &slogger{l: slog.New(requestIDHandler{h})}
}

// NewFromEnv reads TERRAINVIEW_LOG_* directly, for commands that do not load
// the full process configuration. Unparseable values fall back to defaults.
func NewFromEnv() Logger {
	var cfg Config
	if err := envconfig.Process("terrainview_log", &cfg); err != nil {
		cfg = Config{}
	}
	return New(cfg)
}

// Noop discards everything.
func Noop() Logger { return noopLogger{} }

// OrNoop returns l, or Noop when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}

// Component tags base with component=name.
func Component(base Logger, name string) Logger {
	return OrNoop(base).With(String("component", name))
}

func levelOf(s string) slog.Level {
	var lvl slog.Level
	if s == "warning" {
		s = "warn"
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

type slogger struct {
	l *slog.Logger
}

func (s *slogger) log(ctx context.Context, lvl slog.Level, msg string, fields []Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.l.LogAttrs(ctx, lvl, msg, fields...)
}

func (s *slogger) Debug(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelDebug, msg, fields)
}

func (s *slogger) Info(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelInfo, msg, fields)
}

func (s *slogger) Warn(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelWarn, msg, fields)
}

func (s *slogger) Error(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelError, msg, fields)
}

func (s *slogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return s
	}
	return &slogger{l: slog.New(s.l.Handler().WithAttrs(fields))}
}

// requestIDHandler adds request_id from the record's context unless the
// logger already carries one via WithRequestLogger.
type requestIDHandler struct {
	slog.Handler
}

func (h requestIDHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := RequestIDFromContext(ctx); id != "" && !hasRequestAttr(r) {
		r.AddAttrs(slog.String(requestIDAttr, id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h requestIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	inner := h.Handler.WithAttrs(attrs)
	for _, a := range attrs {
		if a.Key == requestIDAttr {
			return inner
		}
	}
	return requestIDHandler{inner}
}

func (h requestIDHandler) WithGroup(name string) slog.Handler {
	return requestIDHandler{h.Handler.WithGroup(name)}
}

func hasRequestAttr(r slog.Record) bool {
	found := false
	r.Attrs(func(a slog.Attr) bool {
		found = a.Key == requestIDAttr
		return !found
	})
	return found
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}
func (n noopLogger) With(...Field) Logger                  { return n }
