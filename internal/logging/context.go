package logging

import (
	"context"

	"github.com/google/uuid"
)

const requestIDAttr = "request_id"

type requestIDKey struct{}

type loggerKey struct{}

// EnsureRequestID returns ctx unchanged when it already has a request id,
// otherwise a child carrying a fresh uuid.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return ContextWithRequestID(ctx, id), id
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns "" when ctx has no request id.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithRequestLogger pins the request id onto base so records keep it even
// when logged with an unrelated context, e.g. from a timer callback.
func WithRequestLogger(ctx context.Context, base Logger) (context.Context, Logger) {
	ctx, id := EnsureRequestID(ctx)
	return ctx, OrNoop(base).With(String(requestIDAttr, id))
}

func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, OrNoop(l))
}

// FromContext returns the logger stored by ContextWithLogger, else fallback,
// else Noop.
func FromContext(ctx context.Context, fallback Logger) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
			return l
		}
	}
	return OrNoop(fallback)
}
