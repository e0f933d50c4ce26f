package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey      contextKey = "github.com/watchfix/api/internal/platform/requestctx/logger"
	traceContextKey       contextKey = "github.com/watchfix/api/internal/platform/requestctx/trace"
	annotationsContextKey contextKey = "github.com/watchfix/api/internal/platform/requestctx/annotations"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

type annotations struct {
	mu     sync.Mutex
	fields []zap.Field
}

// WithAnnotations installs a mutable field set that inner middleware can append to
// and the request logger reads back once the handler returns.
func WithAnnotations(ctx context.Context) context.Context {
	return context.WithValue(ctx, annotationsContextKey, &annotations{})
}

// Annotate appends fields to the request's annotation set and returns a context whose
// logger carries them as well.
func Annotate(ctx context.Context, fields ...zap.Field) context.Context {
	if a, ok := ctx.Value(annotationsContextKey).(*annotations); ok {
		a.mu.Lock()
		a.fields = append(a.fields, fields...)
		a.mu.Unlock()
	}
	return WithLogger(ctx, Logger(ctx).With(fields...))
}

// Annotations returns a copy of the fields recorded by Annotate.
func Annotations(ctx context.Context) []zap.Field {
	a, ok := ctx.Value(annotationsContextKey).(*annotations)
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]zap.Field(nil), a.fields...)
}
