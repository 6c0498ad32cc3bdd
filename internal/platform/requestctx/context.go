// Package requestctx carries per-request values (logger, trace ids, cart session) between
// middleware and handlers without import cycles.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey      struct{}
	traceKey       struct{}
	cartSessionKey struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo identifies the request's span for log correlation.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// LoggingTrace is the value Cloud Logging expects under logging.googleapis.com/trace,
// empty without a project or trace id.
func (t TraceInfo) LoggingTrace() string {
	if t.ProjectID == "" || t.TraceID == "" {
		return ""
	}
	return "projects/" + t.ProjectID + "/traces/" + t.TraceID
}

func with(ctx context.Context, key, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func value[T any](ctx context.Context, key any) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}

// WithLogger stores the request logger; nil stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, loggerKey{}, logger)
}

// Logger returns the request logger, or the shared no-op logger when none was stored.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := value[*zap.Logger](ctx, loggerKey{}); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared no-op logger so callers can tell "no request logger" apart.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, traceKey{}, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	return value[TraceInfo](ctx, traceKey{})
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithCartSession records the anonymous cart session id issued to the browser.
func WithCartSession(ctx context.Context, session string) context.Context {
	return with(ctx, cartSessionKey{}, session)
}

// CartSession returns the anonymous cart session id, if the request carries one.
func CartSession(ctx context.Context) string {
	session, _ := value[string](ctx, cartSessionKey{})
	return session
}
