package observability

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/southernsense/storefront/internal/platform/auth"
	"github.com/southernsense/storefront/internal/platform/httpx"
	"github.com/southernsense/storefront/internal/platform/requestctx"
)

const (
	requestIDHeader      = "X-Request-Id"
	idempotencyKeyHeader = "Idempotency-Key"
)

// Probe routes hit by Cloud Run and uptime checks; their completions log at debug.
var quietRoutes = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
}

// InjectLoggerMiddleware stores the provided logger on the request context to make it accessible downstream.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware writes one structured line per request, attributed to the signed-in
// user or the anonymous cart session, and names the server span after the matched route.
// Mount it after TraceMiddleware and the cart session middleware.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			traceInfo, _ := requestctx.Trace(ctx)
			if traceInfo.ProjectID == "" {
				traceInfo.ProjectID = projectID
			}
			requestID := middleware.GetReqID(ctx)
			if requestID != "" {
				w.Header().Set(requestIDHeader, requestID)
			}

			logger := requestctx.Logger(ctx).With(requestFields(r, requestID, traceInfo)...)
			ctx = requestctx.WithLogger(ctx, logger)
			r = r.WithContext(ctx)

			recorder := newResponseRecorder(w)
			start := time.Now()

			var panicked bool
			defer func() {
				status := recorder.Status()
				if panicked && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				// chi fills the pattern in while routing, so read it after the handler ran.
				route := SanitizeRoute(routePattern(r))
				annotateSpan(trace.SpanFromContext(ctx), r.Method, route, status)

				level := completionLevel(status, route, panicked)
				if ce := logger.Check(level, "request completed"); ce != nil {
					ce.Write(
						zap.String("route", route),
						zap.Int("status", status),
						zap.Duration("latency", time.Since(start)),
						zap.Int64("bytes", recorder.BytesWritten()),
					)
				}
			}()

			defer func() {
				if rec := recover(); rec != nil {
					panicked = true
					panic(rec)
				}
			}()

			next.ServeHTTP(recorder, r)
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 JSON error and logs the stack.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = requestctx.NoopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				trace.SpanFromContext(ctx).SetStatus(codes.Error, "panic")
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "Something went wrong. Please try again.", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestFields(r *http.Request, requestID string, info requestctx.TraceInfo) []zap.Field {
	ctx := r.Context()
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", SanitizeMethod(r.Method)),
		zap.String("path", SanitizeRoute(r.URL.Path)),
	}
	if info.TraceID != "" {
		fields = append(fields, zap.String("trace_id", info.TraceID))
	}
	if resource := info.LoggingTrace(); resource != "" {
		fields = append(fields,
			zap.String("logging.googleapis.com/trace", resource),
			zap.String("logging.googleapis.com/spanId", info.SpanID),
		)
	}
	if uid := signedInUser(ctx); uid != "" {
		fields = append(fields, zap.String("user_id", uid))
	} else if session := requestctx.CartSession(ctx); session != "" {
		fields = append(fields, zap.String("cart_session", sanitizeString(session, 40)))
	}
	if key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)); key != "" {
		fields = append(fields, zap.String("idempotency_key", sanitizeString(key, 64)))
	}
	if ip := realIP(r); ip != "" {
		fields = append(fields, zap.String("remote_ip", ip))
	}
	return fields
}

func completionLevel(status int, route string, panicked bool) zapcore.Level {
	switch {
	case panicked || status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	}
	if _, quiet := quietRoutes[route]; quiet {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

func annotateSpan(span trace.Span, method, route string, status int) {
	if !span.IsRecording() {
		return
	}
	span.SetName(method + " " + route)
	span.SetAttributes(
		semconv.HTTPRoute(route),
		semconv.HTTPResponseStatusCode(status),
	)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func signedInUser(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return ""
	}
	return SanitizeUserID(identity.UID)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL != nil && r.URL.Path != "" {
		return r.URL.Path
	}
	return "/"
}

// realIP prefers the first X-Forwarded-For hop set by the Cloud Run front end.
func realIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return sanitizeString(addr, 64)
}

type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int64
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Flush keeps server-sent event streams working through the recorder.
func (r *responseRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *responseRecorder) Status() int {
	return r.status
}

func (r *responseRecorder) BytesWritten() int64 {
	return r.bytes
}
