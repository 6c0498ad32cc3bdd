package observability

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/southernsense/storefront/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/southernsense/storefront")

// StartSpan starts an internal span for cart, checkout and provider work.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}

// Propagator reads and writes both W3C traceparent and the Cloud Run load balancer's
// X-Cloud-Trace-Context header. traceparent wins when both are present.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(CloudTracePropagator{}, propagation.TraceContext{}, propagation.Baggage{})
}

// CloudTracePropagator implements propagation.TextMapPropagator for X-Cloud-Trace-Context
// ("TRACE_ID/SPAN_ID;o=OPTIONS", span id in decimal or hex).
type CloudTracePropagator struct{}

var _ propagation.TextMapPropagator = CloudTracePropagator{}

func (CloudTracePropagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return
	}
	carrier.Set(cloudTraceHeader, formatCloudTrace(sc))
}

func (CloudTracePropagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	sc, ok := parseCloudTrace(carrier.Get(cloudTraceHeader))
	if !ok {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

func (CloudTracePropagator) Fields() []string {
	return []string{cloudTraceHeader}
}

// TraceMiddleware copies the active server span's identifiers onto the request context for log
// correlation and echoes them in X-Cloud-Trace-Context. The span itself comes from otelhttp, which
// must wrap the router with Propagator.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sc := trace.SpanContextFromContext(ctx)
			if !sc.IsValid() {
				// Not behind otelhttp (tests, local tools): fall back to the inbound header.
				if remote, ok := parseCloudTrace(r.Header.Get(cloudTraceHeader)); ok {
					sc = remote
				}
			}
			if sc.IsValid() {
				ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
					TraceID:   sc.TraceID().String(),
					SpanID:    sc.SpanID().String(),
					Sampled:   sc.IsSampled(),
					ProjectID: projectID,
				})
				w.Header().Set(cloudTraceHeader, formatCloudTrace(sc))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SpanName formats server span names as "METHOD /path" until the route pattern is known.
func SpanName(_ string, r *http.Request) string {
	if r == nil || r.URL == nil || r.URL.Path == "" {
		return "HTTP"
	}
	return r.Method + " " + SanitizeRoute(r.URL.Path)
}

func parseCloudTrace(header string) (trace.SpanContext, bool) {
	header = strings.TrimSpace(header)
	traceHex, rest, found := strings.Cut(header, "/")
	if !found || len(traceHex) != 32 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}

	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(spanPart)
	if !ok {
		return trace.SpanContext{}, false
	}

	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

// parseSpanID accepts the decimal form Google front ends send and the hex form otel emits.
func parseSpanID(value string) (trace.SpanID, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return trace.SpanID{}, false
	}
	if num, err := strconv.ParseUint(value, 10, 64); err == nil && num != 0 {
		var spanID trace.SpanID
		binary.BigEndian.PutUint64(spanID[:], num)
		return spanID, true
	}
	if len(value) <= 16 {
		spanID, err := trace.SpanIDFromHex(strings.Repeat("0", 16-len(value)) + value)
		if err == nil && spanID.IsValid() {
			return spanID, true
		}
	}
	return trace.SpanID{}, false
}

func formatCloudTrace(sc trace.SpanContext) string {
	option := 0
	if sc.IsSampled() {
		option = 1
	}
	spanID := sc.SpanID()
	return fmt.Sprintf("%s/%d;o=%d", sc.TraceID(), binary.BigEndian.Uint64(spanID[:]), option)
}
