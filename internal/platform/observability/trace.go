package observability

import (
	"encoding/binary"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/watchfix/api/internal/platform/requestctx"
)

// Cloud Run forwards "TRACE_ID/SPAN_ID;o=OPTIONS" where SPAN_ID is a decimal uint64.
const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/watchfix/api/internal/platform/observability")

// TraceMiddleware starts a server span, continuing the caller's trace from the Cloud Trace header
// or W3C traceparent, and exposes the ids through requestctx for logs and error envelopes.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if remote, ok := parseCloudTraceContext(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			} else {
				ctx = propagation.TraceContext{}.Extract(ctx, propagation.HeaderCarrier(r.Header))
			}

			ctx, span := tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r)...))
			defer span.End()

			sc := span.SpanContext()
			ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			})
			if header := formatCloudTraceHeader(sc); header != "" {
				w.Header().Set(cloudTraceHeader, header)
			}

			r = r.WithContext(ctx)
			next.ServeHTTP(w, r)

			// The pattern is only known once chi has routed the request; using it keeps
			// request ids out of span names.
			if rctx := chi.RouteContext(ctx); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					span.SetName(r.Method + " " + SanitizeRoute(pattern))
				}
			}
		})
	}
}

// parseCloudTraceContext returns a remote span context for a well-formed header.
func parseCloudTraceContext(header string) (trace.SpanContext, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanRaw, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(spanRaw)
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

// parseSpanID accepts the decimal form Cloud Trace uses and, for older proxies, 16 hex digits.
func parseSpanID(raw string) (trace.SpanID, bool) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil && n != 0 {
		var id trace.SpanID
		binary.BigEndian.PutUint64(id[:], n)
		return id, true
	}
	if len(raw) == 16 {
		if id, err := trace.SpanIDFromHex(raw); err == nil {
			return id, true
		}
	}
	return trace.SpanID{}, false
}

func formatCloudTraceHeader(sc trace.SpanContext) string {
	if !sc.IsValid() {
		return ""
	}
	spanID := sc.SpanID()
	sampled := "0"
	if sc.IsSampled() {
		sampled = "1"
	}
	return sc.TraceID().String() + "/" + strconv.FormatUint(binary.BigEndian.Uint64(spanID[:]), 10) + ";o=" + sampled
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", SanitizeMethod(r.Method)),
		attribute.String("url.scheme", scheme),
		attribute.String("url.path", SanitizeRoute(r.URL.Path)),
		attribute.String("server.address", clean(r.Host, 128)),
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", clean(ua, 256)))
	}
	return attrs
}
