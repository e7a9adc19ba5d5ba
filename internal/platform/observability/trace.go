package observability

import (
	"encoding/binary"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MosquitoCurtains/new-sub007/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/MosquitoCurtains/new-sub007/internal/platform/observability")

// cloudTraceContext is the parsed form of "TRACE_ID/SPAN_ID;o=OPTIONS".
type cloudTraceContext struct {
	traceID trace.TraceID
	spanID  trace.SpanID
	sampled bool
}

// parseCloudTraceContext accepts a 32-digit hex trace ID and a non-zero span ID, either decimal as
// Cloud Trace sends it or 16-digit hex as some clients copy it from W3C headers.
func parseCloudTraceContext(header string) (cloudTraceContext, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found || len(traceHex) != 32 {
		return cloudTraceContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return cloudTraceContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(strings.TrimSpace(spanPart))
	if !ok {
		return cloudTraceContext{}, false
	}
	return cloudTraceContext{traceID: traceID, spanID: spanID, sampled: sampledOption(options)}, true
}

func parseSpanID(value string) (trace.SpanID, bool) {
	var spanID trace.SpanID
	if num, err := strconv.ParseUint(value, 10, 64); err == nil {
		if num == 0 {
			return spanID, false
		}
		binary.BigEndian.PutUint64(spanID[:], num)
		return spanID, true
	}
	if len(value) != 16 {
		return spanID, false
	}
	spanID, err := trace.SpanIDFromHex(value)
	return spanID, err == nil
}

func sampledOption(options string) bool {
	for _, option := range strings.Split(options, ";") {
		if key, value, ok := strings.Cut(strings.TrimSpace(option), "="); ok && key == "o" {
			return value == "1"
		}
	}
	return false
}

func (c cloudTraceContext) remote() trace.SpanContext {
	flags := trace.TraceFlags(0)
	if c.sampled {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    c.traceID,
		SpanID:     c.spanID,
		TraceFlags: flags,
		Remote:     true,
	})
}

// header renders the span context back into the Cloud Trace format with a decimal span ID.
func header(spanCtx trace.SpanContext) string {
	if !spanCtx.IsValid() {
		return ""
	}
	spanID := spanCtx.SpanID()
	option := "0"
	if spanCtx.IsSampled() {
		option = "1"
	}
	return spanCtx.TraceID().String() + "/" + strconv.FormatUint(binary.BigEndian.Uint64(spanID[:]), 10) + ";o=" + option
}

// TraceMiddleware continues the caller's Cloud Trace context, starts a server span and stores the
// trace metadata on the request context. The span is renamed to the chi route pattern once routing
// completes (see RequestLoggerMiddleware).
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if parsed, ok := parseCloudTraceContext(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, parsed.remote())
			}

			ctx, span := tracer.Start(ctx, "HTTP "+SanitizeMethod(r.Method),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r)...),
			)
			defer span.End()

			spanCtx := span.SpanContext()
			ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
				TraceID:   spanCtx.TraceID().String(),
				SpanID:    spanCtx.SpanID().String(),
				Sampled:   spanCtx.IsSampled(),
				ProjectID: projectID,
			})
			if value := header(spanCtx); value != "" {
				w.Header().Set(cloudTraceHeader, value)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
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
	}
	if r.Host != "" {
		attrs = append(attrs, attribute.String("server.address", r.Host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", sanitizeString(ua, defaultStringLimit)))
	}
	return attrs
}
