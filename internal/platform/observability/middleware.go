package observability

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MosquitoCurtains/new-sub007/internal/platform/httpx"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/requestctx"
)

// InjectLoggerMiddleware puts the base logger on every request context.
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

// RequestLoggerMiddleware scopes the request logger with request and trace fields, then logs one
// "request completed" line per request and records it in metrics when supplied.
func RequestLoggerMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := requestctx.Logger(ctx).With(requestFields(r)...)
			r = r.WithContext(requestctx.WithLogger(ctx, logger))

			recorder := &responseRecorder{ResponseWriter: w}
			summary := requestSummary{start: time.Now(), method: SanitizeMethod(r.Method)}
			defer func() {
				rec := recover()
				summary.panicked = rec != nil
				// chi fills the route pattern in while routing, so it is only complete now.
				summary.route = SanitizeRoute(routePattern(r))
				summary.status = recorder.Status()
				summary.bytes = recorder.bytes
				summary.finish(r, logger, metrics)
				if rec != nil {
					panic(rec)
				}
			}()
			next.ServeHTTP(recorder, r)
		})
	}
}

type requestSummary struct {
	start    time.Time
	method   string
	route    string
	status   int
	bytes    int64
	panicked bool
}

func (s requestSummary) finish(r *http.Request, logger *zap.Logger, metrics *Metrics) {
	ctx := r.Context()
	if s.panicked && s.status < http.StatusInternalServerError {
		s.status = http.StatusInternalServerError
	}

	span := trace.SpanFromContext(ctx)
	span.SetName(s.method + " " + s.route)
	span.SetAttributes(semconv.HTTPResponseStatusCode(s.status), semconv.HTTPRoute(s.route))
	if s.status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(s.status))
	}
	if metrics != nil {
		metrics.RecordRequest(ctx, s.route, s.method, s.status)
	}

	level := zapcore.InfoLevel
	switch {
	case s.status >= http.StatusInternalServerError:
		level = zapcore.ErrorLevel
	case s.status >= http.StatusBadRequest:
		level = zapcore.WarnLevel
	}
	if entry := logger.Check(level, "request completed"); entry != nil {
		entry.Write(
			zap.String("route", s.route),
			zap.Int("status", s.status),
			zap.Duration("latency", time.Since(s.start)),
			zap.Int64("bytes", s.bytes),
		)
	}
}

func requestFields(r *http.Request) []zap.Field {
	ctx := r.Context()
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("method", SanitizeMethod(r.Method)),
	}
	if info, ok := requestctx.Trace(ctx); ok {
		fields = append(fields, zap.String("trace_id", info.TraceID))
		if info.ProjectID != "" && info.TraceID != "" {
			fields = append(fields, zap.String("logging.googleapis.com/trace",
				fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)))
		}
	}
	if ip := remoteIP(r); ip != "" {
		fields = append(fields, zap.String("remote_ip", ip))
	}
	return fields
}

// RecoveryMiddleware turns panics into a logged stack trace and a 500 error envelope.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func remoteIP(r *http.Request) string {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return sanitizeString(addr, 64)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Status returns the first status written, or 200 when the handler wrote nothing.
func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
